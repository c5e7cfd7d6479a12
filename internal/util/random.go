// Package util provides utility functions shared across followcall components.
package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; these IDs are identifiers, not secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateCallID generates a unique schedule-item ID with "call_" prefix.
func GenerateCallID() string {
	return GenerateRandomID("call_", 32)
}

// GenerateRecordID generates a unique call-record ID with "rec_" prefix.
func GenerateRecordID() string {
	return GenerateRandomID("rec_", 32)
}

// GenerateRoomName generates a unique execution-session room name.
func GenerateRoomName() string {
	return GenerateRandomID("room_", 16)
}

// GenerateJobID generates a unique queue-job ID with "job_" prefix.
func GenerateJobID() string {
	return GenerateRandomID("job_", 32)
}
