package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(32)
	if len(hex) != 32 {
		t.Errorf("length = %d, want 32", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("non-hex character %q in %s", c, hex)
		}
	}
	if GenerateRandomHex(0) != "" || GenerateRandomHex(-1) != "" {
		t.Error("non-positive length should yield empty string")
	}
}

func TestGeneratedIDPrefixes(t *testing.T) {
	cases := []struct {
		id     string
		prefix string
		length int
	}{
		{GenerateCallID(), "call_", 37},
		{GenerateRecordID(), "rec_", 36},
		{GenerateRoomName(), "room_", 21},
		{GenerateJobID(), "job_", 36},
	}
	for _, tc := range cases {
		if !strings.HasPrefix(tc.id, tc.prefix) {
			t.Errorf("id %s missing prefix %s", tc.id, tc.prefix)
		}
		if len(tc.id) != tc.length {
			t.Errorf("id %s length = %d, want %d", tc.id, len(tc.id), tc.length)
		}
	}
}

func TestGenerateCallIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateCallID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"true", true}, {"1", true}, {"YES", true}, {"on", true},
		{"false", false}, {"0", false}, {"No", false}, {"off", false},
		{"maybe", true}, // invalid keeps the default
	}
	for _, tc := range cases {
		t.Setenv("FOLLOWCALL_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("FOLLOWCALL_TEST_BOOL", true); got != tc.want {
			t.Errorf("ParseBoolEnv(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
	if !ParseBoolEnv("FOLLOWCALL_TEST_BOOL_UNSET", true) {
		t.Error("unset variable should return the default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("FOLLOWCALL_TEST_INT", " 42 ")
	if got := ParseIntEnv("FOLLOWCALL_TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("FOLLOWCALL_TEST_INT", "not-a-number")
	if got := ParseIntEnv("FOLLOWCALL_TEST_INT", 7); got != 7 {
		t.Errorf("invalid value should return the default, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("FOLLOWCALL_TEST_DUR", "90s")
	if got := ParseDurationEnv("FOLLOWCALL_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}
	t.Setenv("FOLLOWCALL_TEST_DUR", "ninety seconds")
	if got := ParseDurationEnv("FOLLOWCALL_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("invalid value should return the default, got %v", got)
	}
}
