// Package callresult classifies the outcome of one outbound call attempt.
//
// It defines the CallExecutionResult value passed from the call executor to
// the scheduler, the SIP status classification table, and the per-category
// retry backoff tables. Everything here is pure value construction, no I/O.
package callresult

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies the failure (or success) class of a call attempt.
type Category string

const (
	// CategorySuccess indicates the call completed normally.
	CategorySuccess Category = "success"
	// CategoryNetworkError indicates a transport-level failure reaching the platform.
	CategoryNetworkError Category = "network_error"
	// CategorySIPError indicates a SIP protocol failure reported by the platform.
	CategorySIPError Category = "sip_error"
	// CategorySystemError indicates an unexpected internal failure.
	CategorySystemError Category = "system_error"
	// CategoryPatientError indicates the patient declined or was unreachable.
	CategoryPatientError Category = "patient_error"
)

// Retryability describes whether another attempt should be made.
type Retryability string

const (
	// Retryable indicates the attempt may be repeated.
	Retryable Retryability = "retryable"
	// NotRetryable indicates repeating the attempt cannot succeed.
	NotRetryable Retryability = "not_retryable"
	// MaxAttemptsReached indicates the attempt budget is exhausted.
	MaxAttemptsReached Retryability = "max_attempts_reached"
)

// CallExecutionResult is the transient outcome of a single call attempt.
// It is constructed fresh per attempt and consumed once by the scheduler;
// its fields are folded into the call record, never stored verbatim.
type CallExecutionResult struct {
	Success             bool
	Category            Category
	Retryability        Retryability
	SIPStatusCode       string
	SIPStatusText       string
	RoomName            string
	ParticipantIdentity string
	Duration            time.Duration
	ErrorDetail         string
	RetryDelay          time.Duration
}

// sipStatus maps known SIP response codes to a human-readable explanation and
// a retryability flag. Codes meaning "not found", "gone", or "declined" are
// permanent; busy and timeout flavors are worth retrying.
var sipStatus = map[string]struct {
	message   string
	retryable bool
}{
	"404": {"The dialed number was not found", false},
	"408": {"The call timed out with no answer", true},
	"410": {"The dialed number is gone and no longer in service", false},
	"486": {"The line is busy", true},
	"487": {"The call was cancelled before it was answered", true},
	"503": {"The telephony service is temporarily unavailable", true},
	"600": {"The line is busy everywhere", true},
	"603": {"The call was declined by the recipient", false},
}

// ClassifySIPError returns a human sentence and a retryability flag for a SIP
// status code. Unrecognized codes default to retryable.
func ClassifySIPError(statusCode string) (string, bool) {
	if s, ok := sipStatus[statusCode]; ok {
		return s.message, s.retryable
	}
	return fmt.Sprintf("SIP error %s", statusCode), true
}

// Per-category backoff tables, indexed by attempt number. The delay plateaus
// at the final entry rather than growing unbounded.
var retryDelays = map[Category][]time.Duration{
	CategoryNetworkError: {5 * time.Minute, 15 * time.Minute, 30 * time.Minute},
	CategorySIPError:     {2 * time.Minute, 10 * time.Minute, 20 * time.Minute},
	CategoryPatientError: {10 * time.Minute, 30 * time.Minute, 60 * time.Minute},
	CategorySystemError:  {1 * time.Minute, 5 * time.Minute, 15 * time.Minute},
}

// RetryDelay returns the backoff delay before the next attempt, given how
// many attempts have already been made. Categories without their own table
// use the system_error table.
func RetryDelay(category Category, attemptCount int) time.Duration {
	table, ok := retryDelays[category]
	if !ok {
		table = retryDelays[CategorySystemError]
	}
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(table) {
		idx = len(table) - 1
	}
	return table[idx]
}

// ShouldRetry reports whether another attempt should be scheduled. The
// attempt budget always wins over retryability.
func ShouldRetry(result *CallExecutionResult, attemptCount, maxAttempts int) bool {
	if attemptCount >= maxAttempts {
		return false
	}
	return result.Retryability == Retryable
}

// DelayForAttempt returns the category-specific backoff for this result.
func (r *CallExecutionResult) DelayForAttempt(attemptCount int) time.Duration {
	if r.RetryDelay > 0 {
		return r.RetryDelay
	}
	return RetryDelay(r.Category, attemptCount)
}

// SuccessResult builds the result for a completed call.
func SuccessResult(roomName, participantIdentity string, duration time.Duration) *CallExecutionResult {
	return &CallExecutionResult{
		Success:             true,
		Category:            CategorySuccess,
		Retryability:        NotRetryable,
		RoomName:            roomName,
		ParticipantIdentity: participantIdentity,
		Duration:            duration,
	}
}

// NetworkError builds a retryable result for a transport failure.
func NetworkError(err error) *CallExecutionResult {
	return &CallExecutionResult{
		Category:     CategoryNetworkError,
		Retryability: Retryable,
		ErrorDetail:  err.Error(),
	}
}

// SIPError builds a result for a platform-reported SIP failure, classifying
// permanent-failure codes as not retryable.
func SIPError(statusCode, statusText string) *CallExecutionResult {
	message, retryable := ClassifySIPError(statusCode)
	retryability := Retryable
	if !retryable {
		retryability = NotRetryable
	}
	detail := statusText
	if detail == "" {
		detail = message
	}
	return &CallExecutionResult{
		Category:      CategorySIPError,
		Retryability:  retryability,
		SIPStatusCode: statusCode,
		SIPStatusText: statusText,
		ErrorDetail:   detail,
	}
}

// SystemError builds a retryable result for an unexpected internal failure.
func SystemError(err error) *CallExecutionResult {
	return &CallExecutionResult{
		Category:     CategorySystemError,
		Retryability: Retryable,
		ErrorDetail:  err.Error(),
	}
}

// PatientError builds a result for a patient-side outcome such as an explicit
// decline mid-call.
func PatientError(detail string, retryable bool) *CallExecutionResult {
	retryability := Retryable
	if !retryable {
		retryability = NotRetryable
	}
	return &CallExecutionResult{
		Category:     CategoryPatientError,
		Retryability: retryability,
		ErrorDetail:  detail,
	}
}

// Summary renders an operator-facing sentence describing the result.
func Summary(r *CallExecutionResult) string {
	if r.Success {
		if r.Duration > 0 {
			return fmt.Sprintf("Call completed successfully in %s", r.Duration.Round(time.Second))
		}
		return "Call completed successfully"
	}
	if r.Category == CategorySIPError && r.SIPStatusCode != "" {
		message, _ := ClassifySIPError(r.SIPStatusCode)
		if r.ErrorDetail != "" && r.ErrorDetail != message {
			return fmt.Sprintf("%s (%s)", message, r.ErrorDetail)
		}
		return message
	}
	label := titleCase(string(r.Category))
	if r.ErrorDetail != "" {
		return fmt.Sprintf("%s: %s", label, r.ErrorDetail)
	}
	return label
}

// titleCase turns a snake_case category name into a readable label.
func titleCase(s string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
