// Package models defines the core data structures for followcall.
//
// It includes the schedule item (a planned future outbound call), the call
// record (the audit artifact of one execution attempt), and the discharge
// order templates calls are generated from. All types serialize to and from
// flat string maps so they can live in store hashes.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// CallType describes the purpose of an outbound call.
type CallType string

const (
	// CallTypeDischargeReminder reminds the patient of a discharge instruction.
	CallTypeDischargeReminder CallType = "discharge_reminder"
	// CallTypeWellnessCheck is the general post-discharge wellness check.
	CallTypeWellnessCheck CallType = "wellness_check"
	// CallTypeMedicationReminder reminds the patient to take medication.
	CallTypeMedicationReminder CallType = "medication_reminder"
	// CallTypeFollowUp follows up on a prior call or appointment.
	CallTypeFollowUp CallType = "follow_up"
	// CallTypeUrgent is an operator-initiated urgent contact.
	CallTypeUrgent CallType = "urgent"
)

// IsValidCallType checks if the given call type is supported.
func IsValidCallType(ct CallType) bool {
	switch ct {
	case CallTypeDischargeReminder, CallTypeWellnessCheck, CallTypeMedicationReminder, CallTypeFollowUp, CallTypeUrgent:
		return true
	default:
		return false
	}
}

// CallStatus represents the lifecycle state of a schedule item or call record.
type CallStatus string

const (
	// CallStatusPending indicates the call is waiting to become due.
	CallStatusPending CallStatus = "pending"
	// CallStatusInProgress indicates a worker has claimed the call.
	CallStatusInProgress CallStatus = "in_progress"
	// CallStatusCompleted indicates the call finished successfully.
	CallStatusCompleted CallStatus = "completed"
	// CallStatusFailed indicates the call attempt failed.
	CallStatusFailed CallStatus = "failed"
	// CallStatusCancelled indicates an operator cancelled the call.
	CallStatusCancelled CallStatus = "cancelled"
	// CallStatusNoAnswer indicates the patient did not pick up.
	CallStatusNoAnswer CallStatus = "no_answer"
	// CallStatusVoicemail indicates the call reached voicemail.
	CallStatusVoicemail CallStatus = "voicemail"
)

// IsValidCallStatus checks if the given status is supported.
func IsValidCallStatus(cs CallStatus) bool {
	switch cs {
	case CallStatusPending, CallStatusInProgress, CallStatusCompleted, CallStatusFailed,
		CallStatusCancelled, CallStatusNoAnswer, CallStatusVoicemail:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the item's workflow outright.
// Failed and no_answer are not terminal here because a retry-eligible item
// returns to pending.
func (cs CallStatus) IsTerminal() bool {
	return cs == CallStatusCompleted || cs == CallStatusCancelled
}

// Error variables for validation and lookup failures.
var (
	ErrMissingPatientID       = errors.New("patient_id is required")
	ErrMissingPatientPhone    = errors.New("patient_phone is required")
	ErrMissingScheduledTime   = errors.New("scheduled_time is required")
	ErrInvalidCallType        = errors.New("invalid call type")
	ErrInvalidCallStatus      = errors.New("invalid call status")
	ErrMissingCallTemplate    = errors.New("call_template is required when generates_calls is true")
	ErrUnexpectedCallTemplate = errors.New("call_template must be empty when generates_calls is false")
	ErrIncompleteCallTemplate = errors.New("call_template requires timing, call_type, priority, and prompt_template")
	ErrCallNotFound           = errors.New("scheduled call not found")
)

// DefaultMaxAttempts is the attempt budget applied to new schedule items.
const DefaultMaxAttempts = 3

// CallScheduleItem is a planned future outbound call.
type CallScheduleItem struct {
	ID                      string            `json:"id"`
	PatientID               string            `json:"patient_id"`
	PatientPhone            string            `json:"patient_phone"`
	ScheduledTime           time.Time         `json:"scheduled_time"`
	CallType                CallType          `json:"call_type"`
	Priority                int               `json:"priority"` // informational only, ordering is by time
	LLMPrompt               string            `json:"llm_prompt"`
	Status                  CallStatus        `json:"status"`
	MaxAttempts             int               `json:"max_attempts"`
	AttemptCount            int               `json:"attempt_count"`
	RelatedDischargeOrderID string            `json:"related_discharge_order_id,omitempty"`
	StatusNotes             string            `json:"status_notes,omitempty"`
	Metadata                map[string]string `json:"metadata,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
}

// Validate checks the fields required to execute the call.
func (c *CallScheduleItem) Validate() error {
	if c.PatientID == "" {
		return ErrMissingPatientID
	}
	if c.PatientPhone == "" {
		return ErrMissingPatientPhone
	}
	if c.ScheduledTime.IsZero() {
		return ErrMissingScheduledTime
	}
	if !IsValidCallType(c.CallType) {
		return ErrInvalidCallType
	}
	if !IsValidCallStatus(c.Status) {
		return ErrInvalidCallStatus
	}
	return nil
}

// CanRetry reports whether the item is still eligible for another attempt.
func (c *CallScheduleItem) CanRetry() bool {
	if c.AttemptCount >= c.MaxAttempts {
		return false
	}
	return c.Status == CallStatusFailed || c.Status == CallStatusNoAnswer
}

// ToHash flattens the item into a string map suitable for a store hash.
// Timestamps are RFC 3339 in the reference zone; metadata is JSON-encoded.
func (c *CallScheduleItem) ToHash() (map[string]string, error) {
	h := map[string]string{
		"id":             c.ID,
		"patient_id":     c.PatientID,
		"patient_phone":  c.PatientPhone,
		"scheduled_time": c.ScheduledTime.UTC().Format(time.RFC3339Nano),
		"call_type":      string(c.CallType),
		"priority":       strconv.Itoa(c.Priority),
		"llm_prompt":     c.LLMPrompt,
		"status":         string(c.Status),
		"max_attempts":   strconv.Itoa(c.MaxAttempts),
		"attempt_count":  strconv.Itoa(c.AttemptCount),
		"created_at":     c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":     c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.RelatedDischargeOrderID != "" {
		h["related_discharge_order_id"] = c.RelatedDischargeOrderID
	}
	if c.StatusNotes != "" {
		h["status_notes"] = c.StatusNotes
	}
	if len(c.Metadata) > 0 {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		h["metadata"] = string(meta)
	}
	return h, nil
}

// CallScheduleItemFromHash rebuilds an item from a store hash.
func CallScheduleItemFromHash(h map[string]string) (*CallScheduleItem, error) {
	if len(h) == 0 {
		return nil, ErrCallNotFound
	}
	c := &CallScheduleItem{
		ID:                      h["id"],
		PatientID:               h["patient_id"],
		PatientPhone:            h["patient_phone"],
		CallType:                CallType(h["call_type"]),
		LLMPrompt:               h["llm_prompt"],
		Status:                  CallStatus(h["status"]),
		RelatedDischargeOrderID: h["related_discharge_order_id"],
		StatusNotes:             h["status_notes"],
	}
	var err error
	if c.ScheduledTime, err = parseHashTime(h, "scheduled_time"); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseHashTime(h, "created_at"); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseHashTime(h, "updated_at"); err != nil {
		return nil, err
	}
	if c.Priority, err = parseHashInt(h, "priority"); err != nil {
		return nil, err
	}
	if c.MaxAttempts, err = parseHashInt(h, "max_attempts"); err != nil {
		return nil, err
	}
	if c.AttemptCount, err = parseHashInt(h, "attempt_count"); err != nil {
		return nil, err
	}
	if meta, ok := h["metadata"]; ok && meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return c, nil
}

// CallRecord is the audit trail of one execution attempt against a schedule item.
type CallRecord struct {
	ID                       string            `json:"id"`
	CallScheduleItemID       string            `json:"call_schedule_item_id"`
	PatientID                string            `json:"patient_id"`
	StartedAt                *time.Time        `json:"started_at,omitempty"`
	EndedAt                  *time.Time        `json:"ended_at,omitempty"`
	Status                   CallStatus        `json:"status"`
	RoomName                 string            `json:"room_name,omitempty"`
	ParticipantIdentity      string            `json:"participant_identity,omitempty"`
	ErrorMessage             string            `json:"error_message,omitempty"`
	OutcomeNotes             string            `json:"outcome_notes,omitempty"`
	RetryCount               int               `json:"retry_count"`
	PatientResponses         map[string]string `json:"patient_responses,omitempty"`
	AdditionalCallsScheduled []string          `json:"additional_calls_scheduled,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// DurationSeconds derives the call duration. It is nil unless both started_at
// and ended_at are present; it is never stored directly.
func (r *CallRecord) DurationSeconds() *float64 {
	if r.StartedAt == nil || r.EndedAt == nil {
		return nil
	}
	d := r.EndedAt.Sub(*r.StartedAt).Seconds()
	return &d
}

// ToHash flattens the record into a string map suitable for a store hash.
func (r *CallRecord) ToHash() (map[string]string, error) {
	h := map[string]string{
		"id":                    r.ID,
		"call_schedule_item_id": r.CallScheduleItemID,
		"patient_id":            r.PatientID,
		"status":                string(r.Status),
		"retry_count":           strconv.Itoa(r.RetryCount),
		"created_at":            r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":            r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.StartedAt != nil {
		h["started_at"] = r.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.EndedAt != nil {
		h["ended_at"] = r.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.RoomName != "" {
		h["room_name"] = r.RoomName
	}
	if r.ParticipantIdentity != "" {
		h["participant_identity"] = r.ParticipantIdentity
	}
	if r.ErrorMessage != "" {
		h["error_message"] = r.ErrorMessage
	}
	if r.OutcomeNotes != "" {
		h["outcome_notes"] = r.OutcomeNotes
	}
	if len(r.PatientResponses) > 0 {
		resp, err := json.Marshal(r.PatientResponses)
		if err != nil {
			return nil, fmt.Errorf("failed to encode patient_responses: %w", err)
		}
		h["patient_responses"] = string(resp)
	}
	if len(r.AdditionalCallsScheduled) > 0 {
		extra, err := json.Marshal(r.AdditionalCallsScheduled)
		if err != nil {
			return nil, fmt.Errorf("failed to encode additional_calls_scheduled: %w", err)
		}
		h["additional_calls_scheduled"] = string(extra)
	}
	return h, nil
}

// CallRecordFromHash rebuilds a record from a store hash.
func CallRecordFromHash(h map[string]string) (*CallRecord, error) {
	if len(h) == 0 {
		return nil, ErrCallNotFound
	}
	r := &CallRecord{
		ID:                  h["id"],
		CallScheduleItemID:  h["call_schedule_item_id"],
		PatientID:           h["patient_id"],
		Status:              CallStatus(h["status"]),
		RoomName:            h["room_name"],
		ParticipantIdentity: h["participant_identity"],
		ErrorMessage:        h["error_message"],
		OutcomeNotes:        h["outcome_notes"],
	}
	var err error
	if r.CreatedAt, err = parseHashTime(h, "created_at"); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseHashTime(h, "updated_at"); err != nil {
		return nil, err
	}
	if r.RetryCount, err = parseHashInt(h, "retry_count"); err != nil {
		return nil, err
	}
	if v, ok := h["started_at"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		t = t.UTC()
		r.StartedAt = &t
	}
	if v, ok := h["ended_at"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		t = t.UTC()
		r.EndedAt = &t
	}
	if v, ok := h["patient_responses"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &r.PatientResponses); err != nil {
			return nil, fmt.Errorf("failed to decode patient_responses: %w", err)
		}
	}
	if v, ok := h["additional_calls_scheduled"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &r.AdditionalCallsScheduled); err != nil {
			return nil, fmt.Errorf("failed to decode additional_calls_scheduled: %w", err)
		}
	}
	return r, nil
}

func parseHashTime(h map[string]string, key string) (time.Time, error) {
	v, ok := h[key]
	if !ok || v == "" {
		return time.Time{}, fmt.Errorf("hash field %s is missing", key)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return t.UTC(), nil
}

func parseHashInt(h map[string]string, key string) (int, error) {
	v, ok := h[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return n, nil
}
