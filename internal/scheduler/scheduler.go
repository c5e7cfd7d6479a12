// Package scheduler generates follow-up calls from discharge orders and
// records call outcomes against the store.
//
// Generation expands each selected order's timing spec into schedule items
// and always adds one wellness check 18 hours after discharge. Outcome
// recording applies the claim-holder's result through a conditional status
// transition and reschedules retryable failures with the category-specific
// backoff.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carebridge/followcall/internal/callresult"
	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/orders"
	"github.com/carebridge/followcall/internal/store"
	"github.com/carebridge/followcall/internal/timeutil"
)

// wellnessCheckOffset is how long after discharge the standing wellness-check
// call happens, regardless of which orders were selected.
const wellnessCheckOffset = 18 * time.Hour

// wellnessCheckPriority is informational only; ordering stays time-based.
const wellnessCheckPriority = 2

// CallScheduler turns discharge orders into scheduled calls and folds call
// results back into item state.
type CallScheduler struct {
	store  store.CallStore
	orders *orders.Registry
}

// NewCallScheduler creates a scheduler over an explicit store handle and
// order registry.
func NewCallScheduler(st store.CallStore, registry *orders.Registry) *CallScheduler {
	return &CallScheduler{store: st, orders: registry}
}

// GenerateCallsForPatient builds the schedule items for a patient's selected
// discharge orders, anchored on the discharge time, plus the standing
// wellness check. Items are returned unpersisted; unknown order ids and
// orders that generate no calls are skipped with a log line.
func (s *CallScheduler) GenerateCallsForPatient(patientID, patientPhone, patientName string, dischargeTime time.Time, selectedOrderIDs []string) []*models.CallScheduleItem {
	dischargeTime = timeutil.ToReference(dischargeTime)
	var items []*models.CallScheduleItem

	for _, orderID := range selectedOrderIDs {
		order, ok := s.orders.Get(orderID)
		if !ok {
			slog.Warn("CallScheduler.GenerateCallsForPatient: unknown discharge order", "order_id", orderID, "patient", patientID)
			continue
		}
		if !order.GeneratesCalls {
			continue
		}
		tmpl := order.CallTemplate
		prompt := buildPrompt(tmpl.PromptTemplate, patientName, order.Instructions)
		for _, at := range ParseTimingSpec(tmpl.Timing, dischargeTime) {
			items = append(items, &models.CallScheduleItem{
				PatientID:               patientID,
				PatientPhone:            patientPhone,
				ScheduledTime:           at,
				CallType:                tmpl.CallType,
				Priority:                tmpl.Priority,
				LLMPrompt:               prompt,
				Status:                  models.CallStatusPending,
				MaxAttempts:             models.DefaultMaxAttempts,
				RelatedDischargeOrderID: order.ID,
			})
		}
	}

	items = append(items, s.wellnessCheckItem(patientID, patientPhone, patientName, dischargeTime))
	slog.Info("CallScheduler.GenerateCallsForPatient: generated calls",
		"patient", patientID, "orders", len(selectedOrderIDs), "calls", len(items))
	return items
}

// wellnessCheckItem builds the call every patient gets 18 hours after discharge.
func (s *CallScheduler) wellnessCheckItem(patientID, patientPhone, patientName string, dischargeTime time.Time) *models.CallScheduleItem {
	return &models.CallScheduleItem{
		PatientID:     patientID,
		PatientPhone:  patientPhone,
		ScheduledTime: dischargeTime.Add(wellnessCheckOffset),
		CallType:      models.CallTypeWellnessCheck,
		Priority:      wellnessCheckPriority,
		LLMPrompt: fmt.Sprintf("You are calling %s for a post-discharge wellness check. "+
			"Ask how they are feeling, whether they have any new or worsening symptoms, "+
			"and whether they have questions about their discharge instructions.", patientName),
		Status:      models.CallStatusPending,
		MaxAttempts: models.DefaultMaxAttempts,
	}
}

// GenerateAndSchedule generates a patient's calls and persists them in one
// store transaction. Returns the items and the number persisted.
func (s *CallScheduler) GenerateAndSchedule(ctx context.Context, patientID, patientPhone, patientName string, dischargeTime time.Time, selectedOrderIDs []string) ([]*models.CallScheduleItem, int) {
	items := s.GenerateCallsForPatient(patientID, patientPhone, patientName, dischargeTime, selectedOrderIDs)
	return items, s.BatchScheduleCalls(ctx, items)
}

// ScheduleCall persists one item. Storage errors are converted to a false
// return (and logged) so batch generation can partially succeed without
// crashing the caller.
func (s *CallScheduler) ScheduleCall(ctx context.Context, item *models.CallScheduleItem) bool {
	if err := s.store.ScheduleCall(ctx, item); err != nil {
		slog.Error("CallScheduler.ScheduleCall failed", "id", item.ID, "patient", item.PatientID, "error", err)
		return false
	}
	return true
}

// BatchScheduleCalls persists items as a single all-or-nothing transaction
// and returns the number persisted (zero when the transaction failed).
func (s *CallScheduler) BatchScheduleCalls(ctx context.Context, items []*models.CallScheduleItem) int {
	count, err := s.store.BatchScheduleCalls(ctx, items)
	if err != nil {
		slog.Error("CallScheduler.BatchScheduleCalls failed", "count", len(items), "error", err)
		return 0
	}
	return count
}

// UpdateCallStatus writes a status and notes unconditionally, with the
// default backoff applied if the change makes the item retry-eligible.
func (s *CallScheduler) UpdateCallStatus(ctx context.Context, id string, status models.CallStatus, notes string) bool {
	if err := s.store.UpdateCallStatus(ctx, id, status, notes, 0); err != nil {
		slog.Error("CallScheduler.UpdateCallStatus failed", "id", id, "status", status, "error", err)
		return false
	}
	return true
}

// SaveCallRecord persists an attempt's audit record. Storage errors become a
// false return; losing an audit record must not fail the call workflow.
func (s *CallScheduler) SaveCallRecord(ctx context.Context, rec *models.CallRecord) bool {
	if err := s.store.SaveCallRecord(ctx, rec); err != nil {
		slog.Error("CallScheduler.SaveCallRecord failed", "id", rec.ID, "error", err)
		return false
	}
	return true
}

// RecordOutcome folds one attempt's result into the schedule item. The
// transition is conditional on the item still being in_progress; a false
// condition means another worker already resolved it and this call quietly
// does nothing. Retryable failures under the attempt budget go back to
// pending at now + the category backoff for this attempt, re-indexed in the
// same atomic step as the status transition.
func (s *CallScheduler) RecordOutcome(ctx context.Context, item *models.CallScheduleItem, result *callresult.CallExecutionResult) error {
	attemptNumber := item.AttemptCount + 1
	next := statusForResult(result)
	notes := callresult.Summary(result)

	if result.Success {
		applied, err := s.store.UpdateCallStatusAtomic(ctx, item.ID, models.CallStatusInProgress, next, notes)
		if err != nil {
			return fmt.Errorf("failed to record outcome for %s: %w", item.ID, err)
		}
		if !applied {
			slog.Debug("CallScheduler.RecordOutcome: item no longer in progress, skipping", "id", item.ID)
			return nil
		}
		slog.Info("CallScheduler.RecordOutcome: resolved",
			"id", item.ID, "status", next, "attempt", attemptNumber, "category", result.Category)
		return nil
	}

	var retryAt time.Time
	var delay time.Duration
	if callresult.ShouldRetry(result, attemptNumber, item.MaxAttempts) {
		delay = result.DelayForAttempt(attemptNumber)
		retryAt = timeutil.Now().Add(delay)
	}
	applied, err := s.store.ResolveAttemptAtomic(ctx, item.ID, next, notes, retryAt)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", item.ID, err)
	}
	if !applied {
		slog.Debug("CallScheduler.RecordOutcome: item no longer in progress, skipping", "id", item.ID)
		return nil
	}

	if !retryAt.IsZero() {
		slog.Info("CallScheduler.RecordOutcome: retry scheduled",
			"id", item.ID, "attempt", attemptNumber, "max", item.MaxAttempts,
			"category", result.Category, "delay", delay)
	} else {
		slog.Info("CallScheduler.RecordOutcome: resolved",
			"id", item.ID, "status", next, "attempt", attemptNumber, "category", result.Category)
	}
	return nil
}

// statusForResult maps a classified result onto the item state machine.
func statusForResult(result *callresult.CallExecutionResult) models.CallStatus {
	if result.Success {
		return models.CallStatusCompleted
	}
	// SIP 408 is a ring-out with no pickup; everything else is a failure.
	if result.Category == callresult.CategorySIPError && result.SIPStatusCode == "408" {
		return models.CallStatusNoAnswer
	}
	return models.CallStatusFailed
}

// buildPrompt substitutes the patient name and order instructions into a
// prompt template.
func buildPrompt(template, patientName, instructions string) string {
	out := strings.ReplaceAll(template, "{patient_name}", patientName)
	return strings.ReplaceAll(out, "{discharge_order}", instructions)
}
