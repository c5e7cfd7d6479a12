package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carebridge/followcall/internal/archive"
	"github.com/carebridge/followcall/internal/callresult"
	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/scheduler"
	"github.com/carebridge/followcall/internal/store"
	"github.com/carebridge/followcall/internal/timeutil"
	"github.com/carebridge/followcall/internal/util"
)

// Executor runs one call attempt; satisfied by executor.CallExecutor.
type Executor interface {
	Execute(ctx context.Context, item *models.CallScheduleItem, rec *models.CallRecord) *callresult.CallExecutionResult
}

// ExecuteCallHandler builds the handler for execute_call jobs: load the
// claimed item, run the call, write the audit record, and record the outcome
// through the scheduler. The archive copy is best-effort and may be nil.
func ExecuteCallHandler(st store.CallStore, sched *scheduler.CallScheduler, exec Executor, arch archive.Archive) JobHandler {
	return func(ctx context.Context, job *store.CallJob) error {
		item, err := st.GetCall(ctx, job.CallScheduleItemID)
		if err != nil {
			return fmt.Errorf("failed to load claimed item %s: %w", job.CallScheduleItemID, err)
		}
		if item.Status != models.CallStatusInProgress {
			// The claim was already resolved elsewhere (operator action or
			// stale-claim requeue). Not an error.
			slog.Warn("ExecuteCallHandler: item not in progress, skipping", "id", item.ID, "status", item.Status)
			return nil
		}

		started := timeutil.Now()
		rec := &models.CallRecord{
			ID:                 util.GenerateRecordID(),
			CallScheduleItemID: item.ID,
			PatientID:          item.PatientID,
			StartedAt:          &started,
			Status:             models.CallStatusInProgress,
			RetryCount:         job.Attempt,
		}

		result := exec.Execute(ctx, item, rec)

		ended := timeutil.Now()
		rec.EndedAt = &ended
		rec.Status = recordStatus(result)
		rec.OutcomeNotes = callresult.Summary(result)
		if !result.Success {
			rec.ErrorMessage = result.ErrorDetail
		}

		if err := st.SaveCallRecord(ctx, rec); err != nil {
			slog.Error("ExecuteCallHandler: failed to save call record", "id", rec.ID, "error", err)
		}
		if arch != nil {
			if err := arch.SaveRecord(ctx, rec); err != nil {
				slog.Warn("ExecuteCallHandler: archive write failed", "id", rec.ID, "error", err)
			}
		}

		return sched.RecordOutcome(ctx, item, result)
	}
}

// recordStatus mirrors the item's outcome status onto the audit record.
func recordStatus(result *callresult.CallExecutionResult) models.CallStatus {
	if result.Success {
		return models.CallStatusCompleted
	}
	if result.Category == callresult.CategorySIPError && result.SIPStatusCode == "408" {
		return models.CallStatusNoAnswer
	}
	return models.CallStatusFailed
}
