package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebridge/followcall/internal/callresult"
	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/timeutil"
	"github.com/carebridge/followcall/internal/util"
)

// normalizeItem fills generated and defaulted fields before persistence.
func normalizeItem(item *models.CallScheduleItem, now time.Time) {
	if item.ID == "" {
		item.ID = util.GenerateCallID()
	}
	if item.Status == "" {
		item.Status = models.CallStatusPending
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = models.DefaultMaxAttempts
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.ScheduledTime = timeutil.ToReference(item.ScheduledTime)
}

// scheduleInPipe queues the writes for one item onto a pipeline.
func scheduleInPipe(ctx context.Context, pipe redis.Pipeliner, item *models.CallScheduleItem) error {
	hash, err := item.ToHash()
	if err != nil {
		return err
	}
	pipe.HSet(ctx, itemKey(item.ID), hash)
	pipe.ZAdd(ctx, dueIndexKey, redis.Z{Score: float64(item.ScheduledTime.Unix()), Member: item.ID})
	pipe.SAdd(ctx, patientKey(item.PatientID), item.ID)
	return nil
}

// ScheduleCall persists one schedule item: its field hash, its entry in the
// due-time index scored by scheduled_time, and its id in the patient set.
func (s *RedisStore) ScheduleCall(ctx context.Context, item *models.CallScheduleItem) error {
	normalizeItem(item, timeutil.Now())
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid schedule item: %w", err)
	}

	pipe := s.client.TxPipeline()
	if err := scheduleInPipe(ctx, pipe, item); err != nil {
		return fmt.Errorf("failed to encode schedule item %s: %w", item.ID, err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore.ScheduleCall: write failed", "id", item.ID, "error", err)
		return fmt.Errorf("failed to schedule call %s: %w", item.ID, err)
	}
	slog.Debug("RedisStore.ScheduleCall", "id", item.ID, "patient", item.PatientID, "at", item.ScheduledTime)
	return nil
}

// BatchScheduleCalls persists a batch of items inside a single MULTI/EXEC
// transaction, so every item in the batch becomes visible together or the
// batch fails as a whole. Returns the number of items persisted.
func (s *RedisStore) BatchScheduleCalls(ctx context.Context, items []*models.CallScheduleItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	now := timeutil.Now()
	for _, item := range items {
		normalizeItem(item, now)
		if err := item.Validate(); err != nil {
			return 0, fmt.Errorf("invalid schedule item %s: %w", item.ID, err)
		}
	}

	pipe := s.client.TxPipeline()
	for _, item := range items {
		if err := scheduleInPipe(ctx, pipe, item); err != nil {
			return 0, fmt.Errorf("failed to encode schedule item %s: %w", item.ID, err)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore.BatchScheduleCalls: transaction failed", "count", len(items), "error", err)
		return 0, fmt.Errorf("failed to batch schedule %d calls: %w", len(items), err)
	}
	slog.Debug("RedisStore.BatchScheduleCalls", "count", len(items))
	return len(items), nil
}

// GetCall loads one schedule item by id.
func (s *RedisStore) GetCall(ctx context.Context, id string) (*models.CallScheduleItem, error) {
	hash, err := s.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load call %s: %w", id, err)
	}
	item, err := models.CallScheduleItemFromHash(hash)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", id, err)
	}
	return item, nil
}

// GetPatientCalls loads every schedule item recorded for a patient.
func (s *RedisStore) GetPatientCalls(ctx context.Context, patientID string) ([]*models.CallScheduleItem, error) {
	ids, err := s.client.SMembers(ctx, patientKey(patientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list calls for patient %s: %w", patientID, err)
	}
	items := make([]*models.CallScheduleItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.GetCall(ctx, id)
		if err != nil {
			slog.Warn("RedisStore.GetPatientCalls: skipping unreadable item", "id", id, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// GetPendingCalls returns items whose due-instant has passed, ordered by
// due-instant ascending, capped at limit. It does not mutate status.
func (s *RedisStore) GetPendingCalls(ctx context.Context, limit int) ([]*models.CallScheduleItem, error) {
	now := timeutil.Now()
	ids, err := s.client.ZRangeByScore(ctx, dueIndexKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.Unix(), 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due calls: %w", err)
	}

	items := make([]*models.CallScheduleItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.GetCall(ctx, id)
		if err != nil {
			slog.Warn("RedisStore.GetPendingCalls: skipping unreadable item", "id", id, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// GetDueCallsAtomic atomically claims up to limit due pending items,
// transitioning each to in_progress in the same server-side step. Concurrent
// callers receive disjoint sets; no item is ever claimed twice.
func (s *RedisStore) GetDueCallsAtomic(ctx context.Context, limit int) ([]*models.CallScheduleItem, error) {
	now := timeutil.Now()
	ids, err := claimDueScript.Run(ctx, s.client, []string{dueIndexKey},
		now.Unix(), limit, now.Format(time.RFC3339Nano), itemKeyPrefix).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due calls: %w", err)
	}

	items := make([]*models.CallScheduleItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.GetCall(ctx, id)
		if err != nil {
			slog.Warn("RedisStore.GetDueCallsAtomic: claimed item unreadable", "id", id, "error", err)
			continue
		}
		items = append(items, item)
	}
	if len(items) > 0 {
		slog.Debug("RedisStore.GetDueCallsAtomic: claimed", "count", len(items))
	}
	return items, nil
}

// UpdateCallStatus writes the item's status and notes unconditionally.
// Terminal states are removed from the due-time index so they never surface
// as due again. A failed or no_answer outcome consumes one attempt; if the
// item is still retry-eligible it returns to pending and is re-indexed at
// now + retryDelay (the system_error backoff table when retryDelay is zero),
// otherwise it leaves the index for good.
func (s *RedisStore) UpdateCallStatus(ctx context.Context, id string, status models.CallStatus, notes string, retryDelay time.Duration) error {
	item, err := s.GetCall(ctx, id)
	if err != nil {
		return err
	}
	now := timeutil.Now()

	pipe := s.client.TxPipeline()
	fields := map[string]string{
		"status":     string(status),
		"updated_at": now.Format(time.RFC3339Nano),
	}
	if notes != "" {
		fields["status_notes"] = notes
	}

	switch status {
	case models.CallStatusFailed, models.CallStatusNoAnswer:
		item.AttemptCount++
		item.Status = status
		fields["attempt_count"] = strconv.Itoa(item.AttemptCount)
		if item.CanRetry() {
			delay := retryDelay
			if delay <= 0 {
				delay = callresult.RetryDelay(callresult.CategorySystemError, item.AttemptCount)
			}
			next := now.Add(delay)
			fields["status"] = string(models.CallStatusPending)
			fields["scheduled_time"] = next.Format(time.RFC3339Nano)
			pipe.ZAdd(ctx, dueIndexKey, redis.Z{Score: float64(next.Unix()), Member: id})
			slog.Info("RedisStore.UpdateCallStatus: rescheduling for retry",
				"id", id, "attempt", item.AttemptCount, "max", item.MaxAttempts, "next", next)
		} else {
			pipe.ZRem(ctx, dueIndexKey, id)
		}
	case models.CallStatusCompleted, models.CallStatusCancelled, models.CallStatusVoicemail:
		pipe.ZRem(ctx, dueIndexKey, id)
	}

	pipe.HSet(ctx, itemKey(id), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore.UpdateCallStatus: write failed", "id", id, "status", status, "error", err)
		return fmt.Errorf("failed to update call %s: %w", id, err)
	}
	return nil
}

// UpdateCallStatusAtomic applies the transition only if the item's current
// persisted status equals expected; otherwise it returns false with no side
// effects. Losing this race is an expected outcome, not an error. Outcome
// statuses leave the due index. Failed attempts go through
// ResolveAttemptAtomic instead, which also owns the attempt accounting.
func (s *RedisStore) UpdateCallStatusAtomic(ctx context.Context, id string, expected, next models.CallStatus, notes string) (bool, error) {
	removeFromIndex := "0"
	if next != models.CallStatusPending && next != models.CallStatusInProgress {
		removeFromIndex = "1"
	}
	res, err := updateStatusAtomicScript.Run(ctx, s.client,
		[]string{itemKey(id), dueIndexKey},
		id, string(expected), string(next), notes, timeutil.Now().Format(time.RFC3339Nano), removeFromIndex,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to conditionally update call %s: %w", id, err)
	}
	return res == 1, nil
}

// ResolveAttemptAtomic folds a failed or unanswered attempt into the item,
// conditional on the caller still holding the claim. The attempt is consumed
// and, when retryAt is non-zero, the item returns to pending re-indexed at
// retryAt in the same server-side step; a zero retryAt makes the outcome
// final and removes the item from the due index. Returns false when the claim
// was already lost.
func (s *RedisStore) ResolveAttemptAtomic(ctx context.Context, id string, outcome models.CallStatus, notes string, retryAt time.Time) (bool, error) {
	retryScore, retryTime := "", ""
	if !retryAt.IsZero() {
		retryAt = timeutil.ToReference(retryAt)
		retryScore = strconv.FormatInt(retryAt.Unix(), 10)
		retryTime = retryAt.Format(time.RFC3339Nano)
	}
	res, err := resolveAttemptScript.Run(ctx, s.client,
		[]string{itemKey(id), dueIndexKey},
		id, string(outcome), notes, timeutil.Now().Format(time.RFC3339Nano), retryScore, retryTime,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to resolve attempt for %s: %w", id, err)
	}
	if res == 1 && retryScore != "" {
		slog.Debug("RedisStore.ResolveAttemptAtomic: retry indexed", "id", id, "at", retryAt)
	}
	return res == 1, nil
}

// RescheduleCall returns an item to pending at a new due-instant. This backs
// operator tooling; retry backoff goes through ResolveAttemptAtomic, which
// owns the attempt accounting, so this never touches attempt_count.
func (s *RedisStore) RescheduleCall(ctx context.Context, id string, at time.Time) error {
	at = timeutil.ToReference(at)
	now := timeutil.Now()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, itemKey(id), map[string]string{
		"status":         string(models.CallStatusPending),
		"scheduled_time": at.Format(time.RFC3339Nano),
		"updated_at":     now.Format(time.RFC3339Nano),
	})
	pipe.ZAdd(ctx, dueIndexKey, redis.Z{Score: float64(at.Unix()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore.RescheduleCall: write failed", "id", id, "error", err)
		return fmt.Errorf("failed to reschedule call %s: %w", id, err)
	}
	slog.Debug("RedisStore.RescheduleCall", "id", id, "at", at)
	return nil
}

// CancelCall marks an item cancelled unless it already reached a terminal
// state, and removes it from the due index. Items already claimed run to
// completion; cancellation prevents future claims only.
func (s *RedisStore) CancelCall(ctx context.Context, id, notes string) (bool, error) {
	res, err := cancelScript.Run(ctx, s.client,
		[]string{itemKey(id), dueIndexKey},
		id, notes, timeutil.Now().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to cancel call %s: %w", id, err)
	}
	return res == 1, nil
}

// DeleteCall removes an item entirely. Normal workflow never deletes; this
// backs explicit operator tooling.
func (s *RedisStore) DeleteCall(ctx context.Context, id string) error {
	item, err := s.GetCall(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, itemKey(id))
	pipe.ZRem(ctx, dueIndexKey, id)
	pipe.SRem(ctx, patientKey(item.PatientID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete call %s: %w", id, err)
	}
	slog.Info("RedisStore.DeleteCall", "id", id, "patient", item.PatientID)
	return nil
}

// RequeueStaleInProgress returns items claimed before staleBefore but never
// resolved (crashed worker) to pending, making them claimable again. Returns
// the number of items requeued.
func (s *RedisStore) RequeueStaleInProgress(ctx context.Context, staleBefore time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, dueIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(timeutil.Now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan due index: %w", err)
	}

	requeued := 0
	for _, id := range ids {
		vals, err := s.client.HMGet(ctx, itemKey(id), "status", "updated_at").Result()
		if err != nil {
			slog.Warn("RedisStore.RequeueStaleInProgress: read failed", "id", id, "error", err)
			continue
		}
		status, _ := vals[0].(string)
		updatedAt, _ := vals[1].(string)
		if models.CallStatus(status) != models.CallStatusInProgress {
			continue
		}
		claimedAt, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil || !claimedAt.Before(staleBefore) {
			continue
		}
		// Conditional flip so a worker finishing late still wins.
		ok, err := s.UpdateCallStatusAtomic(ctx, id, models.CallStatusInProgress, models.CallStatusPending, "requeued stale claim")
		if err != nil {
			slog.Error("RedisStore.RequeueStaleInProgress: requeue failed", "id", id, "error", err)
			continue
		}
		if ok {
			requeued++
		}
	}
	if requeued > 0 {
		slog.Info("RedisStore.RequeueStaleInProgress: requeued stale claims", "count", requeued)
	}
	return requeued, nil
}
