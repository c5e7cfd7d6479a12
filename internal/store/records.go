package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/timeutil"
	"github.com/carebridge/followcall/internal/util"
)

// SaveCallRecord persists a call record hash and adds it to the per-patient
// index. Records are append-oriented: each attempt writes a fresh record id,
// though re-saving an existing id overwrites it.
func (s *RedisStore) SaveCallRecord(ctx context.Context, rec *models.CallRecord) error {
	now := timeutil.Now()
	if rec.ID == "" {
		rec.ID = util.GenerateRecordID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	hash, err := rec.ToHash()
	if err != nil {
		return fmt.Errorf("failed to encode call record %s: %w", rec.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey(rec.ID), hash)
	pipe.SAdd(ctx, recordPatientKey(rec.PatientID), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("RedisStore.SaveCallRecord: write failed", "id", rec.ID, "error", err)
		return fmt.Errorf("failed to save call record %s: %w", rec.ID, err)
	}
	slog.Debug("RedisStore.SaveCallRecord", "id", rec.ID, "item", rec.CallScheduleItemID, "status", rec.Status)
	return nil
}

// GetCallRecord loads one call record by id.
func (s *RedisStore) GetCallRecord(ctx context.Context, id string) (*models.CallRecord, error) {
	hash, err := s.client.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load call record %s: %w", id, err)
	}
	rec, err := models.CallRecordFromHash(hash)
	if err != nil {
		return nil, fmt.Errorf("call record %s: %w", id, err)
	}
	return rec, nil
}

// GetPatientCallRecords loads every call record for a patient.
func (s *RedisStore) GetPatientCallRecords(ctx context.Context, patientID string) ([]*models.CallRecord, error) {
	ids, err := s.client.SMembers(ctx, recordPatientKey(patientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list call records for patient %s: %w", patientID, err)
	}
	records := make([]*models.CallRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetCallRecord(ctx, id)
		if err != nil {
			slog.Warn("RedisStore.GetPatientCallRecords: skipping unreadable record", "id", id, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
