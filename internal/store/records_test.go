package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/timeutil"
)

func TestSaveCallRecordRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	start := timeutil.Now().Add(-2 * time.Minute)
	end := start.Add(90 * time.Second)
	rec := &models.CallRecord{
		CallScheduleItemID: "call_1",
		PatientID:          "patient-1",
		StartedAt:          &start,
		EndedAt:            &end,
		Status:             models.CallStatusCompleted,
		RoomName:           "room_abc",
		OutcomeNotes:       "Call completed successfully",
	}
	if err := st.SaveCallRecord(ctx, rec); err != nil {
		t.Fatalf("SaveCallRecord failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("SaveCallRecord should assign an id")
	}

	got, err := st.GetCallRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetCallRecord failed: %v", err)
	}
	if got.CallScheduleItemID != "call_1" || got.Status != models.CallStatusCompleted {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(start) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, start)
	}
	if d := got.DurationSeconds(); d == nil || *d != 90 {
		t.Errorf("derived duration = %v, want 90", d)
	}
}

func TestGetCallRecordNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.GetCallRecord(context.Background(), "rec_missing"); !errors.Is(err, models.ErrCallNotFound) {
		t.Errorf("expected ErrCallNotFound, got %v", err)
	}
}

func TestGetPatientCallRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, itemID := range []string{"call_1", "call_2"} {
		rec := &models.CallRecord{
			CallScheduleItemID: itemID,
			PatientID:          "patient-1",
			Status:             models.CallStatusFailed,
		}
		if err := st.SaveCallRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.SaveCallRecord(ctx, &models.CallRecord{
		CallScheduleItemID: "call_3",
		PatientID:          "patient-2",
		Status:             models.CallStatusCompleted,
	}); err != nil {
		t.Fatal(err)
	}

	records, err := st.GetPatientCallRecords(ctx, "patient-1")
	if err != nil {
		t.Fatalf("GetPatientCallRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("patient-1 has %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.PatientID != "patient-1" {
			t.Errorf("foreign record leaked into patient index: %+v", rec)
		}
	}
}
