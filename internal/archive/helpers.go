package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carebridge/followcall/internal/models"
)

// recordRow is the flattened SQL shape of a call record. Maps and slices are
// stored as JSON text so both backends share one schema.
type recordRow struct {
	id                  string
	itemID              string
	patientID           string
	startedAt           sql.NullTime
	endedAt             sql.NullTime
	status              string
	roomName            string
	participantIdentity string
	errorMessage        string
	outcomeNotes        string
	retryCount          int
	patientResponses    string
	additionalCalls     string
	createdAt           time.Time
	updatedAt           time.Time
}

func flattenRecord(rec *models.CallRecord) (*recordRow, error) {
	responses := "{}"
	if len(rec.PatientResponses) > 0 {
		b, err := json.Marshal(rec.PatientResponses)
		if err != nil {
			return nil, fmt.Errorf("failed to encode patient_responses: %w", err)
		}
		responses = string(b)
	}
	additional := "[]"
	if len(rec.AdditionalCallsScheduled) > 0 {
		b, err := json.Marshal(rec.AdditionalCallsScheduled)
		if err != nil {
			return nil, fmt.Errorf("failed to encode additional_calls_scheduled: %w", err)
		}
		additional = string(b)
	}

	row := &recordRow{
		id:                  rec.ID,
		itemID:              rec.CallScheduleItemID,
		patientID:           rec.PatientID,
		status:              string(rec.Status),
		roomName:            rec.RoomName,
		participantIdentity: rec.ParticipantIdentity,
		errorMessage:        rec.ErrorMessage,
		outcomeNotes:        rec.OutcomeNotes,
		retryCount:          rec.RetryCount,
		patientResponses:    responses,
		additionalCalls:     additional,
		createdAt:           rec.CreatedAt.UTC(),
		updatedAt:           rec.UpdatedAt.UTC(),
	}
	if rec.StartedAt != nil {
		row.startedAt = sql.NullTime{Time: rec.StartedAt.UTC(), Valid: true}
	}
	if rec.EndedAt != nil {
		row.endedAt = sql.NullTime{Time: rec.EndedAt.UTC(), Valid: true}
	}
	return row, nil
}

func scanRecords(rows *sql.Rows) ([]*models.CallRecord, error) {
	var records []*models.CallRecord
	for rows.Next() {
		var row recordRow
		if err := rows.Scan(
			&row.id, &row.itemID, &row.patientID, &row.startedAt, &row.endedAt, &row.status,
			&row.roomName, &row.participantIdentity, &row.errorMessage, &row.outcomeNotes,
			&row.retryCount, &row.patientResponses, &row.additionalCalls, &row.createdAt, &row.updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call record row: %w", err)
		}
		rec, err := expandRow(&row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call record rows: %w", err)
	}
	return records, nil
}

func expandRow(row *recordRow) (*models.CallRecord, error) {
	rec := &models.CallRecord{
		ID:                  row.id,
		CallScheduleItemID:  row.itemID,
		PatientID:           row.patientID,
		Status:              models.CallStatus(row.status),
		RoomName:            row.roomName,
		ParticipantIdentity: row.participantIdentity,
		ErrorMessage:        row.errorMessage,
		OutcomeNotes:        row.outcomeNotes,
		RetryCount:          row.retryCount,
		CreatedAt:           row.createdAt.UTC(),
		UpdatedAt:           row.updatedAt.UTC(),
	}
	if row.startedAt.Valid {
		t := row.startedAt.Time.UTC()
		rec.StartedAt = &t
	}
	if row.endedAt.Valid {
		t := row.endedAt.Time.UTC()
		rec.EndedAt = &t
	}
	if row.patientResponses != "" && row.patientResponses != "{}" {
		if err := json.Unmarshal([]byte(row.patientResponses), &rec.PatientResponses); err != nil {
			return nil, fmt.Errorf("failed to decode patient_responses: %w", err)
		}
	}
	if row.additionalCalls != "" && row.additionalCalls != "[]" {
		if err := json.Unmarshal([]byte(row.additionalCalls), &rec.AdditionalCallsScheduled); err != nil {
			return nil, fmt.Errorf("failed to decode additional_calls_scheduled: %w", err)
		}
	}
	return rec, nil
}
