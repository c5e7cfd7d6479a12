// This file implements the SQLite-backed archive for local deployments.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/carebridge/followcall/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteArchive stores call records in a local SQLite database file.
type SQLiteArchive struct {
	db *sql.DB
}

var _ Archive = (*SQLiteArchive)(nil)

// NewSQLiteArchive creates an archive at the DSN's file path, creating the
// directory if needed and applying migrations.
func NewSQLiteArchive(opts ...Option) (*SQLiteArchive, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteArchive invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteArchive DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create archive directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run archive migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteArchive ready", "path", dsn)

	return &SQLiteArchive{db: db}, nil
}

// SaveRecord inserts or updates one call record row.
func (a *SQLiteArchive) SaveRecord(ctx context.Context, rec *models.CallRecord) error {
	row, err := flattenRecord(rec)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO call_records
		 (id, call_schedule_item_id, patient_id, started_at, ended_at, status, room_name,
		  participant_identity, error_message, outcome_notes, retry_count,
		  patient_responses, additional_calls_scheduled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.itemID, row.patientID, row.startedAt, row.endedAt, row.status, row.roomName,
		row.participantIdentity, row.errorMessage, row.outcomeNotes, row.retryCount,
		row.patientResponses, row.additionalCalls, row.createdAt, row.updatedAt,
	)
	if err != nil {
		slog.Error("SQLiteArchive.SaveRecord failed", "id", rec.ID, "error", err)
		return fmt.Errorf("failed to archive call record %s: %w", rec.ID, err)
	}
	slog.Debug("SQLiteArchive.SaveRecord", "id", rec.ID)
	return nil
}

// ListPatientRecords returns every archived record for a patient, oldest first.
func (a *SQLiteArchive) ListPatientRecords(ctx context.Context, patientID string) ([]*models.CallRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, call_schedule_item_id, patient_id, started_at, ended_at, status, room_name,
		        participant_identity, error_message, outcome_notes, retry_count,
		        patient_responses, additional_calls_scheduled, created_at, updated_at
		 FROM call_records WHERE patient_id = ? ORDER BY created_at ASC`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close releases the database handle.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
