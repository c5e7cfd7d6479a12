// This file implements the PostgreSQL-backed archive for shared deployments.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/carebridge/followcall/internal/models"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresArchive stores call records in PostgreSQL.
type PostgresArchive struct {
	db *sql.DB
}

var _ Archive = (*PostgresArchive)(nil)

// NewPostgresArchive connects to the DSN, configures pooling, and applies
// migrations.
func NewPostgresArchive(opts ...Option) (*PostgresArchive, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresArchive invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresArchive DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run archive migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresArchive ready")

	return &PostgresArchive{db: db}, nil
}

// SaveRecord inserts or updates one call record row.
func (a *PostgresArchive) SaveRecord(ctx context.Context, rec *models.CallRecord) error {
	row, err := flattenRecord(rec)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO call_records
		 (id, call_schedule_item_id, patient_id, started_at, ended_at, status, room_name,
		  participant_identity, error_message, outcome_notes, retry_count,
		  patient_responses, additional_calls_scheduled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		   ended_at = EXCLUDED.ended_at,
		   status = EXCLUDED.status,
		   room_name = EXCLUDED.room_name,
		   participant_identity = EXCLUDED.participant_identity,
		   error_message = EXCLUDED.error_message,
		   outcome_notes = EXCLUDED.outcome_notes,
		   patient_responses = EXCLUDED.patient_responses,
		   additional_calls_scheduled = EXCLUDED.additional_calls_scheduled,
		   updated_at = EXCLUDED.updated_at`,
		row.id, row.itemID, row.patientID, row.startedAt, row.endedAt, row.status, row.roomName,
		row.participantIdentity, row.errorMessage, row.outcomeNotes, row.retryCount,
		row.patientResponses, row.additionalCalls, row.createdAt, row.updatedAt,
	)
	if err != nil {
		slog.Error("PostgresArchive.SaveRecord failed", "id", rec.ID, "error", err)
		return fmt.Errorf("failed to archive call record %s: %w", rec.ID, err)
	}
	slog.Debug("PostgresArchive.SaveRecord", "id", rec.ID)
	return nil
}

// ListPatientRecords returns every archived record for a patient, oldest first.
func (a *PostgresArchive) ListPatientRecords(ctx context.Context, patientID string) ([]*models.CallRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, call_schedule_item_id, patient_id, started_at, ended_at, status, room_name,
		        participant_identity, error_message, outcome_notes, retry_count,
		        patient_responses, additional_calls_scheduled, created_at, updated_at
		 FROM call_records WHERE patient_id = $1 ORDER BY created_at ASC`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close releases the database handle.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
