// Package archive provides the durable call-record archive.
//
// Redis holds the working set; the archive keeps every attempt's record in a
// relational store for operator audit beyond Redis retention. SQLite backs
// local deployments, PostgreSQL shared ones. Archive writes are best-effort:
// callers log failures and move on, the call workflow never depends on them.
package archive

import (
	"context"

	"github.com/carebridge/followcall/internal/models"
)

// Archive persists call records durably.
type Archive interface {
	SaveRecord(ctx context.Context, rec *models.CallRecord) error
	ListPatientRecords(ctx context.Context, patientID string) ([]*models.CallRecord, error)
	Close() error
}

// Opts holds configuration options for archive backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for archive backends.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, connection string for
// Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
