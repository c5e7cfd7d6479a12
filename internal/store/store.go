// Package store provides the Redis-backed persistence layer for followcall.
//
// Schedule items live in one hash per item, indexed two ways: a sorted set
// keyed by due-instant (Unix seconds) for due-item queries, and a set per
// patient for patient-scoped lookups. Call records live in their own hashes
// with a per-patient secondary index. Claim and conditional status updates
// are server-side Lua scripts so racing workers can never double-process an
// item.
//
// Key layout:
//
//	scheduled_calls:{id}              item hash
//	scheduled_calls:by_time           due-time index, score = Unix timestamp
//	scheduled_calls:patient:{pid}     set of item ids
//	call_records:{id}                 record hash
//	call_records:patient:{pid}        set of record ids
//	followcall:jobs                   execution job queue (list)
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebridge/followcall/internal/models"
)

// Key layout constants.
const (
	itemKeyPrefix          = "scheduled_calls:"
	dueIndexKey            = "scheduled_calls:by_time"
	patientKeyPrefix       = "scheduled_calls:patient:"
	recordKeyPrefix        = "call_records:"
	recordPatientKeyPrefix = "call_records:patient:"
	jobQueueKey            = "followcall:jobs"
)

func itemKey(id string) string           { return itemKeyPrefix + id }
func patientKey(patientID string) string { return patientKeyPrefix + patientID }
func recordKey(id string) string         { return recordKeyPrefix + id }
func recordPatientKey(pid string) string { return recordPatientKeyPrefix + pid }

// CallStore is the persistence contract the scheduler and workers rely on.
type CallStore interface {
	ScheduleCall(ctx context.Context, item *models.CallScheduleItem) error
	BatchScheduleCalls(ctx context.Context, items []*models.CallScheduleItem) (int, error)
	GetCall(ctx context.Context, id string) (*models.CallScheduleItem, error)
	GetPatientCalls(ctx context.Context, patientID string) ([]*models.CallScheduleItem, error)
	GetPendingCalls(ctx context.Context, limit int) ([]*models.CallScheduleItem, error)
	GetDueCallsAtomic(ctx context.Context, limit int) ([]*models.CallScheduleItem, error)
	UpdateCallStatus(ctx context.Context, id string, status models.CallStatus, notes string, retryDelay time.Duration) error
	UpdateCallStatusAtomic(ctx context.Context, id string, expected, next models.CallStatus, notes string) (bool, error)
	ResolveAttemptAtomic(ctx context.Context, id string, outcome models.CallStatus, notes string, retryAt time.Time) (bool, error)
	RescheduleCall(ctx context.Context, id string, at time.Time) error
	CancelCall(ctx context.Context, id, notes string) (bool, error)
	DeleteCall(ctx context.Context, id string) error
	RequeueStaleInProgress(ctx context.Context, staleBefore time.Time) (int, error)
	SaveCallRecord(ctx context.Context, rec *models.CallRecord) error
	GetCallRecord(ctx context.Context, id string) (*models.CallRecord, error)
	GetPatientCallRecords(ctx context.Context, patientID string) ([]*models.CallRecord, error)
}

// JobQueue is the background execution queue the daemon feeds and the runner
// drains. Coordination between the two happens only through the store.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job *CallJob) error
	DequeueJob(ctx context.Context, timeout time.Duration) (*CallJob, error)
}

// Opts holds configuration options for the Redis store.
type Opts struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration

	// Client overrides connection options entirely (used by tests).
	Client *redis.Client
}

// Option defines a configuration option for the Redis store.
type Option func(*Opts)

// WithAddr sets the Redis address (host:port).
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *Opts) { o.DB = db }
}

// WithClient injects a pre-built Redis client.
func WithClient(client *redis.Client) Option {
	return func(o *Opts) { o.Client = client }
}

func (o *Opts) withDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 3 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
}

// RedisStore implements CallStore and JobQueue on a Redis connection. The
// handle is constructed explicitly and passed in; there is no package-level
// client.
type RedisStore struct {
	client *redis.Client
}

// Compile-time checks that RedisStore satisfies its contracts.
var (
	_ CallStore = (*RedisStore)(nil)
	_ JobQueue  = (*RedisStore)(nil)
)

// NewRedisStore opens a Redis connection and validates connectivity via PING.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.withDefaults()

	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			slog.Error("NewRedisStore: address not set")
			return nil, fmt.Errorf("redis address not set")
		}
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		slog.Error("NewRedisStore: ping failed", "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("NewRedisStore: connected", "addr", cfg.Addr)

	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
