package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carebridge/followcall/internal/store"
)

// DefaultStaleThreshold is how long a claim may sit in_progress before the
// maintenance sweep assumes its worker crashed.
const DefaultStaleThreshold = 10 * time.Minute

// Maintenance periodically requeues stale claims so a crashed worker's items
// become claimable again.
type Maintenance struct {
	cron           *cron.Cron
	store          store.CallStore
	staleThreshold time.Duration
}

// NewMaintenance creates the maintenance sweeper. cronSpec is a standard
// 5-field cron expression (e.g. "*/5 * * * *").
func NewMaintenance(st store.CallStore, cronSpec string, staleThreshold time.Duration) (*Maintenance, error) {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	m := &Maintenance{cron: c, store: st, staleThreshold: staleThreshold}
	if _, err := c.AddFunc(cronSpec, m.Sweep); err != nil {
		return nil, err
	}
	return m, nil
}

// Start runs one immediate sweep (crash recovery at startup) and starts the
// cron schedule.
func (m *Maintenance) Start() {
	m.Sweep()
	m.cron.Start()
	slog.Info("Maintenance.Start: stale-claim sweep scheduled", "staleThreshold", m.staleThreshold)
}

// Stop stops the cron scheduler and waits for a running sweep to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

// Sweep requeues claims older than the stale threshold.
func (m *Maintenance) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	staleBefore := time.Now().Add(-m.staleThreshold)
	n, err := m.store.RequeueStaleInProgress(ctx, staleBefore)
	if err != nil {
		slog.Error("Maintenance.Sweep: requeue failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Maintenance.Sweep: requeued stale claims", "count", n)
	}
}
