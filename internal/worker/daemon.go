// Package worker runs the polling daemon and the background job runner.
//
// The daemon claims due calls from the store and hands each one to the job
// queue; the runner drains the queue, executes calls, and records outcomes.
// The two sides never share in-memory state; all coordination goes through
// the store, so any number of daemon and runner processes can run at once.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/store"
)

// Daemon defaults.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultClaimLimit   = 10
)

// Daemon periodically claims due schedule items and enqueues an execution job
// for each.
type Daemon struct {
	store        store.CallStore
	queue        store.JobQueue
	pollInterval time.Duration
	claimLimit   int
}

// NewDaemon creates a daemon over the store and job queue.
func NewDaemon(st store.CallStore, queue store.JobQueue, pollInterval time.Duration, claimLimit int) *Daemon {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if claimLimit <= 0 {
		claimLimit = DefaultClaimLimit
	}
	return &Daemon{store: st, queue: queue, pollInterval: pollInterval, claimLimit: claimLimit}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	slog.Info("Daemon.Run: starting poll loop", "pollInterval", d.pollInterval, "claimLimit", d.claimLimit)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	// Claim anything already due instead of waiting out the first interval.
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Daemon.Run: stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll claims one batch of due items and enqueues them. A claim is only held
// long enough to enqueue; execution happens after the claim is committed, so
// a slow call never blocks other workers' claims.
func (d *Daemon) poll(ctx context.Context) {
	items, err := d.store.GetDueCallsAtomic(ctx, d.claimLimit)
	if err != nil {
		slog.Error("Daemon.poll: claim failed", "error", err)
		return
	}

	for _, item := range items {
		job := &store.CallJob{
			Kind:               store.JobKindExecuteCall,
			CallScheduleItemID: item.ID,
			Attempt:            item.AttemptCount + 1,
		}
		if err := d.queue.EnqueueJob(ctx, job); err != nil {
			// An unreachable queue is not self-healing; fail the item now
			// rather than leaving it stuck in_progress.
			slog.Error("Daemon.poll: enqueue failed, marking call failed", "id", item.ID, "error", err)
			if uerr := d.store.UpdateCallStatus(ctx, item.ID, models.CallStatusFailed,
				"failed to enqueue execution job: "+err.Error(), 0); uerr != nil {
				slog.Error("Daemon.poll: failed to record enqueue failure", "id", item.ID, "error", uerr)
			}
			continue
		}
		slog.Debug("Daemon.poll: enqueued call", "id", item.ID, "attempt", job.Attempt)
	}
}
