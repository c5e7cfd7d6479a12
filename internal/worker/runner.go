package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/followcall/internal/store"
)

// JobHandler executes one queued job.
type JobHandler func(ctx context.Context, job *store.CallJob) error

// dequeueWait bounds each blocking pop so the runner notices cancellation.
const dequeueWait = 2 * time.Second

// Runner drains the job queue and dispatches jobs to registered handlers.
type Runner struct {
	queue    store.JobQueue
	handlers map[string]JobHandler
	mu       sync.RWMutex
}

// NewRunner creates a runner over the job queue.
func NewRunner(queue store.JobQueue) *Runner {
	return &Runner{
		queue:    queue,
		handlers: make(map[string]JobHandler),
	}
}

// RegisterHandler registers a handler for a given job kind.
func (r *Runner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("Runner.RegisterHandler", "kind", kind)
}

// Run consumes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("Runner.Run: starting job runner")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Runner.Run: stopping")
			return
		default:
		}

		job, err := r.queue.DequeueJob(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Runner.Run: stopping")
				return
			}
			slog.Error("Runner.Run: dequeue failed", "error", err)
			time.Sleep(dequeueWait)
			continue
		}
		if job == nil {
			continue
		}

		r.mu.RLock()
		handler, ok := r.handlers[job.Kind]
		r.mu.RUnlock()
		if !ok {
			slog.Warn("Runner.Run: no handler for job kind", "kind", job.Kind, "id", job.ID)
			continue
		}

		slog.Debug("Runner.Run: executing job", "id", job.ID, "kind", job.Kind, "item", job.CallScheduleItemID)
		if err := handler(ctx, job); err != nil {
			slog.Error("Runner.Run: job execution failed", "id", job.ID, "kind", job.Kind, "error", err)
		}
	}
}
