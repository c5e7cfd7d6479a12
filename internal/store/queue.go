package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebridge/followcall/internal/timeutil"
	"github.com/carebridge/followcall/internal/util"
)

// JobKindExecuteCall is the job kind for executing one claimed schedule item.
const JobKindExecuteCall = "execute_call"

// CallJob is one unit of work on the background execution queue. The daemon
// enqueues a job per claimed item; the runner picks them up on the other side.
type CallJob struct {
	ID                 string    `json:"id"`
	Kind               string    `json:"kind"`
	CallScheduleItemID string    `json:"call_schedule_item_id"`
	Attempt            int       `json:"attempt"`
	EnqueuedAt         time.Time `json:"enqueued_at"`
}

// EnqueueJob pushes a job onto the execution queue.
func (s *RedisStore) EnqueueJob(ctx context.Context, job *CallJob) error {
	if job.ID == "" {
		job.ID = util.GenerateJobID()
	}
	if job.Kind == "" {
		job.Kind = JobKindExecuteCall
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = timeutil.Now()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	if err := s.client.LPush(ctx, jobQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	slog.Debug("RedisStore.EnqueueJob", "id", job.ID, "kind", job.Kind, "item", job.CallScheduleItemID)
	return nil
}

// DequeueJob blocks up to timeout for the next job. It returns (nil, nil)
// when the queue stays empty for the whole window.
func (s *RedisStore) DequeueJob(ctx context.Context, timeout time.Duration) (*CallJob, error) {
	res, err := s.client.BRPop(ctx, timeout, jobQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}

	var job CallJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return &job, nil
}

// QueueLength reports the number of jobs waiting on the queue.
func (s *RedisStore) QueueLength(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, jobQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
