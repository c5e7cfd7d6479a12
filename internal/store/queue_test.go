package store

import (
	"context"
	"testing"
	"time"
)

func TestEnqueueDequeueJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := &CallJob{CallScheduleItemID: "call_1", Attempt: 1}
	if err := st.EnqueueJob(ctx, job); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if job.ID == "" || job.Kind != JobKindExecuteCall || job.EnqueuedAt.IsZero() {
		t.Errorf("job defaults not applied: %+v", job)
	}

	got, err := st.DequeueJob(ctx, time.Second)
	if err != nil {
		t.Fatalf("DequeueJob failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a job")
	}
	if got.ID != job.ID || got.CallScheduleItemID != "call_1" || got.Attempt != 1 {
		t.Errorf("job round trip lost fields: %+v", got)
	}
}

func TestDequeueJobFIFO(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"call_a", "call_b", "call_c"} {
		if err := st.EnqueueJob(ctx, &CallJob{CallScheduleItemID: id}); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"call_a", "call_b", "call_c"} {
		job, err := st.DequeueJob(ctx, time.Second)
		if err != nil || job == nil {
			t.Fatalf("DequeueJob failed: job=%v err=%v", job, err)
		}
		if job.CallScheduleItemID != want {
			t.Errorf("dequeued %s, want %s", job.CallScheduleItemID, want)
		}
	}
}

func TestDequeueJobEmptyQueue(t *testing.T) {
	st := newTestStore(t)
	job, err := st.DequeueJob(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("empty queue should not error: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job, got %+v", job)
	}
}

func TestQueueLength(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.QueueLength(ctx)
	if err != nil || n != 0 {
		t.Fatalf("empty queue length = %d, err = %v", n, err)
	}
	for i := 0; i < 3; i++ {
		if err := st.EnqueueJob(ctx, &CallJob{CallScheduleItemID: "call_1"}); err != nil {
			t.Fatal(err)
		}
	}
	n, err = st.QueueLength(ctx)
	if err != nil || n != 3 {
		t.Errorf("queue length = %d, err = %v, want 3", n, err)
	}
}
