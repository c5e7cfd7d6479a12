package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carebridge/followcall/internal/callresult"
	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/orders"
	"github.com/carebridge/followcall/internal/scheduler"
	"github.com/carebridge/followcall/internal/store"
)

// fakeStore implements store.CallStore and store.JobQueue in memory.
type fakeStore struct {
	mu          sync.Mutex
	items       map[string]*models.CallScheduleItem
	due         []*models.CallScheduleItem
	jobs        []*store.CallJob
	enqueueErr  error
	records     []*models.CallRecord
	statusCalls []statusCall
	rescheduled []string
}

type statusCall struct {
	id     string
	status models.CallStatus
	notes  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*models.CallScheduleItem)}
}

func (f *fakeStore) ScheduleCall(ctx context.Context, item *models.CallScheduleItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) BatchScheduleCalls(ctx context.Context, items []*models.CallScheduleItem) (int, error) {
	for _, item := range items {
		_ = f.ScheduleCall(ctx, item)
	}
	return len(items), nil
}

func (f *fakeStore) GetCall(ctx context.Context, id string) (*models.CallScheduleItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, models.ErrCallNotFound
	}
	copied := *item
	return &copied, nil
}

func (f *fakeStore) GetPatientCalls(ctx context.Context, patientID string) ([]*models.CallScheduleItem, error) {
	return nil, nil
}

func (f *fakeStore) GetPendingCalls(ctx context.Context, limit int) ([]*models.CallScheduleItem, error) {
	return nil, nil
}

func (f *fakeStore) GetDueCallsAtomic(ctx context.Context, limit int) ([]*models.CallScheduleItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	due := f.due
	f.due = nil
	return due, nil
}

func (f *fakeStore) UpdateCallStatus(ctx context.Context, id string, status models.CallStatus, notes string, retryDelay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{id: id, status: status, notes: notes})
	return nil
}

func (f *fakeStore) UpdateCallStatusAtomic(ctx context.Context, id string, expected, next models.CallStatus, notes string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != expected {
		return false, nil
	}
	item.Status = next
	item.StatusNotes = notes
	return true, nil
}

func (f *fakeStore) ResolveAttemptAtomic(ctx context.Context, id string, outcome models.CallStatus, notes string, retryAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != models.CallStatusInProgress {
		return false, nil
	}
	item.AttemptCount++
	item.StatusNotes = notes
	if !retryAt.IsZero() {
		item.Status = models.CallStatusPending
		item.ScheduledTime = retryAt
		f.rescheduled = append(f.rescheduled, id)
	} else {
		item.Status = outcome
	}
	return true, nil
}

func (f *fakeStore) RescheduleCall(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled = append(f.rescheduled, id)
	if item, ok := f.items[id]; ok {
		item.Status = models.CallStatusPending
		item.ScheduledTime = at
	}
	return nil
}

func (f *fakeStore) CancelCall(ctx context.Context, id, notes string) (bool, error) {
	return false, nil
}

func (f *fakeStore) DeleteCall(ctx context.Context, id string) error { return nil }

func (f *fakeStore) RequeueStaleInProgress(ctx context.Context, staleBefore time.Time) (int, error) {
	return 0, nil
}

func (f *fakeStore) SaveCallRecord(ctx context.Context, rec *models.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) GetCallRecord(ctx context.Context, id string) (*models.CallRecord, error) {
	return nil, models.ErrCallNotFound
}

func (f *fakeStore) GetPatientCallRecords(ctx context.Context, patientID string) ([]*models.CallRecord, error) {
	return nil, nil
}

func (f *fakeStore) EnqueueJob(ctx context.Context, job *store.CallJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) DequeueJob(ctx context.Context, timeout time.Duration) (*store.CallJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

// fakeExecutor returns a canned result and records whether it ran.
type fakeExecutor struct {
	result *callresult.CallExecutionResult
	calls  int
}

func (e *fakeExecutor) Execute(ctx context.Context, item *models.CallScheduleItem, rec *models.CallRecord) *callresult.CallExecutionResult {
	e.calls++
	rec.RoomName = "room_test"
	return e.result
}

func inProgressItem(id string) *models.CallScheduleItem {
	return &models.CallScheduleItem{
		ID:            id,
		PatientID:     "patient-1",
		PatientPhone:  "+15551234567",
		ScheduledTime: time.Now().UTC().Add(-time.Minute),
		CallType:      models.CallTypeWellnessCheck,
		Status:        models.CallStatusInProgress,
		MaxAttempts:   3,
	}
}

func TestDaemonPollEnqueuesDueCalls(t *testing.T) {
	st := newFakeStore()
	first := inProgressItem("call_1")
	second := inProgressItem("call_2")
	second.AttemptCount = 1
	st.due = []*models.CallScheduleItem{first, second}

	d := NewDaemon(st, st, time.Second, 10)
	d.poll(context.Background())

	if len(st.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(st.jobs))
	}
	if st.jobs[0].CallScheduleItemID != "call_1" || st.jobs[0].Attempt != 1 {
		t.Errorf("job 0 = %+v", st.jobs[0])
	}
	if st.jobs[1].CallScheduleItemID != "call_2" || st.jobs[1].Attempt != 2 {
		t.Errorf("job 1 = %+v", st.jobs[1])
	}
}

func TestDaemonRunPollsImmediately(t *testing.T) {
	st := newFakeStore()
	st.due = []*models.CallScheduleItem{inProgressItem("call_1")}

	// A poll interval far longer than the test: only the startup poll can
	// produce the job.
	d := NewDaemon(st, st, time.Hour, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(2 * time.Second)
	for {
		st.mu.Lock()
		n := len(st.jobs)
		st.mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("startup poll never claimed the due call")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDaemonPollEnqueueFailureMarksFailed(t *testing.T) {
	st := newFakeStore()
	st.due = []*models.CallScheduleItem{inProgressItem("call_1")}
	st.enqueueErr = errors.New("queue unreachable")

	d := NewDaemon(st, st, time.Second, 10)
	d.poll(context.Background())

	if len(st.statusCalls) != 1 {
		t.Fatalf("expected 1 status write, got %d", len(st.statusCalls))
	}
	call := st.statusCalls[0]
	if call.id != "call_1" || call.status != models.CallStatusFailed {
		t.Errorf("status call = %+v", call)
	}
	if !strings.Contains(call.notes, "failed to enqueue") {
		t.Errorf("notes = %q", call.notes)
	}
}

func newTestHandler(st *fakeStore, exec Executor) JobHandler {
	sched := scheduler.NewCallScheduler(st, orders.DefaultRegistry())
	return ExecuteCallHandler(st, sched, exec, nil)
}

func TestExecuteCallHandlerSuccess(t *testing.T) {
	st := newFakeStore()
	item := inProgressItem("call_1")
	st.items["call_1"] = item

	exec := &fakeExecutor{result: callresult.SuccessResult("room_test", "phone-CA1", time.Minute)}
	handler := newTestHandler(st, exec)

	job := &store.CallJob{ID: "job_1", Kind: store.JobKindExecuteCall, CallScheduleItemID: "call_1", Attempt: 1}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor ran %d times, want 1", exec.calls)
	}

	if len(st.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(st.records))
	}
	rec := st.records[0]
	if rec.Status != models.CallStatusCompleted {
		t.Errorf("record status = %s, want completed", rec.Status)
	}
	if rec.StartedAt == nil || rec.EndedAt == nil {
		t.Error("record should carry both timestamps")
	}
	if rec.RetryCount != 1 || rec.CallScheduleItemID != "call_1" {
		t.Errorf("record = %+v", rec)
	}

	if st.items["call_1"].Status != models.CallStatusCompleted {
		t.Errorf("item status = %s, want completed", st.items["call_1"].Status)
	}
	if len(st.rescheduled) != 0 {
		t.Error("successful call must not be rescheduled")
	}
}

func TestExecuteCallHandlerRetryableFailure(t *testing.T) {
	st := newFakeStore()
	st.items["call_1"] = inProgressItem("call_1")

	exec := &fakeExecutor{result: callresult.SIPError("486", "busy here")}
	handler := newTestHandler(st, exec)

	job := &store.CallJob{Kind: store.JobKindExecuteCall, CallScheduleItemID: "call_1", Attempt: 1}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	rec := st.records[0]
	if rec.Status != models.CallStatusFailed {
		t.Errorf("record status = %s, want failed", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Error("failed record should carry the error detail")
	}
	if len(st.rescheduled) != 1 || st.rescheduled[0] != "call_1" {
		t.Errorf("expected a retry reschedule, got %v", st.rescheduled)
	}
}

func TestExecuteCallHandlerNoAnswerRecord(t *testing.T) {
	st := newFakeStore()
	st.items["call_1"] = inProgressItem("call_1")

	exec := &fakeExecutor{result: callresult.SIPError("408", "request timeout")}
	handler := newTestHandler(st, exec)

	job := &store.CallJob{Kind: store.JobKindExecuteCall, CallScheduleItemID: "call_1", Attempt: 1}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if st.records[0].Status != models.CallStatusNoAnswer {
		t.Errorf("408 record status = %s, want no_answer", st.records[0].Status)
	}
}

func TestExecuteCallHandlerSkipsResolvedItem(t *testing.T) {
	st := newFakeStore()
	item := inProgressItem("call_1")
	item.Status = models.CallStatusCancelled
	st.items["call_1"] = item

	exec := &fakeExecutor{result: callresult.SuccessResult("", "", 0)}
	handler := newTestHandler(st, exec)

	job := &store.CallJob{Kind: store.JobKindExecuteCall, CallScheduleItemID: "call_1"}
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("resolved item should be a quiet no-op: %v", err)
	}
	if exec.calls != 0 {
		t.Error("executor must not run for a resolved item")
	}
	if len(st.records) != 0 {
		t.Error("no record should be written for a skipped item")
	}
}

func TestExecuteCallHandlerMissingItem(t *testing.T) {
	st := newFakeStore()
	handler := newTestHandler(st, &fakeExecutor{result: callresult.SuccessResult("", "", 0)})

	job := &store.CallJob{Kind: store.JobKindExecuteCall, CallScheduleItemID: "call_gone"}
	if err := handler(context.Background(), job); err == nil {
		t.Error("missing item should surface as an error")
	}
}

func TestRunnerDispatchesToHandler(t *testing.T) {
	st := newFakeStore()
	st.jobs = []*store.CallJob{{ID: "job_1", Kind: "test_kind", CallScheduleItemID: "call_1"}}

	handled := make(chan string, 1)
	r := NewRunner(st)
	r.RegisterHandler("test_kind", func(ctx context.Context, job *store.CallJob) error {
		handled <- job.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case id := <-handled:
		if id != "job_1" {
			t.Errorf("handled %s, want job_1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestNewMaintenanceRejectsBadCron(t *testing.T) {
	if _, err := NewMaintenance(newFakeStore(), "not a cron spec", time.Minute); err == nil {
		t.Error("invalid cron spec should be rejected")
	}
	if _, err := NewMaintenance(newFakeStore(), "*/5 * * * *", time.Minute); err != nil {
		t.Errorf("valid cron spec rejected: %v", err)
	}
}
