package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRunner(t *testing.T, svc *Service, concurrency int, handler HandlerFunc) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerOptions{
		Service:      svc,
		Type:         TypeBrowser,
		Concurrency:  concurrency,
		Lease:        2 * time.Second,
		Handler:      handler,
		Log:          testLogger(t),
		PollInterval: 10 * time.Millisecond,
		PollMax:      20 * time.Millisecond,
		DrainTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestNewRunnerValidation(t *testing.T) {
	svc := newTestService(t, newMemStore(), nil)
	noop := func(ctx context.Context, job Job) error { return nil }

	if _, err := NewRunner(RunnerOptions{Type: TypeBrowser, Handler: noop, Log: testLogger(t)}); err == nil {
		t.Fatal("expected an error for a nil Service")
	}
	if _, err := NewRunner(RunnerOptions{Service: svc, Handler: noop, Log: testLogger(t)}); err == nil {
		t.Fatal("expected an error for an invalid Type")
	}
	if _, err := NewRunner(RunnerOptions{Service: svc, Type: TypeBrowser, Log: testLogger(t)}); err == nil {
		t.Fatal("expected an error for a nil Handler")
	}
	if _, err := NewRunner(RunnerOptions{Service: svc, Type: TypeBrowser, Handler: noop, Log: testLogger(t)}); err != nil {
		t.Fatalf("valid options should construct cleanly: %v", err)
	}
}

// TestRunnerProcessesJobToCompletion exercises the end-to-end reserve ->
// handler -> complete path with a single worker and confirms Run returns
// once the context is cancelled.
func TestRunnerProcessesJobToCompletion(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobRequest{Type: TypeBrowser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var handled atomic.Bool
	r := newTestRunner(t, svc, 1, func(ctx context.Context, j Job) error {
		if j.ID == job.ID {
			handled.Store(true)
		}
		return nil
	})

	runCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := r.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !handled.Load() {
		t.Fatal("handler was never invoked for the created job")
	}
	got, err := svc.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}
}

// TestRunnerHandlerErrorFailsJob confirms a handler error routes through
// Service.Fail rather than Complete.
func TestRunnerHandlerErrorFailsJob(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobRequest{Type: TypeBrowser, MaxRetries: 0})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := newTestRunner(t, svc, 1, func(ctx context.Context, j Job) error {
		return errors.New("handler boom")
	})

	runCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := r.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := svc.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.LastError != "handler boom" {
		t.Fatalf("LastError = %q, want %q", got.LastError, "handler boom")
	}
}

// TestRunnerHandlerPanicIsRecoveredAsFailure confirms a panicking handler
// fails the job instead of crashing the worker goroutine (and, by
// extension, the whole errgroup).
func TestRunnerHandlerPanicIsRecoveredAsFailure(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobRequest{Type: TypeBrowser, MaxRetries: 0})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := newTestRunner(t, svc, 1, func(ctx context.Context, j Job) error {
		panic("boom")
	})

	runCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := r.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := svc.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
}

// TestRunnerConcurrentWorkersDoNotDoubleProcess exercises the fan-out: N
// workers contend for M jobs, and every job is handled exactly once, which
// would fail if ReserveNext's row locking (or this fake's equivalent) let
// two workers grab the same job.
func TestRunnerConcurrentWorkersDoNotDoubleProcess(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	const jobCount = 20
	ids := make(map[string]struct{}, jobCount)
	for i := 0; i < jobCount; i++ {
		j, err := svc.Create(ctx, CreateJobRequest{Type: TypeBrowser})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids[j.ID.String()] = struct{}{}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	r := newTestRunner(t, svc, 5, func(ctx context.Context, j Job) error {
		mu.Lock()
		seen[j.ID.String()]++
		mu.Unlock()
		return nil
	})

	runCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := r.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for id := range ids {
		if seen[id] != 1 {
			t.Errorf("job %s processed %d times, want exactly 1", id, seen[id])
		}
	}
}

// flakyReserveStore wraps a memStore and fails every ReserveNext call with a
// fatal (non-ErrNoJobsAvailable) error, used to exercise the errgroup
// first-error-wins path deterministically.
type flakyReserveStore struct {
	*memStore
	reserveErr error
}

func (s *flakyReserveStore) ReserveNext(ctx context.Context, t Type, leaseSeconds int) (Job, error) {
	return Job{}, s.reserveErr
}

// TestRunnerFirstErrorWinsCancelsSiblings confirms the errgroup fan-out: a
// fatal (non-job) error returned from one worker's loop cancels every other
// worker's context and Run returns that error promptly, rather than hanging
// until DrainTimeout or losing the error.
func TestRunnerFirstErrorWinsCancelsSiblings(t *testing.T) {
	fatal := errors.New("store unavailable")
	store := &flakyReserveStore{memStore: newMemStore(), reserveErr: fatal}
	svc := newTestService(t, store, nil)

	r := newTestRunner(t, svc, 4, func(ctx context.Context, j Job) error { return nil })

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := r.Run(runCtx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected Run to return the fatal reserve error")
	}
	if !errors.Is(err, fatal) {
		t.Fatalf("Run error = %v, want it to wrap %v", err, fatal)
	}
	if elapsed >= r.drainTimeout {
		t.Fatalf("Run took %v, expected errgroup cancellation to return well before the %v drain timeout", elapsed, r.drainTimeout)
	}
}
