package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// HandlerFunc processes one reserved job. A non-nil error fails the job
// (subject to the retry rule); nil completes it.
type HandlerFunc func(ctx context.Context, job Job) error

// RunnerOptions configures a Runner instance.
type RunnerOptions struct {
	Service     *Service
	Type        Type
	Concurrency int
	Lease       time.Duration
	Handler     HandlerFunc
	Log         *logger.Logger

	// PollInterval/PollMax bound the periodic-poll safety net used while a
	// worker is idle, in case a notification was lost.
	PollInterval time.Duration
	PollMax      time.Duration

	// DrainTimeout bounds how long Run waits for in-flight handlers to
	// return after ctx is cancelled before returning anyway.
	DrainTimeout time.Duration
}

// Runner is the generic worker loop (C5) used by every role: browser,
// rules, alert dispatch, secret refresh. Per instance it subscribes to
// notifications for Type, spawns Concurrency worker goroutines, and each
// worker alternates reserve/process with heartbeat-refreshed handler
// contexts.
type Runner struct {
	svc         *Service
	jobType     Type
	concurrency int
	lease       time.Duration
	handler     HandlerFunc
	log         *logger.Logger

	pollInterval time.Duration
	pollMax      time.Duration
	drainTimeout time.Duration
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Service == nil {
		return nil, errors.New("jobs: runner requires a Service")
	}
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("jobs: runner requires a valid job type, got %q", opts.Type)
	}
	if opts.Handler == nil {
		return nil, errors.New("jobs: runner requires a Handler")
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = DefaultLeasePolicy().Default
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	pollMax := opts.PollMax
	if pollMax <= 0 {
		pollMax = 10 * time.Second
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = 15 * time.Second
	}
	return &Runner{
		svc:          opts.Service,
		jobType:      opts.Type,
		concurrency:  concurrency,
		lease:        lease,
		handler:      opts.Handler,
		log:          opts.Log.With("component", "Runner", "job_type", opts.Type),
		pollInterval: poll,
		pollMax:      pollMax,
		drainTimeout: drain,
	}, nil
}

// Run blocks until ctx is cancelled or a worker returns a fatal (non-job)
// error, whichever comes first; on return all worker goroutines have either
// finished or been abandoned past the drain deadline. Fan-out uses errgroup
// so the first worker error cancels every sibling's context and wins the
// return value, rather than each worker racing its own cancel/error channel.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		id := i
		g.Go(func() error {
			return r.workerLoop(gctx, id)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(r.drainTimeout):
			r.log.Warn("drain timeout exceeded, returning with workers still in flight")
			return nil
		}
	}
}

func (r *Runner) workerLoop(ctx context.Context, workerID int) error {
	notifyCh, unsub := r.svc.Subscribe(ctx, r.jobType)
	defer unsub()

	poll := r.pollInterval
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, _, err := r.svc.ReserveNext(ctx, r.jobType, r.lease)
		if err != nil {
			if errors.Is(err, ErrNoJobsAvailable) {
				if r.waitForWork(ctx, notifyCh, poll) {
					poll = r.pollInterval
				} else {
					poll *= 2
					if poll > r.pollMax {
						poll = r.pollMax
					}
				}
				continue
			}
			return fmt.Errorf("worker %d: reserve next: %w", workerID, err)
		}

		poll = r.pollInterval
		r.processJob(ctx, job)
	}
}

// waitForWork blocks until the subscription channel fires, the poll timer
// elapses, or ctx is cancelled. Returns true if woken by the subscription
// (a real signal, so the poll backoff resets), false otherwise.
func (r *Runner) waitForWork(ctx context.Context, notifyCh <-chan struct{}, poll time.Duration) bool {
	timer := time.NewTimer(poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-notifyCh:
		return true
	case <-timer.C:
		return false
	}
}

func (r *Runner) processJob(parentCtx context.Context, job Job) {
	handlerCtx, cancelHandler := context.WithCancel(parentCtx)
	defer cancelHandler()

	heartbeatDone := make(chan struct{})
	go r.heartbeatLoop(handlerCtx, job, cancelHandler, heartbeatDone)

	err := r.runHandler(handlerCtx, job)

	close(heartbeatDone)

	if err != nil {
		if ok, _, failErr := r.svc.Fail(parentCtx, job.ID, err.Error(), FailureDetails{}); failErr != nil {
			r.log.Error("fail after handler error also failed", "job_id", job.ID, "handler_error", err, "store_error", failErr)
		} else if !ok {
			r.log.Debug("fail was a no-op (already terminal)", "job_id", job.ID)
		}
		return
	}

	if ok, completeErr := r.svc.Complete(parentCtx, job.ID); completeErr != nil {
		r.log.Error("complete failed", "job_id", job.ID, "error", completeErr)
	} else if !ok {
		r.log.Debug("complete was a no-op (already terminal)", "job_id", job.ID)
	}
}

func (r *Runner) runHandler(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	err = r.handler(ctx, job)
	if err == nil && ctx.Err() != nil {
		// Heartbeat revoked ownership or shutdown cancelled us mid-handler;
		// treat as a failure even if the handler itself returned nil, since
		// the store no longer considers us the owner.
		return fmt.Errorf("cancelled: %w", ctx.Err())
	}
	return err
}

// heartbeatLoop extends the job's lease at interval lease/3 until the
// handler returns (heartbeatDone closes) or ctx ends. A heartbeat that fails
// (row no longer owned) cancels the handler's context without double-failing
// the job — runHandler will observe ctx.Err() and fail once, from the
// handler-return path.
func (r *Runner) heartbeatLoop(ctx context.Context, job Job, cancel context.CancelFunc, done <-chan struct{}) {
	interval := r.lease / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, _, err := r.svc.Heartbeat(ctx, job.ID, r.lease)
			if err != nil {
				r.log.Warn("heartbeat error", "job_id", job.ID, "error", err)
				continue
			}
			if !ok {
				r.log.Warn("heartbeat lost ownership, cancelling handler", "job_id", job.ID)
				cancel()
				return
			}
		}
	}
}
