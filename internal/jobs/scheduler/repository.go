package scheduler

import (
	"context"
	"time"
)

// Repository is the scheduled-task data interface (C6), grounded in the
// reference ScheduledJobsRepository: FindDue locks candidate rows with
// FOR UPDATE SKIP LOCKED so concurrent schedulers never process the same
// task twice from row locking alone; TryWithTaskLock adds a belt-and-braces
// advisory lock keyed by the task name so even a read-replica-backed
// scheduler can't double-fire.
type Repository interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]Task, error)
	MarkQueued(ctx context.Context, taskID string, now time.Time) (bool, error)
	UpdateActiveFireKey(ctx context.Context, taskID string, fireKey *string, now time.Time) error

	// TryWithTaskLock attempts a Postgres advisory transaction lock keyed by
	// the FNV-1a hash of taskName and, only if acquired, runs fn. Returns
	// (false, nil) if the lock was not acquired (another replica holds it).
	TryWithTaskLock(ctx context.Context, taskName string, fn func(context.Context) error) (locked bool, err error)
}

// AdminRepository lets higher-level services (site/source CRUD, out of
// scope here) reconcile scheduled tasks by name.
type AdminRepository interface {
	UpsertByTaskName(ctx context.Context, task Task) error
	DeleteByTaskName(ctx context.Context, taskName string) (bool, error)
}

// JobIntrospector lets the scheduler consult job state for the overrun
// policy without depending on the jobs package's concrete store type.
// "Running" means status=running AND lease_expires_at > now (an unexpired
// lease) — a job whose lease already lapsed doesn't count as active work.
type JobIntrospector interface {
	StatesByTaskName(ctx context.Context, taskName string, now time.Time) (OverrunStateMask, error)
}

