package jobs

import (
	"context"

	"github.com/google/uuid"
)

// Waiter is the abstract pub/sub capability the Notifier bridges: correctness
// never depends on it (the Runner's periodic poll is the liveness backstop),
// so an in-memory fake satisfies it just as well as the Postgres LISTEN/NOTIFY
// implementation for tests.
type Waiter interface {
	WaitForNotification(ctx context.Context, t Type) error
}

// Store is the durable interface over the transactional relational store.
// Every mutating operation other than Create is a conditional update guarded
// by the row's current status, so terminal transitions are idempotent and
// concurrent reservations never double-assign a row.
type Store interface {
	Waiter

	Create(ctx context.Context, req CreateJobRequest) (Job, error)

	// ReserveNext selects the highest-priority, oldest ready job of the given
	// type, locks it (skipping already-locked rows), transitions it to
	// running, and sets its lease. Returns ErrNoJobsAvailable when nothing is
	// ready.
	ReserveNext(ctx context.Context, t Type, leaseSeconds int) (Job, error)

	// Heartbeat extends a running job's lease. Succeeds only if the job is
	// still running.
	Heartbeat(ctx context.Context, id uuid.UUID, extendSeconds int) (bool, error)

	// Complete marks a running job completed. Succeeds only if status=running.
	Complete(ctx context.Context, id uuid.UUID) (bool, error)

	// Fail applies the retry rule: non-terminal failures return the job to
	// pending with an incremented retry_count and a cleared lease; terminal
	// failures set status=failed. Succeeds only if status=running. Returns
	// whether the resulting status is terminal.
	Fail(ctx context.Context, id uuid.UUID, errMsg string) (ok bool, terminal bool, err error)

	GetByID(ctx context.Context, id uuid.UUID) (Job, error)
	Stats(ctx context.Context, t Type) (Stats, error)
	ListRecentByType(ctx context.Context, t Type, limit int) ([]Job, error)
	ListBySource(ctx context.Context, opts ListOptions) ([]ListResult, error)
	ListBySite(ctx context.Context, opts ListOptions) ([]ListResult, error)
	List(ctx context.Context, opts ListOptions) ([]ListResult, error)

	// Delete refuses unless status=pending and lease_expires_at is null.
	Delete(ctx context.Context, id uuid.UUID) error

	// RequeueExpired applies the retry rule to overdue running rows
	// (lease_expires_at < now), using errMsg as the failure text. Used by the
	// Reaper and opportunistically at the start of ReserveNext, so a lease
	// expiry is observed at the next reservation attempt even before the
	// Reaper's next tick.
	RequeueExpired(ctx context.Context, errMsg string) (int, error)

	// PurgeTerminal deletes terminal jobs older than the given retention
	// windows, up to batchSize rows per call, returning the count removed.
	PurgeTerminal(ctx context.Context, completedOlderThanSeconds, failedOlderThanSeconds int64, batchSize int) (int, error)
}
