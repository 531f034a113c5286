package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresJobIntrospector answers StatesByTaskName by reading the jobs
// table directly: every job enqueued by this scheduler carries
// scheduler.task_name in its metadata (see Service.enqueueJob), so overrun
// checks need no join back to scheduled_jobs_admin.
type PostgresJobIntrospector struct {
	db *sql.DB
}

func NewPostgresJobIntrospector(db *sql.DB) *PostgresJobIntrospector {
	return &PostgresJobIntrospector{db: db}
}

const statesByTaskNameSQL = `
SELECT
  bool_or(status = 'running' AND lease_expires_at > $2) AS any_running,
  bool_or(status = 'pending' AND retry_count = 0) AS any_pending,
  bool_or(status = 'pending' AND retry_count > 0) AS any_retrying
FROM jobs
WHERE metadata->>'scheduler.task_name' = $1`

// StatesByTaskName reports, as a bitmask, which of {running, pending,
// retrying} currently hold for jobs fired by taskName. "Running" excludes
// jobs whose lease has already lapsed — an expired lease is reaper work,
// not live occupancy.
func (i *PostgresJobIntrospector) StatesByTaskName(ctx context.Context, taskName string, now time.Time) (OverrunStateMask, error) {
	var anyRunning, anyPending, anyRetrying sql.NullBool
	row := i.db.QueryRowContext(ctx, statesByTaskNameSQL, taskName, now)
	if err := row.Scan(&anyRunning, &anyPending, &anyRetrying); err != nil {
		return 0, fmt.Errorf("states by task name: %w", err)
	}

	var mask OverrunStateMask
	if anyRunning.Bool {
		mask |= OverrunStateRunning
	}
	if anyPending.Bool {
		mask |= OverrunStatePending
	}
	if anyRetrying.Bool {
		mask |= OverrunStateRetrying
	}
	return mask, nil
}
