package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/jobs"
)

// PostgresRepository backs Repository against the scheduled_jobs_admin
// table via database/sql. Row locking uses the same FOR UPDATE SKIP LOCKED
// discipline as the job store's reservation query; TryWithTaskLock adds a
// transaction-scoped advisory lock keyed by the FNV-1a hash of task_name.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func hashTaskName(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

func (r *PostgresRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	const q = `
SELECT id, task_name, interval_seconds, last_queued_at, active_fire_key,
  active_fire_key_set_at, payload, job_type, priority, max_retries
FROM scheduled_jobs_admin
WHERE last_queued_at IS NULL
   OR last_queued_at + (interval_seconds || ' seconds')::interval <= $1
ORDER BY last_queued_at ASC NULLS FIRST
LIMIT $2
FOR UPDATE SKIP LOCKED`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var intervalSeconds int64
		var payload []byte
		var jobType string
		if err := rows.Scan(
			&t.ID, &t.TaskName, &intervalSeconds, &t.LastQueuedAt, &t.ActiveFireKey,
			&t.ActiveFireKeySetAt, &payload, &jobType, &t.Priority, &t.MaxRetries,
		); err != nil {
			return nil, err
		}
		t.Interval = time.Duration(intervalSeconds) * time.Second
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &t.Payload)
		}
		t.JobType = jobs.Type(jobType)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkQueued(ctx context.Context, taskID string, now time.Time) (bool, error) {
	const q = `UPDATE scheduled_jobs_admin SET last_queued_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, taskID, now)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *PostgresRepository) UpdateActiveFireKey(ctx context.Context, taskID string, fireKey *string, now time.Time) error {
	const q = `UPDATE scheduled_jobs_admin SET active_fire_key = $2, active_fire_key_set_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, taskID, fireKey, now)
	return err
}

func (r *PostgresRepository) TryWithTaskLock(ctx context.Context, taskName string, fn func(context.Context) error) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var acquired bool
	const lockQ = `SELECT pg_try_advisory_xact_lock($1, $2)`
	if err := tx.QueryRowContext(ctx, lockQ, advisoryLockNamespace, hashTaskName(taskName)).Scan(&acquired); err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	if err := fn(ctx); err != nil {
		return true, err
	}
	return true, tx.Commit()
}

const advisoryLockNamespace = 1001

// UpsertByTaskName creates or updates a scheduled task keyed by its unique
// task_name, leaving last_queued_at untouched on update so re-registering a
// task (e.g. on every process boot) never resets its due-ness.
func (r *PostgresRepository) UpsertByTaskName(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO scheduled_jobs_admin (id, task_name, interval_seconds, payload, job_type, priority, max_retries, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (task_name) DO UPDATE SET
  interval_seconds = EXCLUDED.interval_seconds,
  payload = EXCLUDED.payload,
  job_type = EXCLUDED.job_type,
  priority = EXCLUDED.priority,
  max_retries = EXCLUDED.max_retries,
  updated_at = now()`
	_, err = r.db.ExecContext(ctx, q, task.ID, task.TaskName, int64(task.Interval/time.Second),
		payload, string(task.JobType), task.Priority, task.MaxRetries)
	return err
}

// DeleteByTaskName removes a scheduled task. Returns false if no row
// matched.
func (r *PostgresRepository) DeleteByTaskName(ctx context.Context, taskName string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_jobs_admin WHERE task_name = $1`, taskName)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
