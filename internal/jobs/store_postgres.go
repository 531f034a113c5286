package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// PostgresStore is the reference job store: a single `jobs` table accessed
// through database/sql with the pgx/v5 stdlib driver registered, so the same
// pool serves both parametrized CRUD and LISTEN/NOTIFY. No ORM sits on the
// hot path; row scanning is hand-written the way the reference job
// repository does it.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log.With("component", "JobStore")}
}

const defaultRetryDelaySeconds = 30

func (s *PostgresStore) Create(ctx context.Context, req CreateJobRequest) (Job, error) {
	if !req.Type.Valid() {
		return Job{}, fmt.Errorf("%w: unknown job type %q", ErrInvalidRequest, req.Type)
	}
	now := time.Now().UTC()
	r := req.normalize(now)

	id := uuid.New()
	const q = `
INSERT INTO jobs (
  id, type, priority, scheduled_at, created_at,
  status, retry_count, max_retries, payload, metadata,
  session_id, site_id, source_id, is_test
) VALUES (
  $1, $2, $3, $4, $5,
  'pending', 0, $6, $7, $8,
  $9, $10, $11, $12
)
RETURNING id, type, priority, scheduled_at, created_at, status, retry_count,
  max_retries, last_error, completed_at, payload, metadata, session_id,
  site_id, source_id, is_test, lease_expires_at, worker_id`

	row := s.db.QueryRowContext(ctx, q,
		id, string(r.Type), r.Priority, r.ScheduledAt, now,
		r.MaxRetries, []byte(r.Payload), []byte(r.Metadata),
		r.SessionID, r.SiteID, r.SourceID, r.IsTest,
	)
	job, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}

	if err := s.notify(ctx, job.Type); err != nil {
		s.log.Warn("pg_notify after create failed", "job_id", job.ID, "error", err)
	}
	return job, nil
}

func (s *PostgresStore) notify(ctx context.Context, t Type) error {
	_, err := s.db.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, channelName(t), "job_added")
	return err
}

func channelName(t Type) string { return "job_added_" + string(t) }

// reserveNextSQL mirrors the reference store's reservation query: a CTE picks
// the single best candidate row with FOR UPDATE SKIP LOCKED so concurrent
// reservations never block on each other or double-assign a row, then the
// outer UPDATE performs the pending->running transition atomically.
const reserveNextSQL = `
WITH cte AS (
  SELECT id FROM jobs
  WHERE type = $1
    AND status = 'pending'
    AND scheduled_at <= now()
    AND (lease_expires_at IS NULL OR lease_expires_at <= now())
  ORDER BY priority DESC, scheduled_at ASC, created_at ASC, id ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
UPDATE jobs
SET status = 'running',
    lease_expires_at = now() + ($2 || ' seconds')::interval,
    retry_count = retry_count
WHERE id IN (SELECT id FROM cte)
RETURNING id, type, priority, scheduled_at, created_at, status, retry_count,
  max_retries, last_error, completed_at, payload, metadata, session_id,
  site_id, source_id, is_test, lease_expires_at, worker_id`

func (s *PostgresStore) ReserveNext(ctx context.Context, t Type, leaseSeconds int) (Job, error) {
	if leaseSeconds < 1 {
		leaseSeconds = 1
	}
	// Opportunistic requeue: a worker that died without the Reaper having
	// run yet shouldn't block this type from making progress.
	if _, err := s.RequeueExpired(ctx, "lease expired"); err != nil {
		s.log.Warn("requeue expired before reserve failed", "type", t, "error", err)
	}

	row := s.db.QueryRowContext(ctx, reserveNextSQL, string(t), leaseSeconds)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNoJobsAvailable
	}
	if err != nil {
		return Job{}, fmt.Errorf("reserve next: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id uuid.UUID, extendSeconds int) (bool, error) {
	if extendSeconds < 1 {
		extendSeconds = 1
	}
	const q = `
UPDATE jobs
SET lease_expires_at = now() + ($2 || ' seconds')::interval
WHERE id = $1 AND status = 'running'`
	res, err := s.db.ExecContext(ctx, q, id, extendSeconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE jobs
SET status = 'completed', completed_at = now(), lease_expires_at = NULL
WHERE id = $1 AND status = 'running'`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("complete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const maxLastErrorLen = 2000

// failSQL applies the retry rule in one conditional UPDATE: terminal when
// max_retries=0 or the incremented retry_count reaches max_retries,
// otherwise back to pending with a cleared lease and a delayed
// scheduled_at so the job doesn't spin immediately.
const failSQL = `
UPDATE jobs
SET status = CASE
      WHEN max_retries = 0 OR retry_count + 1 >= max_retries THEN 'failed'
      ELSE 'pending'
    END,
    retry_count = retry_count + 1,
    last_error = $2,
    lease_expires_at = NULL,
    completed_at = CASE
      WHEN max_retries = 0 OR retry_count + 1 >= max_retries THEN now()
      ELSE completed_at
    END,
    scheduled_at = CASE
      WHEN max_retries = 0 OR retry_count + 1 >= max_retries THEN scheduled_at
      ELSE now() + ($3 || ' seconds')::interval
    END
WHERE id = $1 AND status = 'running'
RETURNING status`

func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, bool, error) {
	if errMsg == "" {
		errMsg = "unspecified error"
	}
	if len(errMsg) > maxLastErrorLen {
		errMsg = errMsg[:maxLastErrorLen]
	}
	row := s.db.QueryRowContext(ctx, failSQL, id, errMsg, defaultRetryDelaySeconds)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("fail: %w", err)
	}
	return true, Status(status).Terminal(), nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (Job, error) {
	const q = `
SELECT id, type, priority, scheduled_at, created_at, status, retry_count,
  max_retries, last_error, completed_at, payload, metadata, session_id,
  site_id, source_id, is_test, lease_expires_at, worker_id
FROM jobs WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get by id: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Stats(ctx context.Context, t Type) (Stats, error) {
	const q = `
SELECT
  count(*) FILTER (WHERE status = 'pending'),
  count(*) FILTER (WHERE status = 'running'),
  count(*) FILTER (WHERE status = 'completed'),
  count(*) FILTER (WHERE status = 'failed')
FROM jobs WHERE type = $1`
	row := s.db.QueryRowContext(ctx, q, string(t))
	st := Stats{Type: t}
	if err := row.Scan(&st.Pending, &st.Running, &st.Completed, &st.Failed); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListRecentByType(ctx context.Context, t Type, limit int) ([]Job, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	const q = `
SELECT id, type, priority, scheduled_at, created_at, status, retry_count,
  max_retries, last_error, completed_at, payload, metadata, session_id,
  site_id, source_id, is_test, lease_expires_at, worker_id
FROM jobs WHERE type = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) ListBySource(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return s.listWithFilter(ctx, "source_id", opts)
}

func (s *PostgresStore) ListBySite(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return s.listWithFilter(ctx, "site_id", opts)
}

func (s *PostgresStore) listWithFilter(ctx context.Context, column string, opts ListOptions) ([]ListResult, error) {
	opts = opts.normalize()
	var filterVal *uuid.UUID
	switch column {
	case "source_id":
		filterVal = opts.SourceID
	case "site_id":
		filterVal = opts.SiteID
	}
	if filterVal == nil {
		return nil, fmt.Errorf("%w: missing %s filter", ErrInvalidRequest, column)
	}

	q := fmt.Sprintf(`
SELECT j.id, j.type, j.priority, j.scheduled_at, j.created_at, j.status,
  j.retry_count, j.max_retries, j.last_error, j.completed_at, j.payload,
  j.metadata, j.session_id, j.site_id, j.source_id, j.is_test,
  j.lease_expires_at, j.worker_id, COALESCE(s.name, '')
FROM jobs j
LEFT JOIN sites s ON s.id = j.site_id
WHERE j.%s = $1
ORDER BY j.created_at DESC, j.id DESC
LIMIT $2 OFFSET $3`, column)

	rows, err := s.db.QueryContext(ctx, q, *filterVal, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list by %s: %w", column, err)
	}
	defer rows.Close()
	return scanListResults(rows)
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	opts = opts.normalize()
	q := `
SELECT j.id, j.type, j.priority, j.scheduled_at, j.created_at, j.status,
  j.retry_count, j.max_retries, j.last_error, j.completed_at, j.payload,
  j.metadata, j.session_id, j.site_id, j.source_id, j.is_test,
  j.lease_expires_at, j.worker_id, COALESCE(s.name, '')
FROM jobs j
LEFT JOIN sites s ON s.id = j.site_id
WHERE ($1 = '' OR j.type = $1)
ORDER BY j.created_at DESC, j.id DESC
LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, string(opts.Type), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()
	return scanListResults(rows)
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM jobs WHERE id = $1 AND status = 'pending' AND lease_expires_at IS NULL`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish "doesn't exist" from "exists but not deletable" for a
		// clearer 404 vs 409 at the HTTP boundary.
		if _, err := s.GetByID(ctx, id); errors.Is(err, ErrJobNotFound) {
			return ErrJobNotFound
		}
		return ErrNotDeletable
	}
	return nil
}

func (s *PostgresStore) RequeueExpired(ctx context.Context, errMsg string) (int, error) {
	const q = `SELECT id FROM jobs WHERE status = 'running' AND lease_expires_at < now()`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	n := 0
	for _, id := range ids {
		ok, _, err := s.Fail(ctx, id, errMsg)
		if err != nil {
			s.log.Warn("requeue expired: fail failed", "job_id", id, "error", err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *PostgresStore) PurgeTerminal(ctx context.Context, completedOlderThanSeconds, failedOlderThanSeconds int64, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	const q = `
DELETE FROM jobs
WHERE id IN (
  SELECT id FROM jobs
  WHERE (status = 'completed' AND completed_at < now() - ($1 || ' seconds')::interval)
     OR (status = 'failed' AND completed_at < now() - ($2 || ' seconds')::interval)
  LIMIT $3
)`
	res, err := s.db.ExecContext(ctx, q, completedOlderThanSeconds, failedOlderThanSeconds, batchSize)
	if err != nil {
		return 0, fmt.Errorf("purge terminal: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// WaitForNotification grabs a pooled connection, LISTENs on the job type's
// channel, and blocks in pgx's WaitForNotification until a notify arrives or
// ctx is cancelled. Mirrors the reference store's LISTEN/UNLISTEN bracketing.
func (s *PostgresStore) WaitForNotification(ctx context.Context, t Type) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	channel := channelName(t)
	if _, err := conn.ExecContext(ctx, `LISTEN "`+channel+`"`); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() {
		// Best-effort UNLISTEN on a context that may already be cancelled.
		unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(unlistenCtx, `UNLISTEN "`+channel+`"`)
	}()

	var waitErr error
	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		_, waitErr = sc.Conn().WaitForNotification(ctx)
		return nil
	})
	if err != nil {
		return fmt.Errorf("raw conn: %w", err)
	}
	if waitErr != nil && !errors.Is(waitErr, pgx.ErrNoRows) {
		return waitErr
	}
	return nil
}

// --- scanning helpers -------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var typ, status string
	var payload, metadata []byte
	if err := row.Scan(
		&j.ID, &typ, &j.Priority, &j.ScheduledAt, &j.CreatedAt, &status,
		&j.RetryCount, &j.MaxRetries, nullString{&j.LastError}, &j.CompletedAt,
		&payload, &metadata, &j.SessionID, &j.SiteID, &j.SourceID, &j.IsTest,
		&j.LeaseExpiresAt, &j.WorkerID,
	); err != nil {
		return Job{}, err
	}
	j.Type = Type(typ)
	j.Status = Status(status)
	j.Payload = cloneJSON(payload)
	j.Metadata = cloneJSON(metadata)
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanListResults(rows *sql.Rows) ([]ListResult, error) {
	var out []ListResult
	for rows.Next() {
		var j Job
		var typ, status, siteName string
		var payload, metadata []byte
		if err := rows.Scan(
			&j.ID, &typ, &j.Priority, &j.ScheduledAt, &j.CreatedAt, &status,
			&j.RetryCount, &j.MaxRetries, nullString{&j.LastError}, &j.CompletedAt,
			&payload, &metadata, &j.SessionID, &j.SiteID, &j.SourceID, &j.IsTest,
			&j.LeaseExpiresAt, &j.WorkerID, &siteName,
		); err != nil {
			return nil, err
		}
		j.Type = Type(typ)
		j.Status = Status(status)
		j.Payload = cloneJSON(payload)
		j.Metadata = cloneJSON(metadata)
		out = append(out, ListResult{Job: j, SiteName: siteName})
	}
	return out, rows.Err()
}

func cloneJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// nullString adapts a *string destination to scan a nullable text column
// without requiring callers to juggle sql.NullString everywhere.
type nullString struct{ dest *string }

func (n nullString) Scan(src any) error {
	if src == nil {
		*n.dest = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*n.dest = v
	case []byte:
		*n.dest = string(v)
	default:
		return fmt.Errorf("nullString: unsupported type %T", src)
	}
	return nil
}
