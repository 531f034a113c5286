package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store fake used across this package's tests, in
// place of a Postgres-backed one: it reproduces the conditional-transition
// semantics (ReserveNext/Heartbeat/Complete/Fail are all no-ops unless the
// row is in the expected state) without a database.
type memStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]Job
	waitErr error
	waitCh  chan struct{}
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]Job), waitCh: make(chan struct{})}
}

func (m *memStore) WaitForNotification(ctx context.Context, t Type) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.waitCh:
		return m.waitErr
	}
}

func (m *memStore) Create(ctx context.Context, req CreateJobRequest) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	req = req.normalize(now)
	j := Job{
		ID:          uuid.New(),
		Type:        req.Type,
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
		Status:      StatusPending,
		MaxRetries:  req.MaxRetries,
		Payload:     req.Payload,
		Metadata:    req.Metadata,
		SessionID:   req.SessionID,
		SiteID:      req.SiteID,
		SourceID:    req.SourceID,
		IsTest:      req.IsTest,
	}
	m.jobs[j.ID] = j
	return j, nil
}

// ReserveNext picks the pending, due job of type t with the highest
// priority (ties broken by earliest ScheduledAt; the order among jobs equal
// on both is not defined), mirroring the store's ORDER BY priority DESC,
// scheduled_at ASC contract closely enough for the Runner/Service tests that
// exercise it.
func (m *memStore) ReserveNext(ctx context.Context, t Type, leaseSeconds int) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var best *Job
	for id, j := range m.jobs {
		j := j
		if j.Type != t || j.Status != StatusPending || j.ScheduledAt.After(now) {
			continue
		}
		if best == nil ||
			j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.ScheduledAt.Before(best.ScheduledAt)) {
			jCopy := j
			best = &jCopy
			_ = id
		}
	}
	if best == nil {
		return Job{}, ErrNoJobsAvailable
	}
	exp := now.Add(time.Duration(leaseSeconds) * time.Second)
	best.Status = StatusRunning
	best.LeaseExpiresAt = &exp
	m.jobs[best.ID] = *best
	return *best, nil
}

func (m *memStore) Heartbeat(ctx context.Context, id uuid.UUID, extendSeconds int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusRunning {
		return false, nil
	}
	exp := time.Now().UTC().Add(time.Duration(extendSeconds) * time.Second)
	j.LeaseExpiresAt = &exp
	m.jobs[id] = j
	return true, nil
}

func (m *memStore) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.LeaseExpiresAt = nil
	m.jobs[id] = j
	return true, nil
}

func (m *memStore) Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusRunning {
		return false, false, nil
	}
	j.LastError = errMsg
	j.LeaseExpiresAt = nil
	j.RetryCount++
	if j.MaxRetries > 0 && j.RetryCount < j.MaxRetries {
		j.Status = StatusPending
		m.jobs[id] = j
		return true, false, nil
	}
	j.Status = StatusFailed
	now := time.Now().UTC()
	j.CompletedAt = &now
	m.jobs[id] = j
	return true, true, nil
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j, nil
}

func (m *memStore) Stats(ctx context.Context, t Type) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Type: t}
	for _, j := range m.jobs {
		if j.Type != t {
			continue
		}
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *memStore) ListRecentByType(ctx context.Context, t Type, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.Type == t {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) listFiltered(opts ListOptions) []ListResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ListResult
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.SiteID != nil && (j.SiteID == nil || *j.SiteID != *opts.SiteID) {
			continue
		}
		if opts.SourceID != nil && (j.SourceID == nil || *j.SourceID != *opts.SourceID) {
			continue
		}
		out = append(out, ListResult{Job: j})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Job.CreatedAt.After(out[k].Job.CreatedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func (m *memStore) ListBySource(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return m.listFiltered(opts), nil
}

func (m *memStore) ListBySite(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return m.listFiltered(opts), nil
}

func (m *memStore) List(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return m.listFiltered(opts), nil
}

func (m *memStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusPending || j.LeaseExpiresAt != nil {
		return ErrNotDeletable
	}
	delete(m.jobs, id)
	return nil
}

func (m *memStore) RequeueExpired(ctx context.Context, errMsg string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, j := range m.jobs {
		if j.Status != StatusRunning || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}
		j.LastError = errMsg
		j.LeaseExpiresAt = nil
		j.RetryCount++
		if j.MaxRetries > 0 && j.RetryCount < j.MaxRetries {
			j.Status = StatusPending
		} else {
			j.Status = StatusFailed
			completed := now
			j.CompletedAt = &completed
		}
		m.jobs[id] = j
		n++
	}
	return n, nil
}

func (m *memStore) PurgeTerminal(ctx context.Context, completedOlderThanSeconds, failedOlderThanSeconds int64, batchSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, j := range m.jobs {
		if n >= batchSize {
			break
		}
		if j.CompletedAt == nil {
			continue
		}
		switch j.Status {
		case StatusCompleted:
			if now.Sub(*j.CompletedAt) >= time.Duration(completedOlderThanSeconds)*time.Second {
				delete(m.jobs, id)
				n++
			}
		case StatusFailed:
			if now.Sub(*j.CompletedAt) >= time.Duration(failedOlderThanSeconds)*time.Second {
				delete(m.jobs, id)
				n++
			}
		}
	}
	return n, nil
}

// notify wakes every blocked WaitForNotification call once; tests that need
// repeated wakeups replace waitCh after each notify.
func (m *memStore) notify() {
	close(m.waitCh)
}
