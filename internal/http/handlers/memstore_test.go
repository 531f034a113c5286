package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/jobs"
)

// fakeStore is a minimal in-memory jobs.Store used only by this package's
// HTTP handler tests, reproducing the conditional-transition semantics the
// handlers depend on (reserve/heartbeat/complete/fail are no-ops unless the
// row is in the expected state) without a database.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]jobs.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]jobs.Job)}
}

func (s *fakeStore) WaitForNotification(ctx context.Context, t jobs.Type) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeStore) Create(ctx context.Context, req jobs.CreateJobRequest) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	maxRetries := req.MaxRetries
	if maxRetries <= 0 && !req.IsTest {
		maxRetries = jobs.DefaultMaxRetries
	}
	j := jobs.Job{
		ID:         uuid.New(),
		Type:       req.Type,
		Priority:   req.Priority,
		CreatedAt:  now,
		Status:     jobs.StatusPending,
		MaxRetries: maxRetries,
		Payload:    req.Payload,
		Metadata:   req.Metadata,
		SessionID:  req.SessionID,
		SiteID:     req.SiteID,
		SourceID:   req.SourceID,
		IsTest:     req.IsTest,
	}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *fakeStore) ReserveNext(ctx context.Context, t jobs.Type, leaseSeconds int) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.Type != t || j.Status != jobs.StatusPending {
			continue
		}
		exp := time.Now().UTC().Add(time.Duration(leaseSeconds) * time.Second)
		j.Status = jobs.StatusRunning
		j.LeaseExpiresAt = &exp
		s.jobs[id] = j
		return j, nil
	}
	return jobs.Job{}, jobs.ErrNoJobsAvailable
}

func (s *fakeStore) Heartbeat(ctx context.Context, id uuid.UUID, extendSeconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != jobs.StatusRunning {
		return false, nil
	}
	exp := time.Now().UTC().Add(time.Duration(extendSeconds) * time.Second)
	j.LeaseExpiresAt = &exp
	s.jobs[id] = j
	return true, nil
}

func (s *fakeStore) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != jobs.StatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = jobs.StatusCompleted
	j.CompletedAt = &now
	j.LeaseExpiresAt = nil
	s.jobs[id] = j
	return true, nil
}

func (s *fakeStore) Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != jobs.StatusRunning {
		return false, false, nil
	}
	j.LastError = errMsg
	j.LeaseExpiresAt = nil
	j.RetryCount++
	if j.MaxRetries > 0 && j.RetryCount < j.MaxRetries {
		j.Status = jobs.StatusPending
		s.jobs[id] = j
		return true, false, nil
	}
	j.Status = jobs.StatusFailed
	now := time.Now().UTC()
	j.CompletedAt = &now
	s.jobs[id] = j
	return true, true, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return j, nil
}

func (s *fakeStore) Stats(ctx context.Context, t jobs.Type) (jobs.Stats, error) {
	return jobs.Stats{Type: t}, nil
}

func (s *fakeStore) ListRecentByType(ctx context.Context, t jobs.Type, limit int) ([]jobs.Job, error) {
	return nil, nil
}

func (s *fakeStore) ListBySource(ctx context.Context, opts jobs.ListOptions) ([]jobs.ListResult, error) {
	return nil, nil
}

func (s *fakeStore) ListBySite(ctx context.Context, opts jobs.ListOptions) ([]jobs.ListResult, error) {
	return nil, nil
}

func (s *fakeStore) List(ctx context.Context, opts jobs.ListOptions) ([]jobs.ListResult, error) {
	return nil, nil
}

func (s *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if j.Status != jobs.StatusPending || j.LeaseExpiresAt != nil {
		return jobs.ErrNotDeletable
	}
	delete(s.jobs, id)
	return nil
}

func (s *fakeStore) RequeueExpired(ctx context.Context, errMsg string) (int, error) {
	return 0, nil
}

func (s *fakeStore) PurgeTerminal(ctx context.Context, completedOlderThanSeconds, failedOlderThanSeconds int64, batchSize int) (int, error) {
	return 0, nil
}
