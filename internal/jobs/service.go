package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// FailureNotifier is the C8 sink the service hands terminal failures to.
// Defined here (rather than in failurenotifier.go) because it is the
// contract the service depends on; failurenotifier.go provides the concrete
// fan-out implementation.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload JobFailurePayload)
}

// JobFailurePayload is handed to the Failure Notifier exactly once, for the
// terminal transition only.
type JobFailurePayload struct {
	JobID      uuid.UUID
	Type       Type
	SiteID     *uuid.UUID
	SiteName   string
	Scope      string
	Severity   string
	ErrorClass string
	Metadata   map[string]string
	OccurredAt time.Time
}

// SiteNameLookup is a best-effort, short-deadline external collaborator used
// only to enrich failure notifications with a human-readable site name. Its
// absence or failure never blocks a job transition.
type SiteNameLookup interface {
	SiteName(ctx context.Context, siteID uuid.UUID) (string, error)
}

// Service is the thin business layer (C4) over Store: lease normalization,
// failure enrichment/fan-out, and centralized pagination.
type Service struct {
	store    Store
	notifier *Notifier
	lease    LeasePolicy
	failures FailureNotifier
	sites    SiteNameLookup
	log      *logger.Logger
}

type ServiceOptions struct {
	Store           Store
	Notifier        *Notifier
	LeasePolicy     LeasePolicy
	FailureNotifier FailureNotifier
	Sites           SiteNameLookup
	Log             *logger.Logger
}

func NewService(opts ServiceOptions) *Service {
	lp := opts.LeasePolicy
	if lp.Default == 0 {
		lp = DefaultLeasePolicy()
	}
	return &Service{
		store:    opts.Store,
		notifier: opts.Notifier,
		lease:    lp,
		failures: opts.FailureNotifier,
		sites:    opts.Sites,
		log:      opts.Log.With("component", "JobService"),
	}
}

func (s *Service) Create(ctx context.Context, req CreateJobRequest) (Job, error) {
	return s.store.Create(ctx, req)
}

func (s *Service) ReserveNext(ctx context.Context, t Type, requestedLease time.Duration) (Job, Decision, error) {
	decision := s.lease.Resolve(requestedLease)
	if decision.Clamped {
		s.log.Debug("lease clamped", "type", t, "requested", requestedLease, "resolved_seconds", decision.Seconds)
	}
	job, err := s.store.ReserveNext(ctx, t, decision.Seconds)
	return job, decision, err
}

// Subscribe exposes the Notifier to runners. If no notifier is configured,
// callers get an already-closed channel and must rely on periodic polling.
func (s *Service) Subscribe(ctx context.Context, t Type) (<-chan struct{}, func()) {
	if s.notifier == nil {
		return closedChan, func() {}
	}
	return s.notifier.Subscribe(ctx, t)
}

func (s *Service) WaitForNotification(ctx context.Context, t Type) error {
	return s.store.WaitForNotification(ctx, t)
}

func (s *Service) Heartbeat(ctx context.Context, id uuid.UUID, requestedExtend time.Duration) (bool, Decision, error) {
	decision := s.lease.Resolve(requestedExtend)
	ok, err := s.store.Heartbeat(ctx, id, decision.Seconds)
	return ok, decision, err
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.store.Complete(ctx, id)
}

// Fail applies the retry rule via the store, then — only for the terminal
// transition — enriches and forwards a JobFailurePayload to the Failure
// Notifier. Matches the reference service's FailWithDetails/
// buildJobFailurePayload behavior.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, errMsg string, details FailureDetails) (ok bool, terminal bool, err error) {
	ok, terminal, err = s.store.Fail(ctx, id, errMsg)
	if err != nil || !ok || !terminal {
		return ok, terminal, err
	}

	job, getErr := s.store.GetByID(ctx, id)
	if getErr != nil {
		s.log.Warn("failure enrichment: could not reload job", "job_id", id, "error", getErr)
		return ok, terminal, nil
	}
	s.notifyTerminalFailure(ctx, job, details)
	return ok, terminal, nil
}

func (s *Service) notifyTerminalFailure(ctx context.Context, job Job, details FailureDetails) {
	if s.failures == nil {
		return
	}

	severity := details.Severity
	if severity == "" {
		severity = "critical"
	}
	occurred := details.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	meta := mergeMetadata(details.Metadata, map[string]string{
		"retry_count": fmt.Sprintf("%d", job.RetryCount),
		"max_retries": fmt.Sprintf("%d", job.MaxRetries),
		"priority":    fmt.Sprintf("%d", job.Priority),
		"status":      string(job.Status),
		"error_class": details.ErrorClass,
	})

	siteName := ""
	if job.SiteID != nil && s.sites != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		name, err := s.sites.SiteName(lookupCtx, *job.SiteID)
		cancel()
		if err == nil {
			siteName = name
		}
	}

	s.failures.NotifyJobFailure(ctx, JobFailurePayload{
		JobID:      job.ID,
		Type:       job.Type,
		SiteID:     job.SiteID,
		SiteName:   siteName,
		Scope:      details.Scope,
		Severity:   severity,
		ErrorClass: details.ErrorClass,
		Metadata:   meta,
		OccurredAt: occurred,
	})
}

func mergeMetadata(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	for k, v := range overlay {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (Job, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) Stats(ctx context.Context, t Type) (Stats, error) {
	return s.store.Stats(ctx, t)
}

func (s *Service) ListRecentByType(ctx context.Context, t Type, limit int) ([]Job, error) {
	o := ListOptions{Limit: limit}.normalize()
	return s.store.ListRecentByType(ctx, t, o.Limit)
}

func (s *Service) ListBySource(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return s.store.ListBySource(ctx, opts.normalize())
}

func (s *Service) ListBySite(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return s.store.ListBySite(ctx, opts.normalize())
}

func (s *Service) List(ctx context.Context, opts ListOptions) ([]ListResult, error) {
	return s.store.List(ctx, opts.normalize())
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

// StopAllListeners stops the notifier's bridge goroutines. Safe to call
// during shutdown even if no notifier was configured.
func (s *Service) StopAllListeners() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
