// Package jobs implements the durable job orchestration core: a typed,
// prioritized, retryable, leased job queue backed by PostgreSQL, a
// notification bridge, the business-rule layer over the store, and the
// generic worker runner used by every role (browser, rules, alert,
// secret refresh, reaper).
package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of job kinds the store understands.
type Type string

const (
	TypeBrowser       Type = "browser"
	TypeRules         Type = "rules"
	TypeAlert         Type = "alert"
	TypeSecretRefresh Type = "secret_refresh"
)

func (t Type) Valid() bool {
	switch t {
	case TypeBrowser, TypeRules, TypeAlert, TypeSecretRefresh:
		return true
	default:
		return false
	}
}

// Status is the job lifecycle state. pending/running are non-terminal;
// completed/failed are terminal and never change once reached.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the central entity of the orchestration core.
type Job struct {
	ID uuid.UUID
	Type Type

	Priority    int
	ScheduledAt time.Time
	CreatedAt   time.Time

	Status      Status
	RetryCount  int
	MaxRetries  int
	LastError   string
	CompletedAt *time.Time

	Payload   json.RawMessage
	Metadata  json.RawMessage
	SessionID *string
	SiteID    *uuid.UUID
	SourceID  *uuid.UUID
	IsTest    bool

	LeaseExpiresAt *time.Time
	WorkerID       *string
}

// CreateJobRequest is the caller-facing request to enqueue a job.
type CreateJobRequest struct {
	Type        Type
	Payload     json.RawMessage
	Priority    int
	Metadata    json.RawMessage
	ScheduledAt time.Time
	MaxRetries  int
	SessionID   *string
	SiteID      *uuid.UUID
	SourceID    *uuid.UUID
	IsTest      bool
}

// DefaultMaxRetries matches the reference job store's insert-time default.
const DefaultMaxRetries = 3

// normalize fills in zero-valued fields with their store-level defaults.
// Mirrors prepareJobData in the reference job repository: MaxRetries
// defaults to DefaultMaxRetries, except test jobs with an unset MaxRetries
// get 0 (no retries) so test fixtures fail fast instead of masking bugs
// behind a retry loop.
func (r CreateJobRequest) normalize(now time.Time) CreateJobRequest {
	out := r
	if out.ScheduledAt.Before(now) {
		out.ScheduledAt = now
	}
	if out.MaxRetries <= 0 {
		if out.IsTest {
			out.MaxRetries = 0
		} else {
			out.MaxRetries = DefaultMaxRetries
		}
	}
	if out.Payload == nil {
		out.Payload = json.RawMessage(`{}`)
	}
	if out.Metadata == nil {
		out.Metadata = json.RawMessage(`{}`)
	}
	return out
}

// Stats is a per-status count snapshot for a job type.
type Stats struct {
	Type      Type
	Pending   int64
	Running   int64
	Completed int64
	Failed    int64
}

// ListOptions governs the various list operations. Pagination is always
// normalized centrally by the Job Service, never left to callers.
type ListOptions struct {
	Type     Type
	SiteID   *uuid.UUID
	SourceID *uuid.UUID
	Limit    int
	Offset   int
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

func (o ListOptions) normalize() ListOptions {
	out := o
	if out.Limit <= 0 {
		out.Limit = defaultListLimit
	}
	if out.Limit > maxListLimit {
		out.Limit = maxListLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

// ListResult is a page of jobs, optionally enriched with the owning site's
// name (best-effort external join; never blocks the transition path).
type ListResult struct {
	Job      Job
	SiteName string
}

// FailureDetails carries the caller's context for a failed job so the
// service layer can enrich and forward a JobFailurePayload.
type FailureDetails struct {
	Scope      string
	ErrorClass string
	Metadata   map[string]string
	Severity   string
	OccurredAt time.Time
}
