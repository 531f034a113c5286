package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job is the AutoMigrate schema for the jobs table. Runtime access goes
// through database/sql (internal/jobs.PostgresStore); this struct exists so
// gorm's migrator can create and evolve the table and its indexes.
type Job struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`

	Type        string    `gorm:"column:type;not null;index:idx_jobs_type_status" json:"type"`
	Priority    int       `gorm:"column:priority;not null;default:0" json:"priority"`
	ScheduledAt time.Time `gorm:"column:scheduled_at;not null;default:now();index" json:"scheduled_at"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:now();index" json:"created_at"`

	Status      string     `gorm:"column:status;not null;default:'pending';index:idx_jobs_type_status" json:"status"`
	RetryCount  int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries  int        `gorm:"column:max_retries;not null;default:3" json:"max_retries"`
	LastError   string     `gorm:"column:last_error" json:"last_error,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at;index" json:"completed_at,omitempty"`

	Payload  datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata"`

	SessionID *string    `gorm:"column:session_id;index" json:"session_id,omitempty"`
	SiteID    *uuid.UUID `gorm:"type:uuid;column:site_id;index" json:"site_id,omitempty"`
	SourceID  *uuid.UUID `gorm:"type:uuid;column:source_id;index" json:"source_id,omitempty"`
	IsTest    bool       `gorm:"column:is_test;not null;default:false" json:"is_test"`

	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at;index" json:"lease_expires_at,omitempty"`
	WorkerID       *string    `gorm:"column:worker_id" json:"worker_id,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// JobResult is a supplementary audit row written after a job reaches a
// terminal state, grounded on the reference AlertDeliveryJobResult /
// jobResults.Upsert pattern: one durable record per attempt outcome,
// independent of the jobs row's own bookkeeping fields.
type JobResult struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Type      string         `gorm:"column:type;not null;index" json:"type"`
	Status    string         `gorm:"column:status;not null;index" json:"status"`
	Attempt   int            `gorm:"column:attempt;not null" json:"attempt"`
	Detail    datatypes.JSON `gorm:"type:jsonb;column:detail;not null;default:'{}'" json:"detail"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;default:now();index" json:"created_at"`
}

func (JobResult) TableName() string { return "job_results" }
