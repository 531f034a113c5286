package types

import (
	"time"

	"gorm.io/datatypes"
)

// ScheduledTask is the AutoMigrate schema for scheduled_jobs_admin, the
// table internal/jobs/scheduler.PostgresRepository drives its FindDue query
// against.
type ScheduledTask struct {
	ID       string `gorm:"column:id;primaryKey" json:"id"`
	TaskName string `gorm:"column:task_name;not null;uniqueIndex" json:"task_name"`

	IntervalSeconds int64      `gorm:"column:interval_seconds;not null" json:"interval_seconds"`
	LastQueuedAt    *time.Time `gorm:"column:last_queued_at;index" json:"last_queued_at,omitempty"`

	ActiveFireKey      *string    `gorm:"column:active_fire_key" json:"active_fire_key,omitempty"`
	ActiveFireKeySetAt *time.Time `gorm:"column:active_fire_key_set_at" json:"active_fire_key_set_at,omitempty"`

	Payload    datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload"`
	JobType    string         `gorm:"column:job_type;not null" json:"job_type"`
	Priority   int            `gorm:"column:priority;not null;default:0" json:"priority"`
	MaxRetries int            `gorm:"column:max_retries;not null;default:0" json:"max_retries"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

func (ScheduledTask) TableName() string { return "scheduled_jobs_admin" }
