// Package scheduler materializes due scheduled tasks into jobs under a
// configurable overrun policy (C6), using per-task Postgres advisory locks
// so two scheduler replicas never double-fire the same tick.
package scheduler

import (
	"time"

	"github.com/yungbote/neurobridge-backend/internal/jobs"
)

// OverrunPolicy governs what happens when a task is due again while its
// previous fire is still occupying matching job states.
type OverrunPolicy string

const (
	// OverrunSkip marks the task as seen without enqueuing a new job if any
	// existing job for the task is in a blocking state.
	OverrunSkip OverrunPolicy = "skip"
	// OverrunQueue always enqueues, regardless of prior state.
	OverrunQueue OverrunPolicy = "queue"
)

// OverrunStateMask is a small bitmask of job states that block a Skip-policy
// enqueue when matched.
type OverrunStateMask uint8

const (
	OverrunStateRunning OverrunStateMask = 1 << iota
	OverrunStatePending
	OverrunStateRetrying

	OverrunStatesDefault = OverrunStateRunning
)

func (m OverrunStateMask) Has(bit OverrunStateMask) bool { return m&bit != 0 }

// StrategyOptions bundles the overrun policy with its state mask.
type StrategyOptions struct {
	Overrun       OverrunPolicy
	OverrunStates OverrunStateMask
}

// Task is a scheduled task row: a named, periodic source of jobs.
type Task struct {
	ID                 string
	TaskName           string
	Interval           time.Duration
	LastQueuedAt       *time.Time
	ActiveFireKey      *string
	ActiveFireKeySetAt *time.Time
	Payload            map[string]any
	JobType            jobs.Type
	Priority           int
	MaxRetries         int
}

// Due reports whether t should fire at now, per spec.md §3: due when
// last_queued_at is null or now - last_queued_at >= interval.
func (t Task) Due(now time.Time) bool {
	if t.LastQueuedAt == nil {
		return true
	}
	return now.Sub(*t.LastQueuedAt) >= t.Interval
}

// Config mirrors the reference scheduler's defaults.
type Config struct {
	BatchSize       int
	DefaultJobType  jobs.Type
	DefaultPriority int
	MaxRetries      int
	Strategy        StrategyOptions
}

func DefaultConfig() Config {
	return Config{
		BatchSize:       25,
		DefaultJobType:  jobs.TypeBrowser,
		DefaultPriority: 0,
		MaxRetries:      3,
		Strategy: StrategyOptions{
			Overrun:       OverrunSkip,
			OverrunStates: OverrunStatesDefault,
		},
	}
}

func (c *Config) Sanitize() {
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Strategy.OverrunStates == 0 {
		c.Strategy.OverrunStates = OverrunStatesDefault
	}
}

// TickResult reports one tick's outcome for tests and metrics.
type TickResult struct {
	Considered int
	Enqueued   int
	Marked     int
}
