package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/jobs"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Service is the scheduler's tick driver: each Tick lists
// due tasks and, for each, acquires the task's advisory lock before
// deciding whether to enqueue or merely mark the tick seen.
type Service struct {
	repo    Repository
	intro   JobIntrospector
	jobs    *jobs.Service
	cfg     Config
	nowFunc func() time.Time
	log     *logger.Logger
}

type ServiceOptions struct {
	Repository      Repository
	JobIntrospector JobIntrospector
	Jobs            *jobs.Service
	Config          Config
	Now             func() time.Time
	Log             *logger.Logger
}

func NewService(opts ServiceOptions) *Service {
	cfg := opts.Config
	cfg.Sanitize()
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:    opts.Repository,
		intro:   opts.JobIntrospector,
		jobs:    opts.Jobs,
		cfg:     cfg,
		nowFunc: now,
		log:     opts.Log.With("component", "Scheduler"),
	}
}

// Tick processes due scheduled tasks and enqueues jobs according to the
// overrun strategy. Returns the number of tasks that were actually worked
// (lock acquired, and either enqueued or marked).
func (s *Service) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.FindDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due: %w", err)
	}

	processed := 0
	for _, task := range due {
		locked, err := s.repo.TryWithTaskLock(ctx, task.TaskName, func(ctx context.Context) error {
			return s.processTask(ctx, task, now)
		})
		if err != nil {
			s.log.Warn("process task failed", "task_name", task.TaskName, "error", err)
			continue
		}
		if locked {
			processed++
		}
	}
	return processed, nil
}

func (s *Service) processTask(ctx context.Context, task Task, now time.Time) error {
	strategy := s.cfg.Strategy

	if strategy.Overrun == OverrunSkip {
		states, err := s.intro.StatesByTaskName(ctx, task.TaskName, now)
		if err != nil {
			return fmt.Errorf("introspect states: %w", err)
		}
		if states&strategy.OverrunStates != 0 {
			_, err := s.repo.MarkQueued(ctx, task.ID, now)
			return err
		}
	}

	fireKey := uuid.New().String()
	if err := s.enqueueJob(ctx, task, fireKey, now); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	if _, err := s.repo.MarkQueued(ctx, task.ID, now); err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	return s.repo.UpdateActiveFireKey(ctx, task.ID, &fireKey, now)
}

func (s *Service) enqueueJob(ctx context.Context, task Task, fireKey string, now time.Time) error {
	jobType := task.JobType
	if jobType == "" {
		jobType = s.cfg.DefaultJobType
	}
	priority := task.Priority
	if priority == 0 {
		priority = s.cfg.DefaultPriority
	}
	maxRetries := task.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.cfg.MaxRetries
	}

	meta := map[string]any{
		"scheduler.task_name": task.TaskName,
		"scheduler.interval":  task.Interval.String(),
		"scheduler.fire_key":  fireKey,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(task.Payload)
	if err != nil {
		return err
	}

	_, err = s.jobs.Create(ctx, jobs.CreateJobRequest{
		Type:        jobType,
		Payload:     payloadJSON,
		Priority:    priority,
		Metadata:    metaJSON,
		ScheduledAt: now,
		MaxRetries:  maxRetries,
	})
	return err
}
