package scheduler

import (
	"context"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Ticker periodically calls Service.Tick, grounded in the reference
// scheduler's runner goroutine: one ticker, one tick in flight at a time,
// slow ticks simply push the next tick later rather than overlapping.
type Ticker struct {
	svc      *Service
	interval time.Duration
	nowFunc  func() time.Time
	log      *logger.Logger
}

type TickerOptions struct {
	Service  *Service
	Interval time.Duration
	Now      func() time.Time
	Log      *logger.Logger
}

func NewTicker(opts TickerOptions) *Ticker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ticker{
		svc:      opts.Service,
		interval: interval,
		nowFunc:  now,
		log:      opts.Log.With("component", "SchedulerTicker"),
	}
}

// Run ticks until ctx is cancelled, logging each tick's processed count at
// debug level and any tick error as a warning (a failed tick never stops the
// loop; the next tick tries again).
func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			processed, err := t.svc.Tick(ctx, t.nowFunc())
			if err != nil {
				t.log.Warn("tick failed", "error", err)
				continue
			}
			if processed > 0 {
				t.log.Debug("tick processed tasks", "count", processed)
			}
		}
	}
}
