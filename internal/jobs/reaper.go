package jobs

import (
	"context"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// ReaperConfig bounds the Reaper's sweep behavior.
type ReaperConfig struct {
	Interval         time.Duration
	PendingMaxAge    time.Duration
	CompletedMaxAge  time.Duration
	FailedMaxAge     time.Duration
	JobResultsMaxAge time.Duration
	BatchSize        int
}

// Sanitize applies guardrails mirroring the reference reaper config: a
// floor on the tick interval and retention windows to avoid accidental
// aggressive sweeps, and a clamp on batch size to bound lock/IO spikes.
func (c *ReaperConfig) Sanitize() {
	if c.Interval < time.Minute {
		c.Interval = time.Minute
	}
	if c.PendingMaxAge < 5*time.Minute {
		c.PendingMaxAge = 5 * time.Minute
	}
	if c.CompletedMaxAge < time.Hour {
		c.CompletedMaxAge = time.Hour
	}
	if c.FailedMaxAge < time.Hour {
		c.FailedMaxAge = time.Hour
	}
	if c.JobResultsMaxAge < 24*time.Hour {
		c.JobResultsMaxAge = 24 * time.Hour
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.BatchSize > 10000 {
		c.BatchSize = 10000
	}
}

func DefaultReaperConfig() ReaperConfig {
	c := ReaperConfig{
		Interval:         5 * time.Minute,
		PendingMaxAge:    time.Hour,
		CompletedMaxAge:  168 * time.Hour,
		FailedMaxAge:     168 * time.Hour,
		JobResultsMaxAge: 2160 * time.Hour,
		BatchSize:        1000,
	}
	c.Sanitize()
	return c
}

// Reaper periodically expires overdue leases and purges old terminal jobs.
// Every operation is conditional on the row's current status, so it is safe
// to run concurrently with other reapers and with in-flight workers.
type Reaper struct {
	store Store
	cfg   ReaperConfig
	log   *logger.Logger
}

func NewReaper(store Store, cfg ReaperConfig, log *logger.Logger) *Reaper {
	cfg.Sanitize()
	return &Reaper{store: store, cfg: cfg, log: log.With("component", "Reaper")}
}

// Tick runs one sweep: expire overdue leases, then purge retained terminal
// rows. Returns (expired, purged, error).
func (r *Reaper) Tick(ctx context.Context) (expired int, purged int, err error) {
	expired, err = r.store.RequeueExpired(ctx, "lease expired")
	if err != nil {
		return 0, 0, err
	}
	if expired > 0 {
		r.log.Info("reaper expired overdue leases", "count", expired)
	}

	purged, err = r.store.PurgeTerminal(
		ctx,
		int64(r.cfg.CompletedMaxAge.Seconds()),
		int64(r.cfg.FailedMaxAge.Seconds()),
		r.cfg.BatchSize,
	)
	if err != nil {
		return expired, 0, err
	}
	if purged > 0 {
		r.log.Info("reaper purged terminal jobs", "count", purged)
	}
	return expired, purged, nil
}

// Run ticks at cfg.Interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := r.Tick(ctx); err != nil {
				r.log.Warn("reaper tick failed", "error", err)
			}
		}
	}
}
