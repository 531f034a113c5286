package app

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// component is one independently startable unit of C10: the HTTP ingress,
// the scheduler ticker, the reaper, or one of the generic runners. Run
// blocks until ctx is cancelled or the component fails fatally.
type component struct {
	name string
	run  func(ctx context.Context) error
}

// Lifecycle composes an arbitrary subset of components into one process,
// grounded in the reference App.Start/Close shape but generalized to start
// any combination of {http, scheduler, reaper, rules-engine, alert-runner,
// secret-refresh-runner} rather than a single hardcoded pair.
type Lifecycle struct {
	components   []component
	drainTimeout time.Duration
	log          *logger.Logger
}

const defaultDrainTimeout = 15 * time.Second

func NewLifecycle(log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		drainTimeout: defaultDrainTimeout,
		log:          log.With("component", "Lifecycle"),
	}
}

func (l *Lifecycle) Add(name string, run func(ctx context.Context) error) {
	l.components = append(l.components, component{name: name, run: run})
}

// Run starts every registered component and blocks until ctx is cancelled
// or one component returns a fatal error, whichever comes first. On either
// trigger it cancels the shared component context and waits up to
// drainTimeout for all components to return before giving up on them.
// Returns the first non-nil component error, if any.
func (l *Lifecycle) Run(ctx context.Context) error {
	if len(l.components) == 0 {
		<-ctx.Done()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(l.components))
	var wg sync.WaitGroup
	for _, c := range l.components {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			l.log.Info("starting component", "component", c.name)
			if err := c.run(runCtx); err != nil && runCtx.Err() == nil {
				l.log.Error("component failed", "component", c.name, "error", err)
				errCh <- err
				return
			}
			l.log.Info("component stopped", "component", c.name)
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-errCh:
	case <-done:
		return firstErr
	}

	cancel()
	select {
	case <-done:
	case <-time.After(l.drainTimeout):
		l.log.Warn("drain timeout exceeded, components still in flight", "timeout", l.drainTimeout)
	}
	return firstErr
}
