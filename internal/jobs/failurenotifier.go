package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Sink delivers one failure payload to an external collaborator (Slack,
// PagerDuty, a generic webhook). Sinks may be absent entirely; the fan-out
// below is a no-op with zero sinks registered.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, payload JobFailurePayload) error
}

// FanoutFailureNotifier is the concrete C8 implementation: sanitizes the
// payload, then delivers to every registered sink with bounded per-sink
// retry. Construction failures in one sink never block another.
type FanoutFailureNotifier struct {
	sinks      []Sink
	maxRetries int
	retryDelay time.Duration
	log        *logger.Logger
}

type FailureNotifierOptions struct {
	Sinks      []Sink
	MaxRetries int
	RetryDelay time.Duration
	Log        *logger.Logger
}

func NewFanoutFailureNotifier(opts FailureNotifierOptions) *FanoutFailureNotifier {
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 3
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &FanoutFailureNotifier{
		sinks:      opts.Sinks,
		maxRetries: maxRetries,
		retryDelay: delay,
		log:        opts.Log.With("component", "FailureNotifier"),
	}
}

func (n *FanoutFailureNotifier) NotifyJobFailure(ctx context.Context, payload JobFailurePayload) {
	payload = sanitizePayload(payload)
	if len(n.sinks) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sink := range n.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			n.deliverWithRetry(ctx, s, payload)
		}(sink)
	}
	wg.Wait()
}

func (n *FanoutFailureNotifier) deliverWithRetry(ctx context.Context, sink Sink, payload JobFailurePayload) {
	var lastErr error
	for attempt := 1; attempt <= n.maxRetries; attempt++ {
		if err := sink.Deliver(ctx, payload); err != nil {
			lastErr = err
			n.log.Warn("sink delivery failed", "sink", sink.Name(), "attempt", attempt, "job_id", payload.JobID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.retryDelay * time.Duration(attempt)):
			}
			continue
		}
		return
	}
	n.log.Error("sink delivery exhausted retries", "sink", sink.Name(), "job_id", payload.JobID, "error", lastErr)
}

func sanitizePayload(p JobFailurePayload) JobFailurePayload {
	if p.Severity == "" {
		p.Severity = "critical"
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = time.Now().UTC()
	}
	clean := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		clean[k] = v
	}
	p.Metadata = clean
	return p
}
