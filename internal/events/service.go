package events

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

var ErrNoEvents = fmt.Errorf("events: request has no events")

type Service struct {
	store   Store
	nowFunc func() time.Time
	log     *logger.Logger
}

type ServiceOptions struct {
	Store Store
	Now   func() time.Time
	Log   *logger.Logger
}

func NewService(opts ServiceOptions) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: opts.Store, nowFunc: now, log: opts.Log.With("component", "EventsService")}
}

// IngestBulk normalizes every event in req and persists the batch in one
// store call. Returns the number of events persisted.
func (s *Service) IngestBulk(ctx context.Context, req BulkRequest) (int, error) {
	if len(req.Events) == 0 {
		return 0, ErrNoEvents
	}

	now := s.nowFunc().UTC()
	jobID := req.jobID()
	var sessionID *string
	if req.SessionID != "" {
		sessionID = &req.SessionID
	}

	batch := make([]Event, 0, len(req.Events))
	for _, raw := range req.Events {
		batch = append(batch, raw.normalize(req.BatchID, jobID, sessionID, now))
	}

	if err := s.store.InsertBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("ingest bulk: %w", err)
	}
	s.log.Debug("ingested event batch", "batch_id", req.BatchID, "count", len(batch), "job_id", jobID)
	return len(batch), nil
}
