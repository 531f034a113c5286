// Package events persists the observation stream workers report back while
// executing a job (browser actions, rule matches, secret-refresh outcomes),
// batched via the POST /api/events/bulk contract.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one normalized observation within a batch.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	BatchID   uuid.UUID       `json:"batch_id"`
	JobID     *uuid.UUID      `json:"job_id,omitempty"`
	SessionID *string         `json:"session_id,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RawEvent is one event as submitted on the wire, before normalization.
type RawEvent struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp *time.Time      `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
}

// BulkRequest is the POST /api/events/bulk body: a single batch id, the
// session the events belong to, the events themselves, and batch-level
// metadata (which carries the owning job id).
type BulkRequest struct {
	BatchID       uuid.UUID       `json:"batch_id"`
	SessionID     string          `json:"session_id"`
	Events        []RawEvent      `json:"events"`
	BatchMetadata json.RawMessage `json:"batch_metadata"`
}

// batchMetadata is the subset of BatchMetadata this package reads: only the
// job id. BatchMetadata itself is not persisted, so any other keys are dropped.
type batchMetadata struct {
	JobID *uuid.UUID `json:"job_id"`
}

func (r BulkRequest) jobID() *uuid.UUID {
	if len(r.BatchMetadata) == 0 {
		return nil
	}
	var bm batchMetadata
	if err := json.Unmarshal(r.BatchMetadata, &bm); err != nil {
		return nil
	}
	return bm.JobID
}

// normalize converts one RawEvent into a persisted Event, defaulting an
// absent timestamp to now and an absent or empty data or metadata blob to an
// empty JSON object; a non-empty blob is kept as sent, without validation.
func (r RawEvent) normalize(batchID uuid.UUID, jobID *uuid.UUID, sessionID *string, now time.Time) Event {
	ts := now
	if r.Timestamp != nil {
		ts = *r.Timestamp
	}
	data := r.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	meta := r.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	return Event{
		ID:        uuid.New(),
		BatchID:   batchID,
		JobID:     jobID,
		SessionID: sessionID,
		Type:      r.Type,
		Data:      data,
		Timestamp: ts,
		Metadata:  meta,
		CreatedAt: now,
	}
}
