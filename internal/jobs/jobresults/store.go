// Package jobresults persists the JobResult audit trail: one durable row
// per terminal attempt outcome for the alert and secret-refresh runners,
// grounded in the reference AlertDeliveryJobResult / jobResults.Upsert
// pattern. It is additive bookkeeping, not part of the job lifecycle state
// machine itself.
package jobresults

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type Result struct {
	JobID   uuid.UUID
	Type    string
	Status  string
	Attempt int
	Detail  json.RawMessage
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert records one attempt outcome. Unlike the jobs table's conditional
// status updates, this is a pure insert — every attempt gets its own row so
// the audit trail is append-only.
func (s *Store) Upsert(ctx context.Context, r Result) error {
	detail := r.Detail
	if len(detail) == 0 {
		detail = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_results (id, job_id, type, status, attempt, detail, created_at)
VALUES (uuid_generate_v4(), $1, $2, $3, $4, $5, now())`,
		r.JobID, r.Type, r.Status, r.Attempt, []byte(detail))
	if err != nil {
		return fmt.Errorf("job results upsert: %w", err)
	}
	return nil
}
