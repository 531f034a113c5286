package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrEmptyBatch = errors.New("events: batch has no events")

// Store persists normalized event batches. Grounded in the job store's
// database/sql discipline: a single multi-row INSERT per batch rather than
// per-row round trips, so a worker reporting hundreds of events per job
// doesn't cost hundreds of statements.
type Store interface {
	InsertBatch(ctx context.Context, batch []Event) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const maxBatchInsertSize = 500

// InsertBatch writes events in chunks of maxBatchInsertSize so a single
// oversized batch can't build an unbounded SQL statement.
func (s *PostgresStore) InsertBatch(ctx context.Context, batch []Event) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	for start := 0; start < len(batch); start += maxBatchInsertSize {
		end := start + maxBatchInsertSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := s.insertChunk(ctx, batch[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) insertChunk(ctx context.Context, chunk []Event) error {
	const cols = 8
	values := make([]interface{}, 0, len(chunk)*cols)
	placeholders := make([]byte, 0, len(chunk)*32)

	for i, ev := range chunk {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)...)
		values = append(values, ev.ID, ev.BatchID, ev.JobID, ev.SessionID, ev.Type, []byte(ev.Data), ev.Timestamp, []byte(ev.Metadata))
	}

	q := fmt.Sprintf(`
INSERT INTO events (id, batch_id, job_id, session_id, type, data, timestamp, metadata)
VALUES %s`, string(placeholders))

	_, err := s.db.ExecContext(ctx, q, values...)
	if err != nil {
		return fmt.Errorf("insert events batch: %w", err)
	}
	return nil
}
