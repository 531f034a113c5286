package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

type fakeStore struct {
	batches [][]Event
	err     error
}

func (f *fakeStore) InsertBatch(ctx context.Context, batch []Event) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func newTestService(t *testing.T, store Store, now func() time.Time) *Service {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewService(ServiceOptions{Store: store, Now: now, Log: log})
}

func TestServiceIngestBulkRejectsEmptyRequest(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, nil)

	_, err := svc.IngestBulk(context.Background(), BulkRequest{})
	if !errors.Is(err, ErrNoEvents) {
		t.Fatalf("err = %v, want ErrNoEvents", err)
	}
	if len(store.batches) != 0 {
		t.Fatal("store should not be touched for an empty request")
	}
}

func TestServiceIngestBulkNormalizesAndPersists(t *testing.T) {
	store := &fakeStore{}
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, func() time.Time { return fixedNow })

	jobID := uuid.New()
	metaRaw, err := json.Marshal(map[string]any{"job_id": jobID.String()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := BulkRequest{
		BatchID:       uuid.New(),
		SessionID:     "sess-1",
		BatchMetadata: metaRaw,
		Events: []RawEvent{
			{Type: "page_load"},
			{Type: "click"},
		},
	}

	count, err := svc.IngestBulk(context.Background(), req)
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if len(store.batches) != 1 || len(store.batches[0]) != 2 {
		t.Fatalf("expected exactly one batch of 2 events persisted, got %+v", store.batches)
	}
	for _, ev := range store.batches[0] {
		if ev.JobID == nil || *ev.JobID != jobID {
			t.Fatalf("expected job_id %v propagated onto every event, got %+v", jobID, ev)
		}
		if ev.SessionID == nil || *ev.SessionID != "sess-1" {
			t.Fatalf("expected session_id propagated, got %+v", ev)
		}
		if !ev.Timestamp.Equal(fixedNow) {
			t.Fatalf("Timestamp = %v, want %v", ev.Timestamp, fixedNow)
		}
	}
}

func TestServiceIngestBulkPropagatesStoreError(t *testing.T) {
	wantErr := errors.New("insert failed")
	store := &fakeStore{err: wantErr}
	svc := newTestService(t, store, nil)

	_, err := svc.IngestBulk(context.Background(), BulkRequest{Events: []RawEvent{{Type: "x"}}})
	if err == nil {
		t.Fatal("expected an error when the store fails")
	}
}
