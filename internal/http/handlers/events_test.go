package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/events"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

type fakeEventsStore struct {
	batches [][]events.Event
	err     error
}

func (f *fakeEventsStore) InsertBatch(ctx context.Context, batch []events.Event) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func newEventsRouter(t *testing.T, store *fakeEventsStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	svc := events.NewService(events.ServiceOptions{Store: store, Log: log})
	h := NewEventsHandler(svc)

	r := gin.New()
	r.POST("/api/events/bulk", h.IngestBulk)
	return r
}

func TestEventsHandlerIngestBulk(t *testing.T) {
	store := &fakeEventsStore{}
	r := newEventsRouter(t, store)

	body, err := json.Marshal(map[string]any{
		"batch_id":   "9c858f4c-6a3a-4a1a-8b2e-4f4d8c0e6f12",
		"session_id": "sess-1",
		"events": []map[string]any{
			{"type": "page_load", "data": map[string]any{}},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/events/bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Accepted int `json:"accepted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Accepted != 1 {
		t.Fatalf("Accepted = %d, want 1", resp.Accepted)
	}
	if len(store.batches) != 1 {
		t.Fatalf("expected exactly one persisted batch, got %d", len(store.batches))
	}
}

func TestEventsHandlerRejectsEmptyBatch(t *testing.T) {
	store := &fakeEventsStore{}
	r := newEventsRouter(t, store)

	body, err := json.Marshal(map[string]any{"batch_id": "9c858f4c-6a3a-4a1a-8b2e-4f4d8c0e6f12", "events": []map[string]any{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/events/bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestEventsHandlerRejectsMalformedBody(t *testing.T) {
	store := &fakeEventsStore{}
	r := newEventsRouter(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/events/bulk", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestEventsHandlerSurfacesStoreError(t *testing.T) {
	store := &fakeEventsStore{err: errors.New("db unavailable")}
	r := newEventsRouter(t, store)

	body, err := json.Marshal(map[string]any{
		"batch_id": "9c858f4c-6a3a-4a1a-8b2e-4f4d8c0e6f12",
		"events":   []map[string]any{{"type": "x"}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/events/bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
