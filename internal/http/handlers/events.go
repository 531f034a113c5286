package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/events"
	"github.com/yungbote/neurobridge-backend/internal/http/response"
)

// EventsHandler backs POST /api/events/bulk: workers stream observed
// events here, tagged with the owning job id in batch metadata.
type EventsHandler struct {
	svc *events.Service
}

func NewEventsHandler(svc *events.Service) *EventsHandler {
	return &EventsHandler{svc: svc}
}

func (h *EventsHandler) IngestBulk(c *gin.Context) {
	var req events.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	count, err := h.svc.IngestBulk(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, events.ErrNoEvents) {
			response.RespondError(c, http.StatusBadRequest, "empty_batch", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "ingest_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": count})
}
