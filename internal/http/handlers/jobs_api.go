package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/http/response"
	"github.com/yungbote/neurobridge-backend/internal/jobs"
)

// marshalOrEmptyObject marshals v, defaulting a nil/zero value to an empty
// JSON object so downstream json.RawMessage columns never see a bare null.
func marshalOrEmptyObject(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return json.RawMessage(`{}`), nil
	}
	return b, nil
}

// JobsAPIHandler exposes the job-orchestration HTTP boundary: create,
// reserve_next (long-poll), complete, fail, heartbeat. Every route here
// sits behind ServiceAuthMiddleware.RequireService — this is the worker
// wire protocol, not an end-user API.
type JobsAPIHandler struct {
	svc *jobs.Service
}

func NewJobsAPIHandler(svc *jobs.Service) *JobsAPIHandler {
	return &JobsAPIHandler{svc: svc}
}

type createJobRequest struct {
	Type        jobs.Type         `json:"type"`
	Payload     interface{}       `json:"payload"`
	Priority    int               `json:"priority"`
	Metadata    map[string]string `json:"metadata"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
	MaxRetries  *int              `json:"max_retries"`
	SessionID   *string           `json:"session_id"`
	SiteID      *uuid.UUID        `json:"site_id"`
	SourceID    *uuid.UUID        `json:"source_id"`
	IsTest      bool              `json:"is_test"`
}

// POST /api/jobs
func (h *JobsAPIHandler) Create(c *gin.Context) {
	var body createJobRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	t := body.Type
	if !t.Valid() {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_type", errInvalidJobType)
		return
	}

	payloadJSON, err := marshalOrEmptyObject(body.Payload)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}
	metadataJSON, err := marshalOrEmptyObject(body.Metadata)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_metadata", err)
		return
	}

	req := jobs.CreateJobRequest{
		Type:      t,
		Payload:   payloadJSON,
		Priority:  body.Priority,
		Metadata:  metadataJSON,
		SessionID: body.SessionID,
		SiteID:    body.SiteID,
		SourceID:  body.SourceID,
		IsTest:    body.IsTest,
	}
	if body.ScheduledAt != nil {
		req.ScheduledAt = *body.ScheduledAt
	}
	if body.MaxRetries != nil {
		req.MaxRetries = *body.MaxRetries
	}

	job, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_job_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// GET /api/jobs/:type/reserve_next?lease=<seconds>&wait=<seconds>
// The route segment is named :id (gin requires one wildcard name per path
// position, shared with GET /api/jobs/:id) but carries a job Type here.
func (h *JobsAPIHandler) ReserveNext(c *gin.Context) {
	t := jobs.Type(c.Param("id"))
	if !t.Valid() {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_type", errInvalidJobType)
		return
	}

	lease := queryDurationSeconds(c, "lease", 0)
	wait := queryDurationSeconds(c, "wait", 0)

	ctx := c.Request.Context()
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	job, _, err := h.reserveWithWait(ctx, t, lease, wait)
	if err != nil {
		if errors.Is(err, jobs.ErrNoJobsAvailable) {
			c.Status(http.StatusNoContent)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "reserve_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// reserveWithWait tries an immediate reservation and, on ErrNoJobsAvailable
// with wait>0, subscribes and blocks until woken, the wait deadline lapses,
// or the request is cancelled — mirroring the long-poll contract in full.
func (h *JobsAPIHandler) reserveWithWait(ctx context.Context, t jobs.Type, lease, wait time.Duration) (jobs.Job, jobs.Decision, error) {
	job, decision, err := h.svc.ReserveNext(ctx, t, lease)
	if err == nil || !errors.Is(err, jobs.ErrNoJobsAvailable) || wait <= 0 {
		return job, decision, err
	}

	notifyCh, unsubscribe := h.svc.Subscribe(ctx, t)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return jobs.Job{}, jobs.Decision{}, jobs.ErrNoJobsAvailable
		case <-notifyCh:
			job, decision, err = h.svc.ReserveNext(ctx, t, lease)
			if err == nil || !errors.Is(err, jobs.ErrNoJobsAvailable) {
				return job, decision, err
			}
		}
	}
}

type heartbeatRequest struct {
	LeaseSeconds int `json:"lease_seconds"`
}

// POST /api/jobs/:id/heartbeat
func (h *JobsAPIHandler) Heartbeat(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var body heartbeatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	ok, _, err := h.svc.Heartbeat(c.Request.Context(), id, time.Duration(body.LeaseSeconds)*time.Second)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "heartbeat_failed", err)
		return
	}
	if !ok {
		response.RespondError(c, http.StatusConflict, "not_running", errJobNotRunning)
		return
	}
	c.Status(http.StatusOK)
}

// POST /api/jobs/:id/complete
func (h *JobsAPIHandler) Complete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	ok, err := h.svc.Complete(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "complete_failed", err)
		return
	}
	if !ok {
		response.RespondError(c, http.StatusConflict, "not_running", errJobNotRunning)
		return
	}
	c.Status(http.StatusOK)
}

type failRequest struct {
	Error string `json:"error"`
}

// POST /api/jobs/:id/fail
func (h *JobsAPIHandler) Fail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var body failRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	ok, _, err := h.svc.Fail(c.Request.Context(), id, body.Error, jobs.FailureDetails{Scope: "handler"})
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "fail_failed", err)
		return
	}
	if !ok {
		response.RespondError(c, http.StatusConflict, "not_running", errJobNotRunning)
		return
	}
	c.Status(http.StatusOK)
}

// GET /api/jobs/:id
func (h *JobsAPIHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func queryDurationSeconds(c *gin.Context, key string, def time.Duration) time.Duration {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

var (
	errInvalidJobType = errors.New("invalid job type")
	errJobNotRunning  = errors.New("job is not in running state")
)
