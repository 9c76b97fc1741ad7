package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/domain"
)

// SyncService is the part of the sync orchestrator the API exposes.
type SyncService interface {
	TriggerSync(ctx context.Context, req domain.TriggerSyncRequest) (*domain.SyncJob, error)
	CancelJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*domain.SyncJob, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error)
	ListJobErrors(ctx context.Context, id string, limit, offset int) ([]domain.SyncError, int64, error)
	Wait(ctx context.Context, id string) (*domain.SyncJob, error)
}

// maxJobWait caps the ?wait= long poll.
const maxJobWait = 2 * time.Minute

// SyncHandler handles sync job endpoints.
type SyncHandler struct {
	sync SyncService
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sync SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// TriggerResponse is returned when a job was accepted.
type TriggerResponse struct {
	JobID  string           `json:"jobId"`
	Type   domain.SyncType  `json:"type"`
	Status domain.JobStatus `json:"status"`
}

// WebhookRequest re-syncs specific source records.
type WebhookRequest struct {
	DatasourceID string   `json:"datasourceId" binding:"required"`
	RecordIDs    []string `json:"recordIds" binding:"required,min=1"`
}

// Trigger handles POST /api/v1/sync/trigger.
// Parameters:
//   - c: Gin request context.
// Returns: none (202 with the job id, 409 if the datasource is busy).
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req domain.TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.Type == domain.SyncTypeWebhook {
		respondError(c, domain.NewInvalidArgumentError("use /sync/webhook for webhook syncs"))
		return
	}
	h.trigger(c, req)
}

// Webhook handles POST /api/v1/sync/webhook.
func (h *SyncHandler) Webhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	h.trigger(c, domain.TriggerSyncRequest{
		DatasourceID: req.DatasourceID,
		Type:         domain.SyncTypeWebhook,
		RecordKeys:   req.RecordIDs,
	})
}

func (h *SyncHandler) trigger(c *gin.Context, req domain.TriggerSyncRequest) {
	job, err := h.sync.TriggerSync(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{JobID: job.ID, Type: job.Type, Status: job.Status})
}

// ListJobs handles GET /api/v1/sync/jobs?datasourceId=&status=&limit=.
func (h *SyncHandler) ListJobs(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		respondError(c, err)
		return
	}
	status := domain.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		respondError(c, domain.NewInvalidArgumentError("unknown job status %q", status))
		return
	}
	jobs, err := h.sync.ListJobs(c.Request.Context(), domain.JobFilter{
		DatasourceID: c.Query("datasourceId"),
		Status:       status,
		Limit:        limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

// GetJob handles GET /api/v1/sync/jobs/:id?wait=.
// With wait (a Go duration, capped at maxJobWait) the call blocks until the
// job is terminal; on timeout the current state is returned.
func (h *SyncHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	wait, err := queryDuration(c, "wait")
	if err != nil {
		respondError(c, err)
		return
	}
	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), min(wait, maxJobWait))
		defer cancel()
		job, err := h.sync.Wait(ctx, id)
		if err == nil {
			c.JSON(http.StatusOK, job)
			return
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			respondError(c, err)
			return
		}
	}
	job, err := h.sync.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/v1/sync/jobs/:id/cancel.
// The job stops at its next batch boundary, so the response is 202.
func (h *SyncHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.sync.CancelJob(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": id, "cancelRequested": true})
}

// JobErrors handles GET /api/v1/sync/jobs/:id/errors?limit=&offset=.
func (h *SyncHandler) JobErrors(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		respondError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		respondError(c, err)
		return
	}
	errs, total, err := h.sync.ListJobErrors(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": errs, "total": total, "limit": limit, "offset": offset})
}
