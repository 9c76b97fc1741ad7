package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/domain"
)

// DuplicateService runs duplicate detection.
type DuplicateService interface {
	Detect(ctx context.Context, req domain.DetectDuplicatesRequest) (*domain.DuplicateReport, error)
}

// ReportStore reads persisted duplicate reports.
type ReportStore interface {
	Fetch(ctx context.Context, collection, name string) (*domain.DuplicateReport, error)
}

// DuplicateHandler handles duplicate detection endpoints.
type DuplicateHandler struct {
	detector DuplicateService
	reports  ReportStore
}

// NewDuplicateHandler creates a handler; reports may be nil when no object
// storage is configured.
func NewDuplicateHandler(detector DuplicateService, reports ReportStore) *DuplicateHandler {
	return &DuplicateHandler{detector: detector, reports: reports}
}

// Detect handles POST /api/v1/duplicates/detect.
// Detection runs synchronously; large collections should pass a limit.
func (h *DuplicateHandler) Detect(c *gin.Context) {
	var req domain.DetectDuplicatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	report, err := h.detector.Detect(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetReport handles GET /api/v1/duplicates/reports/:collection/:name.
func (h *DuplicateHandler) GetReport(c *gin.Context) {
	if h.reports == nil {
		respondError(c, domain.NewInvalidArgumentError("report storage is not configured"))
		return
	}
	report, err := h.reports.Fetch(c.Request.Context(), c.Param("collection"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
