package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/domain"
)

// DatasourceService manages datasource descriptors.
type DatasourceService interface {
	Create(ctx context.Context, ds *domain.Datasource) (*domain.Datasource, error)
	Get(ctx context.Context, id string) (*domain.Datasource, error)
	List(ctx context.Context) ([]domain.Datasource, error)
	Delete(ctx context.Context, id string) error
}

// DatasourceHandler handles datasource endpoints.
type DatasourceHandler struct {
	datasources DatasourceService
}

// NewDatasourceHandler creates a new datasource handler.
func NewDatasourceHandler(datasources DatasourceService) *DatasourceHandler {
	return &DatasourceHandler{datasources: datasources}
}

// List handles GET /api/v1/datasources.
func (h *DatasourceHandler) List(c *gin.Context) {
	list, err := h.datasources.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasources": list, "total": len(list)})
}

// Create handles POST /api/v1/datasources.
func (h *DatasourceHandler) Create(c *gin.Context) {
	var ds domain.Datasource
	if err := c.ShouldBindJSON(&ds); err != nil {
		bindError(c, err)
		return
	}
	created, err := h.datasources.Create(c.Request.Context(), &ds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Get handles GET /api/v1/datasources/:id.
func (h *DatasourceHandler) Get(c *gin.Context) {
	ds, err := h.datasources.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// Delete handles DELETE /api/v1/datasources/:id. Refused with 409 while
// sync jobs reference the datasource.
func (h *DatasourceHandler) Delete(c *gin.Context) {
	if err := h.datasources.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
