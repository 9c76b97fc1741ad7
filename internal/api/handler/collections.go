package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/domain"
)

// CollectionService is the collection registry as seen by the API.
type CollectionService interface {
	EnsureCollection(ctx context.Context, spec domain.CollectionSpec) (*domain.Collection, error)
	Get(ctx context.Context, name string) (*domain.Collection, error)
	List(ctx context.Context) ([]domain.Collection, error)
	Refresh(ctx context.Context, name string) (*domain.Collection, error)
	DeleteCollection(ctx context.Context, name string) error
}

// CollectionHandler handles collection endpoints.
type CollectionHandler struct {
	registry        CollectionService
	defaultDistance domain.DistanceMetric
	defaultHNSW     domain.HNSWParams
}

// NewCollectionHandler creates a handler. Create requests without a distance
// or HNSW parameters get the given defaults.
func NewCollectionHandler(registry CollectionService, distance domain.DistanceMetric, hnsw domain.HNSWParams) *CollectionHandler {
	if distance == "" {
		distance = domain.DistanceCosine
	}
	return &CollectionHandler{registry: registry, defaultDistance: distance, defaultHNSW: hnsw}
}

// List handles GET /api/v1/collections.
func (h *CollectionHandler) List(c *gin.Context) {
	cols, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": cols, "total": len(cols)})
}

// Create handles POST /api/v1/collections. An existing collection with the
// same schema is returned unchanged; a different schema is a 409.
func (h *CollectionHandler) Create(c *gin.Context) {
	var spec domain.CollectionSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		bindError(c, err)
		return
	}
	if spec.Distance == "" {
		spec.Distance = h.defaultDistance
	} else if d, ok := domain.ParseDistance(string(spec.Distance)); ok {
		spec.Distance = d
	}
	if spec.HNSW == (domain.HNSWParams{}) {
		spec.HNSW = h.defaultHNSW
	}
	col, err := h.registry.EnsureCollection(c.Request.Context(), spec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, col)
}

// Get handles GET /api/v1/collections/:name.
func (h *CollectionHandler) Get(c *gin.Context) {
	col, err := h.registry.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

// Refresh handles POST /api/v1/collections/:name/refresh.
func (h *CollectionHandler) Refresh(c *gin.Context) {
	col, err := h.registry.Refresh(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

// Delete handles DELETE /api/v1/collections/:name.
func (h *CollectionHandler) Delete(c *gin.Context) {
	if err := h.registry.DeleteCollection(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
