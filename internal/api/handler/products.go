package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/domain"
)

// ProductValidator checks whether a candidate product already exists.
type ProductValidator interface {
	Validate(ctx context.Context, req domain.ValidateProductRequest) (*domain.ValidationResult, error)
}

// ProductHandler handles pre-insert product checks.
type ProductHandler struct {
	validator ProductValidator
}

// NewProductHandler creates a new product handler.
func NewProductHandler(validator ProductValidator) *ProductHandler {
	return &ProductHandler{validator: validator}
}

// Validate handles POST /api/v1/products/validate.
func (h *ProductHandler) Validate(c *gin.Context) {
	var req domain.ValidateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	result, err := h.validator.Validate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
