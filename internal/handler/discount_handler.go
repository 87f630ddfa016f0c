package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	appErrors "github.com/opencove/billing-api/pkg/errors"
	"github.com/opencove/billing-api/pkg/response"
)

type discountService interface {
	Preview(ctx context.Context, req dto.DiscountPreviewRequest) (*models.DiscountQuote, error)
	List(ctx context.Context) ([]dto.DiscountResponse, error)
	Create(ctx context.Context, req dto.CreateDiscountRequest) (*dto.DiscountResponse, error)
	Update(ctx context.Context, code string, req dto.UpdateDiscountRequest) (*dto.DiscountResponse, error)
	Delete(ctx context.Context, code string) error
}

// DiscountHandler exposes the discount preview and admin endpoints.
type DiscountHandler struct {
	service discountService
}

// NewDiscountHandler constructs the handler.
func NewDiscountHandler(service discountService) *DiscountHandler {
	return &DiscountHandler{service: service}
}

// Preview godoc
// @Summary Quote a discount code against a purchase
// @Tags Discounts
// @Accept json
// @Produce json
// @Param payload body dto.DiscountPreviewRequest true "Preview payload"
// @Success 200 {object} response.Envelope
// @Router /discounts/preview [post]
func (h *DiscountHandler) Preview(c *gin.Context) {
	var req dto.DiscountPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid preview payload"))
		return
	}
	quote, err := h.service.Preview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quote, nil)
}

// List godoc
// @Summary List discount codes
// @Tags Discounts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /discounts [get]
func (h *DiscountHandler) List(c *gin.Context) {
	discounts, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, discounts, nil)
}

// Create godoc
// @Summary Create a discount code
// @Tags Discounts
// @Accept json
// @Produce json
// @Param payload body dto.CreateDiscountRequest true "Discount payload"
// @Success 201 {object} response.Envelope
// @Router /discounts [post]
func (h *DiscountHandler) Create(c *gin.Context) {
	var req dto.CreateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid discount payload"))
		return
	}
	discount, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, discount, nil)
}

// Update godoc
// @Summary Update a discount code
// @Tags Discounts
// @Accept json
// @Produce json
// @Param code path string true "Discount code"
// @Param payload body dto.UpdateDiscountRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /discounts/{code} [patch]
func (h *DiscountHandler) Update(c *gin.Context) {
	var req dto.UpdateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid discount payload"))
		return
	}
	discount, err := h.service.Update(c.Request.Context(), c.Param("code"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, discount, nil)
}

// Delete godoc
// @Summary Deactivate a discount code
// @Tags Discounts
// @Produce json
// @Param code path string true "Discount code"
// @Success 204
// @Router /discounts/{code} [delete]
func (h *DiscountHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("code")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
