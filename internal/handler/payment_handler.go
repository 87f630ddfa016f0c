package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	appErrors "github.com/opencove/billing-api/pkg/errors"
	"github.com/opencove/billing-api/pkg/response"
)

type paymentService interface {
	CreateIntent(ctx context.Context, memberID string, req dto.CreateIntentRequest) (*dto.CreateIntentResponse, error)
	Get(ctx context.Context, memberID, reference string, admin bool) (*models.Payment, error)
	ListMine(ctx context.Context, memberID string, req dto.PaymentListRequest) ([]models.Payment, *models.Pagination, error)
	Receipt(ctx context.Context, memberID, reference string, admin bool) ([]byte, error)
}

type fulfillmentService interface {
	HandleGatewayEvent(ctx context.Context, event dto.WebhookEvent) error
	Confirm(ctx context.Context, reference string) (*models.Payment, error)
	Replay(ctx context.Context, reference string) (*models.Payment, error)
}

type webhookVerifier interface {
	ValidSignature(body []byte, signature string) bool
}

// PaymentHandler exposes the payment intent, settlement and history endpoints.
type PaymentHandler struct {
	payments      paymentService
	fulfillment   fulfillmentService
	verifier      webhookVerifier
	webhookHeader string
}

// NewPaymentHandler constructs the handler.
func NewPaymentHandler(payments paymentService, fulfillment fulfillmentService, verifier webhookVerifier, webhookHeader string) *PaymentHandler {
	return &PaymentHandler{
		payments:      payments,
		fulfillment:   fulfillment,
		verifier:      verifier,
		webhookHeader: webhookHeader,
	}
}

func adminRole(role models.UserRole) bool {
	return role == models.RoleSuperAdmin || role == models.RoleAdmin || role == models.RoleOperator
}

// CreateIntent godoc
// @Summary Create a payment intent
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body dto.CreateIntentRequest true "Intent payload"
// @Success 201 {object} response.Envelope
// @Router /payments/intents [post]
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid intent payload"))
		return
	}
	if req.PayerEmail == "" {
		req.PayerEmail = claims.Email
	}
	intent, err := h.payments.CreateIntent(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, intent, nil)
}

// List godoc
// @Summary List the caller's payments
// @Tags Payments
// @Produce json
// @Param status query string false "Payment status"
// @Param purpose query string false "Payment purpose"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req := dto.PaymentListRequest{
		Status:  models.PaymentStatus(strings.ToUpper(c.Query("status"))),
		Purpose: models.PaymentPurpose(strings.ToUpper(c.Query("purpose"))),
	}
	req.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	req.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	payments, pagination, err := h.payments.ListMine(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, dto.PaymentFromModel(&payments[i]))
	}
	response.JSON(c, http.StatusOK, out, pagination)
}

// Get godoc
// @Summary Get one payment
// @Tags Payments
// @Produce json
// @Param reference path string true "Payment reference"
// @Success 200 {object} response.Envelope
// @Router /payments/{reference} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	payment, err := h.payments.Get(c.Request.Context(), claims.UserID, c.Param("reference"), adminRole(claims.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PaymentFromModel(payment), nil)
}

// Confirm godoc
// @Summary Confirm a payment against the gateway
// @Description Client-driven fallback when the settlement webhook was lost.
// @Tags Payments
// @Produce json
// @Param reference path string true "Payment reference"
// @Success 200 {object} response.Envelope
// @Router /payments/{reference}/confirm [post]
func (h *PaymentHandler) Confirm(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	reference := c.Param("reference")
	// Ownership check before touching the gateway.
	if _, err := h.payments.Get(c.Request.Context(), claims.UserID, reference, adminRole(claims.Role)); err != nil {
		response.Error(c, err)
		return
	}
	payment, err := h.fulfillment.Confirm(c.Request.Context(), reference)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PaymentFromModel(payment), nil)
}

// Receipt godoc
// @Summary Download a PDF receipt
// @Tags Payments
// @Produce application/pdf
// @Param reference path string true "Payment reference"
// @Success 200 {file} binary
// @Router /payments/{reference}/receipt [get]
func (h *PaymentHandler) Receipt(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	reference := c.Param("reference")
	data, err := h.payments.Receipt(c.Request.Context(), claims.UserID, reference, adminRole(claims.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="receipt-`+reference+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", data)
}

// Replay godoc
// @Summary Replay a dead-lettered payment
// @Tags Payments
// @Produce json
// @Param reference path string true "Payment reference"
// @Success 200 {object} response.Envelope
// @Router /payments/{reference}/replay [post]
func (h *PaymentHandler) Replay(c *gin.Context) {
	payment, err := h.fulfillment.Replay(c.Request.Context(), c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PaymentFromModel(payment), nil)
}

// Webhook godoc
// @Summary Gateway settlement webhook
// @Description Signature-checked gateway events. Always returns 200 for
// @Description processed events so the gateway stops redelivering.
// @Tags Payments
// @Accept json
// @Success 200 {object} response.Envelope
// @Router /webhooks/gateway [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unreadable webhook body"))
		return
	}
	if !h.verifier.ValidSignature(body, c.GetHeader(h.webhookHeader)) {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook signature"))
		return
	}
	var event dto.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid webhook payload"))
		return
	}
	if err := h.fulfillment.HandleGatewayEvent(c.Request.Context(), event); err != nil {
		// Mismatches and dead letters are recorded on the payment; a 200 keeps
		// the gateway from redelivering an event that will never settle.
		appErr := appErrors.FromError(err)
		if appErr.Code == appErrors.ErrAmountMismatch.Code || appErr.Code == appErrors.ErrDeadLetter.Code {
			response.JSON(c, http.StatusOK, gin.H{"status": "recorded"}, nil)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "processed"}, nil)
}
