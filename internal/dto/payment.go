package dto

import (
	"time"

	"github.com/opencove/billing-api/internal/models"
)

// CreateIntentRequest is the payload for POST /payments/intents.
type CreateIntentRequest struct {
	Purpose      models.PaymentPurpose `json:"purpose" binding:"required"`
	Amount       int64                 `json:"amount" binding:"required,gt=0"`
	Currency     string                `json:"currency"`
	PayerEmail   string                `json:"payer_email" binding:"omitempty,email"`
	DiscountCode string                `json:"discount_code"`
	Metadata     map[string]any        `json:"metadata"`
}

// CreateIntentResponse returns the pending payment and the gateway handle
// the client completes checkout with.
type CreateIntentResponse struct {
	Reference        string `json:"reference"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	DiscountAmount   int64  `json:"discount_amount,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	AccessCode       string `json:"access_code,omitempty"`
}

// WebhookEvent is the gateway's event envelope. Only the fields the
// fulfillment path reads are declared; everything else is ignored.
type WebhookEvent struct {
	Event string             `json:"event"`
	Data  WebhookEventDetail `json:"data"`
}

// WebhookEventDetail carries the transaction portion of a webhook event.
type WebhookEventDetail struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
}

// PaymentListRequest captures query parameters for listing payments.
type PaymentListRequest struct {
	Status   models.PaymentStatus
	Purpose  models.PaymentPurpose
	Page     int
	PageSize int
}

// PaymentResponse is the API shape of a payment row.
type PaymentResponse struct {
	Reference      string                   `json:"reference"`
	Purpose        models.PaymentPurpose    `json:"purpose"`
	Amount         int64                    `json:"amount"`
	Currency       string                   `json:"currency"`
	Status         models.PaymentStatus     `json:"status"`
	Outcome        models.FulfillmentOutcome `json:"fulfillment_outcome,omitempty"`
	DiscountCode   *string                  `json:"discount_code,omitempty"`
	DiscountAmount int64                    `json:"discount_amount,omitempty"`
	PaidAt         *time.Time               `json:"paid_at,omitempty"`
	AppliedAt      *time.Time               `json:"applied_at,omitempty"`
	Attempts       int                      `json:"attempts,omitempty"`
	LastError      *string                  `json:"last_error,omitempty"`
	NextRetryAt    *time.Time               `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

// PaymentFromModel maps a payment row to its API shape.
func PaymentFromModel(p *models.Payment) PaymentResponse {
	return PaymentResponse{
		Reference:      p.Reference,
		Purpose:        p.Purpose,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         p.Status,
		Outcome:        p.Outcome,
		DiscountCode:   p.DiscountCode,
		DiscountAmount: p.DiscountAmount,
		PaidAt:         p.PaidAt,
		AppliedAt:      p.AppliedAt,
		Attempts:       p.Attempts,
		LastError:      p.LastError,
		NextRetryAt:    p.NextRetryAt,
		CreatedAt:      p.CreatedAt,
	}
}
