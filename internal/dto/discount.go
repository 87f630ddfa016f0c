package dto

import (
	"time"

	"github.com/opencove/billing-api/internal/models"
)

// DiscountPreviewRequest quotes a code against a purchase without
// consuming usage.
type DiscountPreviewRequest struct {
	Code       string                `json:"code" binding:"required"`
	Purpose    models.PaymentPurpose `json:"purpose" binding:"required"`
	Amount     int64                 `json:"amount" binding:"required,gt=0"`
	Components []ComponentLine       `json:"components"`
}

// ComponentLine is one priced component inside a bundle purchase.
type ComponentLine struct {
	Purpose models.PaymentPurpose `json:"purpose" binding:"required"`
	Amount  int64                 `json:"amount" binding:"required,gte=0"`
}

// CreateDiscountRequest is the admin payload for creating a code.
type CreateDiscountRequest struct {
	Code       string              `json:"code" binding:"required"`
	Type       models.DiscountType `json:"type" binding:"required,oneof=PERCENTAGE FIXED"`
	Value      int64               `json:"value" binding:"required,gt=0"`
	AppliesTo  []string            `json:"applies_to"`
	ValidFrom  *time.Time          `json:"valid_from"`
	ValidUntil *time.Time          `json:"valid_until"`
	MaxUses    *int                `json:"max_uses"`
	IsActive   *bool               `json:"is_active"`
}

// UpdateDiscountRequest patches an existing code. Nil fields are untouched.
type UpdateDiscountRequest struct {
	Value      *int64     `json:"value"`
	AppliesTo  []string   `json:"applies_to"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
	MaxUses    *int       `json:"max_uses"`
	IsActive   *bool      `json:"is_active"`
}

// DiscountResponse is the API shape of a discount row.
type DiscountResponse struct {
	Code        string              `json:"code"`
	Type        models.DiscountType `json:"type"`
	Value       int64               `json:"value"`
	AppliesTo   []string            `json:"applies_to"`
	ValidFrom   *time.Time          `json:"valid_from,omitempty"`
	ValidUntil  *time.Time          `json:"valid_until,omitempty"`
	MaxUses     *int                `json:"max_uses,omitempty"`
	CurrentUses int                 `json:"current_uses"`
	IsActive    bool                `json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
}
