package models

import "time"

// DiscountType distinguishes percentage codes from fixed-amount codes.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	DiscountTypeFixed      DiscountType = "FIXED"
)

// Discount is a reusable code applied at checkout. Usage is incremented only
// when a code is bound to a newly created payment, never on preview.
type Discount struct {
	ID          string       `db:"id" json:"id"`
	Code        string       `db:"code" json:"code"`
	Description *string      `db:"description" json:"description,omitempty"`
	Type        DiscountType `db:"discount_type" json:"discount_type"`
	Value       int64        `db:"value" json:"value"`
	AppliesTo   []byte       `db:"applies_to" json:"applies_to,omitempty"`
	ValidFrom   *time.Time   `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil  *time.Time   `db:"valid_until" json:"valid_until,omitempty"`
	MaxUses     *int         `db:"max_uses" json:"max_uses,omitempty"`
	CurrentUses int          `db:"current_uses" json:"current_uses"`
	IsActive    bool         `db:"is_active" json:"is_active"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// DiscountQuote is the outcome of validating a code against a purchase.
type DiscountQuote struct {
	Valid              bool           `json:"valid"`
	Code               string         `json:"code"`
	Type               DiscountType   `json:"discount_type,omitempty"`
	Value              int64          `json:"discount_value,omitempty"`
	DiscountAmount     int64          `json:"discount_amount"`
	FinalTotal         int64          `json:"final_total"`
	AppliesToComponent string         `json:"applies_to_component,omitempty"`
	Message            string         `json:"message,omitempty"`
	Purpose            PaymentPurpose `json:"-"`
}
