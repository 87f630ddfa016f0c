package models

import (
	"crypto/rand"
	"fmt"
	"time"
)

// PaymentStatus represents the lifecycle of a payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// PaymentPurpose selects which entitlement a successful payment unlocks.
type PaymentPurpose string

const (
	PurposeMembership        PaymentPurpose = "MEMBERSHIP"
	PurposeAddon             PaymentPurpose = "ADDON"
	PurposeBundle            PaymentPurpose = "BUNDLE"
	PurposeCohortInstallment PaymentPurpose = "COHORT_INSTALLMENT"
	PurposeSession           PaymentPurpose = "SESSION"
	PurposeStoreOrder        PaymentPurpose = "STORE_ORDER"
	PurposeWalletTopup       PaymentPurpose = "WALLET_TOPUP"
)

// KnownPurposes lists every purpose the coordinator can dispatch.
var KnownPurposes = []PaymentPurpose{
	PurposeMembership,
	PurposeAddon,
	PurposeBundle,
	PurposeCohortInstallment,
	PurposeSession,
	PurposeStoreOrder,
	PurposeWalletTopup,
}

// FulfillmentOutcome tracks where an entitlement application stands.
type FulfillmentOutcome string

const (
	FulfillmentNone           FulfillmentOutcome = ""
	FulfillmentInProgress     FulfillmentOutcome = "IN_PROGRESS"
	FulfillmentApplied        FulfillmentOutcome = "APPLIED"
	FulfillmentRetryScheduled FulfillmentOutcome = "RETRY_SCHEDULED"
	FulfillmentDeadLetter     FulfillmentOutcome = "DEAD_LETTER"
)

// Payment is one attempted charge. The reference is immutable once issued;
// status moves PENDING -> PAID or PENDING -> FAILED, and FAILED -> PAID is
// allowed for delayed success notifications. PAID is never overridden.
type Payment struct {
	ID                string             `db:"id" json:"id"`
	Reference         string             `db:"reference" json:"reference"`
	MemberID          string             `db:"member_id" json:"member_id"`
	PayerEmail        string             `db:"payer_email" json:"payer_email,omitempty"`
	Purpose           PaymentPurpose     `db:"purpose" json:"purpose"`
	Amount            int64              `db:"amount" json:"amount"`
	Currency          string             `db:"currency" json:"currency"`
	Status            PaymentStatus      `db:"status" json:"status"`
	Provider          *string            `db:"provider" json:"provider,omitempty"`
	ProviderReference *string            `db:"provider_reference" json:"provider_reference,omitempty"`
	PaidAt            *time.Time         `db:"paid_at" json:"paid_at,omitempty"`
	DiscountCode      *string            `db:"discount_code" json:"discount_code,omitempty"`
	DiscountAmount    int64              `db:"discount_amount" json:"discount_amount"`
	Metadata          []byte             `db:"metadata" json:"metadata,omitempty"`
	Attempts          int                `db:"attempts" json:"attempts"`
	Outcome           FulfillmentOutcome `db:"outcome" json:"outcome"`
	LastError         *string            `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt       *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	AppliedAt         *time.Time         `db:"applied_at" json:"applied_at,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// Applied reports whether the entitlement has been delivered.
func (p *Payment) Applied() bool {
	return p.AppliedAt != nil
}

// Processed reports whether a duplicate success notification can be ignored.
func (p *Payment) Processed() bool {
	return p.Status == PaymentStatusPaid && p.Applied()
}

// PaymentFilter constrains payment listings.
type PaymentFilter struct {
	MemberID  string
	Purpose   PaymentPurpose
	Status    PaymentStatus
	Page      int
	PageSize  int
	SortOrder string
}

// GeneratePaymentReference issues a short human-readable reference.
func GeneratePaymentReference() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("PAY-%d", time.Now().UnixNano()%100000000)
	}
	return fmt.Sprintf("PAY-%X", buf)
}
