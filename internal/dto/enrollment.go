package dto

import (
	"time"

	"github.com/opencove/billing-api/internal/models"
)

// ScheduleResponse is the full payment plan for one enrollment.
type ScheduleResponse struct {
	EnrollmentID    string                         `json:"enrollment_id"`
	Currency        string                         `json:"currency"`
	TotalAmount     int64                          `json:"total_amount"`
	PaidCount       int                            `json:"paid_count"`
	MissedCount     int                            `json:"missed_count"`
	AccessSuspended bool                           `json:"access_suspended"`
	PaymentStatus   models.EnrollmentPaymentStatus `json:"payment_status"`
	Installments    []InstallmentItem              `json:"installments"`
}

// InstallmentItem is one schedule entry.
type InstallmentItem struct {
	Number           int                      `json:"number"`
	Amount           int64                    `json:"amount"`
	DueAt            time.Time                `json:"due_at"`
	Status           models.InstallmentStatus `json:"status"`
	PaidAt           *time.Time               `json:"paid_at,omitempty"`
	PaymentReference *string                  `json:"payment_reference,omitempty"`
}

// EvaluationResponse reports the compliance decision for one enrollment.
type EvaluationResponse struct {
	EnrollmentID    string                         `json:"enrollment_id"`
	Status          models.EnrollmentStatus        `json:"status"`
	PaymentStatus   models.EnrollmentPaymentStatus `json:"payment_status"`
	MissedCount     int                            `json:"missed_count"`
	AccessSuspended bool                           `json:"access_suspended"`
	CompletedAt     *time.Time                     `json:"completed_at,omitempty"`
}
