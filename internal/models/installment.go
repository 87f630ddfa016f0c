package models

import "time"

// InstallmentStatus is the state of a single scheduled installment.
// MISSED is permanent: a later payment settles the balance but the record
// of lateness stays on the installment.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentMissed  InstallmentStatus = "MISSED"
	InstallmentWaived  InstallmentStatus = "WAIVED"
)

// Settled reports whether the installment no longer needs money.
func (s InstallmentStatus) Settled() bool {
	return s == InstallmentPaid || s == InstallmentWaived
}

// Installment is one slice of an enrollment's payment plan. Number is
// 1-based and unique per enrollment. DueAt is stored in UTC; it is computed
// in the business timezone and converted on write.
type Installment struct {
	ID               string            `db:"id" json:"id"`
	EnrollmentID     string            `db:"enrollment_id" json:"enrollment_id"`
	Number           int               `db:"number" json:"number"`
	Amount           int64             `db:"amount" json:"amount"`
	Currency         string            `db:"currency" json:"currency"`
	DueAt            time.Time         `db:"due_at" json:"due_at"`
	Status           InstallmentStatus `db:"status" json:"status"`
	PaidAt           *time.Time        `db:"paid_at" json:"paid_at,omitempty"`
	PaymentReference *string           `db:"payment_reference" json:"payment_reference,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}
