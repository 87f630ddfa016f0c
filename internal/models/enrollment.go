package models

import "time"

// EnrollmentStatus is the lifecycle of a member's place in one cohort.
//
// WAITLIST -> PENDING_APPROVAL -> ENROLLED -> {DROPOUT_PENDING -> DROPPED}
// or DROPPED directly, or GRADUATED. DROPPED and GRADUATED are terminal.
type EnrollmentStatus string

const (
	EnrollmentWaitlist        EnrollmentStatus = "WAITLIST"
	EnrollmentPendingApproval EnrollmentStatus = "PENDING_APPROVAL"
	EnrollmentEnrolled        EnrollmentStatus = "ENROLLED"
	EnrollmentDropoutPending  EnrollmentStatus = "DROPOUT_PENDING"
	EnrollmentDropped         EnrollmentStatus = "DROPPED"
	EnrollmentGraduated       EnrollmentStatus = "GRADUATED"
)

// Terminal reports whether the status accepts no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentDropped || s == EnrollmentGraduated
}

// EnrollmentPaymentStatus summarises where an enrollment stands financially.
type EnrollmentPaymentStatus string

const (
	EnrollmentPaymentPending EnrollmentPaymentStatus = "PENDING"
	EnrollmentPaymentPaid    EnrollmentPaymentStatus = "PAID"
	EnrollmentPaymentFailed  EnrollmentPaymentStatus = "FAILED"
)

// Enrollment is a member's membership in one cohort of a program. Rows are
// never deleted; terminal states are DROPPED and GRADUATED. The cohort
// pricing and policy fields are snapshotted at join time so later program
// edits cannot change an existing payment plan.
type Enrollment struct {
	ID            string                  `db:"id" json:"id"`
	MemberID      string                  `db:"member_id" json:"member_id"`
	CohortID      string                  `db:"cohort_id" json:"cohort_id"`
	Status        EnrollmentStatus        `db:"status" json:"status"`
	PaymentStatus EnrollmentPaymentStatus `db:"payment_status" json:"payment_status"`

	// Cohort snapshot.
	DurationWeeks           int       `db:"duration_weeks" json:"duration_weeks"`
	CohortStart             time.Time `db:"cohort_start" json:"cohort_start"`
	RequiresApproval        bool      `db:"requires_approval" json:"requires_approval"`
	DropoutRequiresApproval bool      `db:"dropout_requires_approval" json:"dropout_requires_approval"`
	PriceAmount             int64     `db:"price_amount" json:"price_amount"`
	Currency                string    `db:"currency" json:"currency"`
	InstallmentCount        *int      `db:"installment_count" json:"installment_count,omitempty"`
	DepositAmount           *int64    `db:"deposit_amount" json:"deposit_amount,omitempty"`

	// Derived counters. MissedCount only ever increases: it is the permanent
	// behavioural record that feeds the two-strikes rule.
	TotalInstallments int  `db:"total_installments" json:"total_installments"`
	PaidCount         int  `db:"paid_count" json:"paid_count"`
	MissedCount       int  `db:"missed_count" json:"missed_count"`
	AccessSuspended   bool `db:"access_suspended" json:"access_suspended"`

	RemindersSent []byte     `db:"reminders_sent" json:"-"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter constrains compliance sweeps and listings.
type EnrollmentFilter struct {
	MemberID string
	CohortID string
	Statuses []EnrollmentStatus
	Page     int
	PageSize int
}
