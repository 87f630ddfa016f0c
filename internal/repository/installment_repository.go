package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencove/billing-api/internal/models"
)

const installmentColumns = `id, enrollment_id, number, amount, currency, due_at, status, paid_at, payment_reference, created_at, updated_at`

// InstallmentRepository provides database access for installment schedules.
type InstallmentRepository struct {
	db *sqlx.DB
}

// NewInstallmentRepository creates a new instance of InstallmentRepository.
func NewInstallmentRepository(db *sqlx.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

// ListByEnrollment returns the full schedule for an enrollment ordered by
// installment number.
func (r *InstallmentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	query := fmt.Sprintf(`SELECT %s FROM installments WHERE enrollment_id = $1 ORDER BY number ASC`, installmentColumns)
	var installments []models.Installment
	if err := r.db.SelectContext(ctx, &installments, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	return installments, nil
}

// BulkCreate inserts a freshly built schedule in one transaction. Creating
// half a plan would corrupt every later evaluation, so all rows commit or
// none do.
func (r *InstallmentRepository) BulkCreate(ctx context.Context, installments []models.Installment) error {
	if len(installments) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin installment tx: %w", err)
	}
	const query = `INSERT INTO installments (id, enrollment_id, number, amount, currency, due_at, status, created_at, updated_at)
VALUES (:id, :enrollment_id, :number, :amount, :currency, :due_at, :status, :created_at, :updated_at)`
	now := time.Now().UTC()
	for i := range installments {
		if installments[i].ID == "" {
			installments[i].ID = uuid.NewString()
		}
		installments[i].CreatedAt = now
		installments[i].UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, query, installments[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bulk create installments: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit installment tx: %w", err)
	}
	return nil
}

// MarkPaid settles one installment with the payment that covered it.
func (r *InstallmentRepository) MarkPaid(ctx context.Context, enrollmentID string, number int, paymentReference string, paidAt time.Time) error {
	const query = `UPDATE installments SET status = $4, paid_at = $5, payment_reference = $6, updated_at = $7 WHERE enrollment_id = $1 AND number = $2 AND status IN ($3, $8)`
	if _, err := r.db.ExecContext(ctx, query, enrollmentID, number, models.InstallmentPending, models.InstallmentPaid, paidAt, paymentReference, time.Now().UTC(), models.InstallmentMissed); err != nil {
		return fmt.Errorf("mark installment paid: %w", err)
	}
	return nil
}

// MarkMissed flips a pending installment to missed once its grace window
// has elapsed. Missed is permanent.
func (r *InstallmentRepository) MarkMissed(ctx context.Context, installmentID string) error {
	const query = `UPDATE installments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, installmentID, models.InstallmentMissed, time.Now().UTC(), models.InstallmentPending); err != nil {
		return fmt.Errorf("mark installment missed: %w", err)
	}
	return nil
}

// WaiveFrom waives every unsettled installment from number onward.
func (r *InstallmentRepository) WaiveFrom(ctx context.Context, enrollmentID string, number int) error {
	const query = `UPDATE installments SET status = $3, updated_at = $4 WHERE enrollment_id = $1 AND number >= $2 AND status IN ($5, $6)`
	if _, err := r.db.ExecContext(ctx, query, enrollmentID, number, models.InstallmentWaived, time.Now().UTC(), models.InstallmentPending, models.InstallmentMissed); err != nil {
		return fmt.Errorf("waive installments: %w", err)
	}
	return nil
}
