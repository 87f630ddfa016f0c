package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencove/billing-api/internal/models"
)

const paymentColumns = `id, reference, member_id, payer_email, purpose, amount, currency, status, provider, provider_reference, paid_at, discount_code, discount_amount, metadata, attempts, outcome, last_error, next_retry_at, applied_at, created_at, updated_at`

// PaymentRepository provides database access for payment rows and their
// fulfillment bookkeeping.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new instance of PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// BeginTx opens a transaction for the fulfillment critical section.
func (r *PaymentRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment tx: %w", err)
	}
	return tx, nil
}

// Create inserts a new pending payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	const query = `INSERT INTO payments (id, reference, member_id, payer_email, purpose, amount, currency, status, discount_code, discount_amount, metadata, attempts, outcome, created_at, updated_at)
VALUES (:id, :reference, :member_id, :payer_email, :purpose, :amount, :currency, :status, :discount_code, :discount_amount, :metadata, :attempts, :outcome, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetByReference returns a payment by its public reference.
func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE reference = $1 LIMIT 1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, reference); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get payment by reference: %w", err)
	}
	return &payment, nil
}

// GetByReferenceForUpdate locks the payment row for the duration of tx so
// concurrent webhook deliveries for the same reference serialize.
func (r *PaymentRepository) GetByReferenceForUpdate(ctx context.Context, tx *sqlx.Tx, reference string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE reference = $1 FOR UPDATE`, paymentColumns)
	var payment models.Payment
	if err := tx.GetContext(ctx, &payment, query, reference); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock payment by reference: %w", err)
	}
	return &payment, nil
}

// UpdateFulfillmentTx persists the fulfillment bookkeeping columns inside the
// caller's transaction.
func (r *PaymentRepository) UpdateFulfillmentTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	payment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payments SET status = :status, provider = :provider, provider_reference = :provider_reference, paid_at = :paid_at, attempts = :attempts, outcome = :outcome, last_error = :last_error, next_retry_at = :next_retry_at, applied_at = :applied_at, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("update payment fulfillment: %w", err)
	}
	return nil
}

// MarkFailed records a terminal gateway failure for a still-pending payment.
func (r *PaymentRepository) MarkFailed(ctx context.Context, reference, reason string) error {
	const query = `UPDATE payments SET status = $2, last_error = $3, updated_at = $4 WHERE reference = $1 AND status = $5`
	if _, err := r.db.ExecContext(ctx, query, reference, models.PaymentStatusFailed, reason, time.Now().UTC(), models.PaymentStatusPending); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

// ListByMember returns a member's payments, newest first.
func (r *PaymentRepository) ListByMember(ctx context.Context, memberID string, filter models.PaymentFilter) ([]models.Payment, int, error) {
	baseQuery := `FROM payments WHERE member_id = $1`
	args := []interface{}{memberID}
	var conditions []string

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Purpose != "" {
		conditions = append(conditions, fmt.Sprintf("purpose = $%d", len(args)+1))
		args = append(args, filter.Purpose)
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", paymentColumns, baseQuery, pageSize, offset)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// ListDueForRetry returns paid-but-unapplied payments whose backoff window
// has elapsed. Rows with no retry time at all are included too, so a crash
// between settlement and the first outcome write still gets swept up.
// Dead-lettered rows are excluded.
func (r *PaymentRepository) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE status = $1 AND applied_at IS NULL AND outcome <> $2 AND (next_retry_at IS NULL OR next_retry_at <= $3) ORDER BY next_retry_at ASC NULLS FIRST LIMIT %d`, paymentColumns, limit)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, models.PaymentStatusPaid, models.FulfillmentDeadLetter, now); err != nil {
		return nil, fmt.Errorf("list payments due for retry: %w", err)
	}
	return payments, nil
}

// ListStalePending returns pending payments older than cutoff, for the
// reconciliation sweep to re-verify against the gateway.
func (r *PaymentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE status = $1 AND created_at <= $2 ORDER BY created_at ASC LIMIT %d`, paymentColumns, limit)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, models.PaymentStatusPending, cutoff); err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	return payments, nil
}
