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

const enrollmentColumns = `id, member_id, cohort_id, status, payment_status, duration_weeks, cohort_start, requires_approval, dropout_requires_approval, price_amount, currency, installment_count, deposit_amount, total_installments, paid_count, missed_count, access_suspended, reminders_sent, completed_at, created_at, updated_at`

// EnrollmentRepository provides database access for cohort enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new instance of EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// GetByID returns an enrollment by identifier.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get enrollment by id: %w", err)
	}
	return &enrollment, nil
}

// Create inserts a new enrollment row.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now

	const query = `INSERT INTO enrollments (id, member_id, cohort_id, status, payment_status, duration_weeks, cohort_start, requires_approval, dropout_requires_approval, price_amount, currency, installment_count, deposit_amount, total_installments, paid_count, missed_count, access_suspended, reminders_sent, created_at, updated_at)
VALUES (:id, :member_id, :cohort_id, :status, :payment_status, :duration_weeks, :cohort_start, :requires_approval, :dropout_requires_approval, :price_amount, :currency, :installment_count, :deposit_amount, :total_installments, :paid_count, :missed_count, :access_suspended, :reminders_sent, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Update persists the derived state of an enrollment after an evaluation.
func (r *EnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET status = :status, payment_status = :payment_status, total_installments = :total_installments, paid_count = :paid_count, missed_count = :missed_count, access_suspended = :access_suspended, reminders_sent = :reminders_sent, completed_at = :completed_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	return nil
}

// List returns enrollments matching the filter with a total count.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	baseQuery := `FROM enrollments WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.MemberID != "" {
		conditions = append(conditions, fmt.Sprintf("member_id = $%d", len(args)+1))
		args = append(args, filter.MemberID)
	}
	if filter.CohortID != "" {
		conditions = append(conditions, fmt.Sprintf("cohort_id = $%d", len(args)+1))
		args = append(args, filter.CohortID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			marks[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(marks, ",")))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at ASC LIMIT %d OFFSET %d", enrollmentColumns, baseQuery, pageSize, offset)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListEvaluable returns every enrollment the compliance sweep must look at:
// non-terminal statuses with a built payment plan. Waitlisted members have
// no payment obligation yet and are skipped.
func (r *EnrollmentRepository) ListEvaluable(ctx context.Context, limit int) ([]models.Enrollment, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE status NOT IN ($1, $2, $3) AND total_installments > 0 ORDER BY updated_at ASC LIMIT %d`, enrollmentColumns, limit)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, models.EnrollmentWaitlist, models.EnrollmentDropped, models.EnrollmentGraduated); err != nil {
		return nil, fmt.Errorf("list evaluable enrollments: %w", err)
	}
	return enrollments, nil
}
