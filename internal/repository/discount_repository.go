package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencove/billing-api/internal/models"
)

const discountColumns = `id, code, description, discount_type, value, applies_to, valid_from, valid_until, max_uses, current_uses, is_active, created_at, updated_at`

// DiscountRepository provides database access for discount codes.
type DiscountRepository struct {
	db *sqlx.DB
}

// NewDiscountRepository creates a new instance of DiscountRepository.
func NewDiscountRepository(db *sqlx.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// GetByCode returns a discount by its code.
func (r *DiscountRepository) GetByCode(ctx context.Context, code string) (*models.Discount, error) {
	query := fmt.Sprintf(`SELECT %s FROM discounts WHERE code = $1 LIMIT 1`, discountColumns)
	var discount models.Discount
	if err := r.db.GetContext(ctx, &discount, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get discount by code: %w", err)
	}
	return &discount, nil
}

// List returns all discounts, newest first.
func (r *DiscountRepository) List(ctx context.Context) ([]models.Discount, error) {
	query := fmt.Sprintf(`SELECT %s FROM discounts ORDER BY created_at DESC`, discountColumns)
	var discounts []models.Discount
	if err := r.db.SelectContext(ctx, &discounts, query); err != nil {
		return nil, fmt.Errorf("list discounts: %w", err)
	}
	return discounts, nil
}

// Create inserts a new discount code.
func (r *DiscountRepository) Create(ctx context.Context, discount *models.Discount) error {
	if discount.ID == "" {
		discount.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if discount.CreatedAt.IsZero() {
		discount.CreatedAt = now
	}
	discount.UpdatedAt = now

	const query = `INSERT INTO discounts (id, code, description, discount_type, value, applies_to, valid_from, valid_until, max_uses, current_uses, is_active, created_at, updated_at)
VALUES (:id, :code, :description, :discount_type, :value, :applies_to, :valid_from, :valid_until, :max_uses, :current_uses, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, discount); err != nil {
		return fmt.Errorf("create discount: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a discount.
func (r *DiscountRepository) Update(ctx context.Context, discount *models.Discount) error {
	discount.UpdatedAt = time.Now().UTC()
	const query = `UPDATE discounts SET value = :value, applies_to = :applies_to, valid_from = :valid_from, valid_until = :valid_until, max_uses = :max_uses, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, discount); err != nil {
		return fmt.Errorf("update discount: %w", err)
	}
	return nil
}

// IncrementUsage bumps current_uses by one. The guard against max_uses is
// enforced in SQL so two concurrent applies cannot both consume the last
// slot.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, code string) error {
	const query = `UPDATE discounts SET current_uses = current_uses + 1, updated_at = $2 WHERE code = $1 AND (max_uses IS NULL OR current_uses < max_uses)`
	res, err := r.db.ExecContext(ctx, query, code, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment discount usage: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
