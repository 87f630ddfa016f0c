package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	appErrors "github.com/opencove/billing-api/pkg/errors"
)

type discountStore interface {
	GetByCode(ctx context.Context, code string) (*models.Discount, error)
	List(ctx context.Context) ([]models.Discount, error)
	Create(ctx context.Context, discount *models.Discount) error
	Update(ctx context.Context, discount *models.Discount) error
	IncrementUsage(ctx context.Context, code string) error
}

// DiscountService quotes and applies discount codes. Preview never consumes
// usage; Apply increments the usage counter exactly once per settled payment.
type DiscountService struct {
	repo   discountStore
	logger *zap.Logger
	now    func() time.Time
}

// NewDiscountService constructs DiscountService.
func NewDiscountService(repo discountStore, logger *zap.Logger) *DiscountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscountService{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func invalidQuote(code string, subtotal int64, message string) *models.DiscountQuote {
	return &models.DiscountQuote{Valid: false, Code: code, FinalTotal: subtotal, Message: message}
}

// Preview quotes a code against a purchase. An invalid code is not an
// error: the quote comes back with Valid=false and the untouched subtotal.
func (s *DiscountService) Preview(ctx context.Context, req dto.DiscountPreviewRequest) (*models.DiscountQuote, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	discount, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return invalidQuote(code, req.Amount, "Discount code not found"), nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discount")
	}

	now := s.now()
	switch {
	case !discount.IsActive:
		return invalidQuote(code, req.Amount, "Discount code is inactive"), nil
	case discount.ValidFrom != nil && discount.ValidFrom.After(now):
		return invalidQuote(code, req.Amount, "Discount code is not yet active"), nil
	case discount.ValidUntil != nil && discount.ValidUntil.Before(now):
		return invalidQuote(code, req.Amount, "Discount code has expired"), nil
	case discount.MaxUses != nil && discount.CurrentUses >= *discount.MaxUses:
		return invalidQuote(code, req.Amount, "Discount code has reached its usage limit"), nil
	}

	applicablePurposes, err := parseAppliesTo(discount.AppliesTo)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to parse discount applicability")
	}

	applicableAmount := req.Amount
	var component models.PaymentPurpose
	if len(applicablePurposes) > 0 {
		switch {
		case containsPurpose(applicablePurposes, req.Purpose):
			component = req.Purpose
		case req.Purpose == models.PurposeBundle && len(req.Components) > 0:
			matched := false
			for _, line := range req.Components {
				if containsPurpose(applicablePurposes, line.Purpose) {
					applicableAmount = line.Amount
					component = line.Purpose
					matched = true
					break
				}
			}
			if !matched {
				return invalidQuote(code, req.Amount, "Discount code does not apply to any component in this payment"), nil
			}
		default:
			return invalidQuote(code, req.Amount, fmt.Sprintf("Discount code does not apply to %s payments", req.Purpose)), nil
		}
	}

	var discountAmount int64
	if discount.Type == models.DiscountTypePercentage {
		discountAmount = decimal.NewFromInt(applicableAmount).
			Mul(decimal.NewFromInt(discount.Value)).
			Div(decimal.NewFromInt(100)).
			Floor().IntPart()
	} else {
		discountAmount = discount.Value
		if discountAmount > applicableAmount {
			discountAmount = applicableAmount
		}
	}
	if discountAmount > applicableAmount {
		discountAmount = applicableAmount
	}
	finalTotal := req.Amount - discountAmount
	if finalTotal < 0 {
		finalTotal = 0
	}

	var message string
	unit := " NGN"
	if discount.Type == models.DiscountTypePercentage {
		unit = "%"
	}
	if component != "" && component != req.Purpose {
		message = fmt.Sprintf("%d%s discount applied to %s", discount.Value, unit, strings.ToLower(string(component)))
	} else {
		message = fmt.Sprintf("%d%s discount applied", discount.Value, unit)
	}

	return &models.DiscountQuote{
		Valid:              true,
		Code:               discount.Code,
		Type:               discount.Type,
		Value:              discount.Value,
		DiscountAmount:     discountAmount,
		FinalTotal:         finalTotal,
		AppliesToComponent: string(component),
		Purpose:            req.Purpose,
		Message:            message,
	}, nil
}

// Apply quotes the code and, when valid, consumes one usage slot. Called
// from intent creation so the slot is held for the payment being created.
func (s *DiscountService) Apply(ctx context.Context, req dto.DiscountPreviewRequest) (*models.DiscountQuote, error) {
	quote, err := s.Preview(ctx, req)
	if err != nil {
		return nil, err
	}
	if !quote.Valid {
		return quote, nil
	}
	if err := s.repo.IncrementUsage(ctx, quote.Code); err != nil {
		if err == sql.ErrNoRows {
			return invalidQuote(quote.Code, req.Amount, "Discount code has reached its usage limit"), nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume discount usage")
	}
	s.logger.Info("discount applied",
		zap.String("code", quote.Code),
		zap.Int64("discount_amount", quote.DiscountAmount))
	return quote, nil
}

// List returns all discount codes for the admin console.
func (s *DiscountService) List(ctx context.Context) ([]dto.DiscountResponse, error) {
	discounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list discounts")
	}
	out := make([]dto.DiscountResponse, 0, len(discounts))
	for i := range discounts {
		resp, err := discountResponse(&discounts[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, nil
}

// Create registers a new discount code.
func (s *DiscountService) Create(ctx context.Context, req dto.CreateDiscountRequest) (*dto.DiscountResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if _, err := s.repo.GetByCode(ctx, code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "discount code already exists")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check discount code")
	}

	appliesTo, err := marshalAppliesTo(req.AppliesTo)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid applies_to list")
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	discount := &models.Discount{
		Code:       code,
		Type:       req.Type,
		Value:      req.Value,
		AppliesTo:  appliesTo,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		MaxUses:    req.MaxUses,
		IsActive:   active,
	}
	if err := s.repo.Create(ctx, discount); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create discount")
	}
	s.logger.Info("discount created", zap.String("code", code), zap.String("type", string(req.Type)))
	return discountResponse(discount)
}

// Update patches an existing discount code.
func (s *DiscountService) Update(ctx context.Context, code string, req dto.UpdateDiscountRequest) (*dto.DiscountResponse, error) {
	discount, err := s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "discount code not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discount")
	}

	if req.Value != nil {
		discount.Value = *req.Value
	}
	if req.AppliesTo != nil {
		appliesTo, err := marshalAppliesTo(req.AppliesTo)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid applies_to list")
		}
		discount.AppliesTo = appliesTo
	}
	if req.ValidFrom != nil {
		discount.ValidFrom = req.ValidFrom
	}
	if req.ValidUntil != nil {
		discount.ValidUntil = req.ValidUntil
	}
	if req.MaxUses != nil {
		discount.MaxUses = req.MaxUses
	}
	if req.IsActive != nil {
		discount.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, discount); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update discount")
	}
	return discountResponse(discount)
}

// Delete deactivates a discount code. Rows are kept so settled payments can
// still reference the code they were quoted with.
func (s *DiscountService) Delete(ctx context.Context, code string) error {
	discount, err := s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "discount code not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discount")
	}
	if !discount.IsActive {
		return nil
	}
	discount.IsActive = false
	if err := s.repo.Update(ctx, discount); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate discount")
	}
	s.logger.Info("discount deactivated", zap.String("code", discount.Code))
	return nil
}

func parseAppliesTo(raw []byte) ([]models.PaymentPurpose, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unmarshal applies_to: %w", err)
	}
	purposes := make([]models.PaymentPurpose, 0, len(list))
	for _, item := range list {
		purposes = append(purposes, models.PaymentPurpose(strings.ToUpper(item)))
	}
	return purposes, nil
}

func marshalAppliesTo(list []string) ([]byte, error) {
	normalised := make([]string, 0, len(list))
	for _, item := range list {
		normalised = append(normalised, strings.ToUpper(strings.TrimSpace(item)))
	}
	return json.Marshal(normalised)
}

func containsPurpose(list []models.PaymentPurpose, purpose models.PaymentPurpose) bool {
	for _, p := range list {
		if p == purpose {
			return true
		}
	}
	return false
}

func discountResponse(discount *models.Discount) (*dto.DiscountResponse, error) {
	purposes, err := parseAppliesTo(discount.AppliesTo)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to parse discount applicability")
	}
	appliesTo := make([]string, 0, len(purposes))
	for _, p := range purposes {
		appliesTo = append(appliesTo, string(p))
	}
	return &dto.DiscountResponse{
		Code:        discount.Code,
		Type:        discount.Type,
		Value:       discount.Value,
		AppliesTo:   appliesTo,
		ValidFrom:   discount.ValidFrom,
		ValidUntil:  discount.ValidUntil,
		MaxUses:     discount.MaxUses,
		CurrentUses: discount.CurrentUses,
		IsActive:    discount.IsActive,
		CreatedAt:   discount.CreatedAt,
	}, nil
}
