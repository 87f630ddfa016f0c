package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
	appErrors "github.com/opencove/billing-api/pkg/errors"
)

type enrollmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Enrollment, error)
	Update(ctx context.Context, enrollment *models.Enrollment) error
}

type installmentStore interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error)
	BulkCreate(ctx context.Context, installments []models.Installment) error
}

type scheduleCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// ScheduleService builds and serves installment payment plans. Plans are
// built lazily on first read and are immutable afterwards.
type ScheduleService struct {
	enrollments  enrollmentStore
	installments installmentStore
	cache        scheduleCache
	cfg          config.BillingConfig
	logger       *zap.Logger
}

// NewScheduleService constructs ScheduleService.
func NewScheduleService(enrollments enrollmentStore, installments installmentStore, cache scheduleCache, cfg config.BillingConfig, logger *zap.Logger) *ScheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{enrollments: enrollments, installments: installments, cache: cache, cfg: cfg, logger: logger}
}

// ValidateDuration rejects durations that do not divide into whole blocks.
func ValidateDuration(durationWeeks, blockWeeks int) error {
	if durationWeeks <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "program duration must be greater than 0 weeks")
	}
	if durationWeeks%blockWeeks != 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("program duration must be a multiple of %d weeks", blockWeeks))
	}
	return nil
}

// InstallmentCount derives the number of installments from the program
// length. Fees above the cap threshold are limited to a short plan so large
// balances are not deferred across the whole program.
func InstallmentCount(totalFee int64, durationWeeks int, cfg config.BillingConfig) (int, error) {
	if err := ValidateDuration(durationWeeks, cfg.BlockWeeks); err != nil {
		return 0, err
	}
	blocks := durationWeeks / cfg.BlockWeeks
	if totalFee > cfg.CapThreshold && blocks > cfg.MaxInstallmentsOverCap {
		return cfg.MaxInstallmentsOverCap, nil
	}
	return blocks, nil
}

// SplitAmounts divides totalFee into count slices. Floor division; the
// remainder lands on the first installment.
func SplitAmounts(totalFee int64, count int) []int64 {
	base := totalFee / int64(count)
	amounts := make([]int64, count)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[0] = base + (totalFee - base*int64(count))
	return amounts
}

// mondayAnchor returns Monday 00:00 of dt's week in loc.
func mondayAnchor(dt time.Time, loc *time.Location) time.Time {
	local := dt.In(loc)
	weekday := int(local.Weekday())
	// time.Weekday counts Sunday as 0; the plan week starts on Monday.
	offset := (weekday + 6) % 7
	monday := local.AddDate(0, 0, -offset)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, loc)
}

// BuildPlan computes the full installment plan for an enrollment. Due dates
// anchor to Monday 00:00 of the cohort start week in the business timezone,
// one block apart, stored in UTC.
func BuildPlan(enrollment *models.Enrollment, cfg config.BillingConfig) ([]models.Installment, error) {
	count, err := InstallmentCount(enrollment.PriceAmount, enrollment.DurationWeeks, cfg)
	if err != nil {
		return nil, err
	}
	if override := enrollment.InstallmentCount; override != nil && *override >= 2 {
		count = *override
	}

	var amounts []int64
	deposit := enrollment.DepositAmount
	if deposit != nil && *deposit > 0 && count >= 2 {
		remaining := enrollment.PriceAmount - *deposit
		subsequentBase := remaining / int64(count-1)
		amounts = make([]int64, count)
		amounts[0] = *deposit
		for i := 1; i < count; i++ {
			amounts[i] = subsequentBase
		}
		// Leftover from the even split lands on the second installment.
		amounts[1] += remaining - subsequentBase*int64(count-1)
	} else {
		amounts = SplitAmounts(enrollment.PriceAmount, count)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load billing timezone %q: %w", cfg.Timezone, err)
	}
	anchor := mondayAnchor(enrollment.CohortStart, loc)

	installments := make([]models.Installment, count)
	for i, amount := range amounts {
		due := anchor.AddDate(0, 0, i*cfg.BlockWeeks*7)
		installments[i] = models.Installment{
			EnrollmentID: enrollment.ID,
			Number:       i + 1,
			Amount:       amount,
			Currency:     enrollment.Currency,
			DueAt:        due.UTC(),
			Status:       models.InstallmentPending,
		}
	}
	return installments, nil
}

// CurrentBlock returns which installment is currently required, 1-based and
// clamped to the plan length.
func CurrentBlock(now, cohortStart time.Time, durationWeeks int, cfg config.BillingConfig) int {
	blocks := durationWeeks / cfg.BlockWeeks
	if blocks < 1 {
		blocks = 1
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	nowLocal := now.In(loc)
	startLocal := cohortStart.In(loc)
	if !nowLocal.After(startLocal) {
		return 1
	}
	elapsedDays := int(nowLocal.Sub(startLocal).Hours() / 24)
	current := elapsedDays/(cfg.BlockWeeks*7) + 1
	if current < 1 {
		return 1
	}
	if current > blocks {
		return blocks
	}
	return current
}

func scheduleCacheKey(enrollmentID string) string {
	return "schedule:" + enrollmentID
}

// GetSchedule returns the payment plan for an enrollment, building it on
// first access.
func (s *ScheduleService) GetSchedule(ctx context.Context, enrollmentID string) (*dto.ScheduleResponse, error) {
	if s.cache != nil {
		var cached dto.ScheduleResponse
		if err := s.cache.Get(ctx, scheduleCacheKey(enrollmentID), &cached); err == nil {
			return &cached, nil
		}
	}

	enrollment, installments, err := s.EnsurePlan(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ScheduleResponse{
		EnrollmentID:    enrollment.ID,
		Currency:        enrollment.Currency,
		TotalAmount:     enrollment.PriceAmount,
		PaidCount:       enrollment.PaidCount,
		MissedCount:     enrollment.MissedCount,
		AccessSuspended: enrollment.AccessSuspended,
		PaymentStatus:   enrollment.PaymentStatus,
		Installments:    make([]dto.InstallmentItem, 0, len(installments)),
	}
	for _, inst := range installments {
		resp.Installments = append(resp.Installments, dto.InstallmentItem{
			Number:           inst.Number,
			Amount:           inst.Amount,
			DueAt:            inst.DueAt,
			Status:           inst.Status,
			PaidAt:           inst.PaidAt,
			PaymentReference: inst.PaymentReference,
		})
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, scheduleCacheKey(enrollmentID), resp, s.cfg.ScheduleCacheTTL); err != nil {
			s.logger.Warn("cache schedule", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		}
	}
	return resp, nil
}

// EnsurePlan loads the enrollment and its installments, building the plan
// if none exists yet. Waitlisted enrollments never get a plan.
func (s *ScheduleService) EnsurePlan(ctx context.Context, enrollmentID string) (*models.Enrollment, []models.Installment, error) {
	enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	installments, err := s.installments.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installments")
	}
	if len(installments) > 0 || enrollment.Status == models.EnrollmentWaitlist {
		return enrollment, installments, nil
	}

	plan, err := BuildPlan(enrollment, s.cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := s.installments.BulkCreate(ctx, plan); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist installment plan")
	}
	enrollment.TotalInstallments = len(plan)
	if err := s.enrollments.Update(ctx, enrollment); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment totals")
	}
	s.logger.Info("installment plan built",
		zap.String("enrollment_id", enrollment.ID),
		zap.Int("installments", len(plan)),
		zap.Int64("total", enrollment.PriceAmount))
	return enrollment, plan, nil
}

// InvalidateSchedule drops the cached plan view after a mutation.
func (s *ScheduleService) InvalidateSchedule(ctx context.Context, enrollmentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, scheduleCacheKey(enrollmentID)); err != nil {
		s.logger.Warn("invalidate schedule cache", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
}
