package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
	appErrors "github.com/opencove/billing-api/pkg/errors"
)

type complianceEnrollments interface {
	GetByID(ctx context.Context, id string) (*models.Enrollment, error)
	Update(ctx context.Context, enrollment *models.Enrollment) error
	ListEvaluable(ctx context.Context, limit int) ([]models.Enrollment, error)
}

type complianceInstallments interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error)
	MarkMissed(ctx context.Context, installmentID string) error
}

type accessPropagator interface {
	SetAccess(ctx context.Context, memberID, cohortID string, suspended bool) error
}

type dropoutNotifier interface {
	DropoutPending(enrollment *models.Enrollment)
	EnrollmentDropped(enrollment *models.Enrollment)
	AccessSuspended(enrollment *models.Enrollment)
}

// ComplianceOption customises optional collaborators.
type ComplianceOption func(*ComplianceService)

// WithComplianceNotifier wires dropout alerts for operators.
func WithComplianceNotifier(n dropoutNotifier) ComplianceOption {
	return func(s *ComplianceService) { s.notifier = n }
}

/// ComplianceService evaluates enrollments against their payment plans:
// overdue marking, the two-strikes dropout rule, access suspension and
// status promotion.
type ComplianceService struct {
	enrollments  complianceEnrollments
	installments complianceInstallments
	attendance   accessPropagator
	notifier     dropoutNotifier
	cfg          config.BillingConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewComplianceService constructs ComplianceService.
func NewComplianceService(enrollments complianceEnrollments, installments complianceInstallments, attendance accessPropagator, cfg config.BillingConfig, logger *zap.Logger, opts ...ComplianceOption) *ComplianceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ComplianceService{
		enrollments:  enrollments,
		installments: installments,
		attendance:   attendance,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate re-runs the compliance rules for one enrollment and persists the
// outcome.
func (s *ComplianceService) Evaluate(ctx context.Context, enrollmentID string) (*dto.EvaluationResponse, error) {
	enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	installments, err := s.installments.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installments")
	}

	if err := s.evaluate(ctx, enrollment, installments); err != nil {
		return nil, err
	}

	return &dto.EvaluationResponse{
		EnrollmentID:    enrollment.ID,
		Status:          enrollment.Status,
		PaymentStatus:   enrollment.PaymentStatus,
		MissedCount:     enrollment.MissedCount,
		AccessSuspended: enrollment.AccessSuspended,
		CompletedAt:     enrollment.CompletedAt,
	}, nil
}

// RunSweep evaluates every active enrollment with a built plan. Evaluation
// errors are logged per enrollment so one bad row cannot stall the sweep.
func (s *ComplianceService) RunSweep(ctx context.Context) error {
	enrollments, err := s.enrollments.ListEvaluable(ctx, 0)
	if err != nil {
		return err
	}
	for i := range enrollments {
		enrollment := &enrollments[i]
		installments, err := s.installments.ListByEnrollment(ctx, enrollment.ID)
		if err != nil {
			s.logger.Error("compliance sweep: load installments", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			continue
		}
		if len(installments) == 0 {
			continue
		}
		if err := s.evaluate(ctx, enrollment, installments); err != nil {
			s.logger.Error("compliance sweep: evaluate", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *ComplianceService) evaluate(ctx context.Context, enrollment *models.Enrollment, installments []models.Installment) error {
	now := s.now()
	wasSuspended := enrollment.AccessSuspended

	// Close the grace window first so the counters below see fresh misses.
	grace := time.Duration(s.cfg.GraceHours) * time.Hour
	for i := range installments {
		inst := &installments[i]
		if inst.Status == models.InstallmentPending && !inst.DueAt.Add(grace).After(now) {
			if err := s.installments.MarkMissed(ctx, inst.ID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark installment missed")
			}
			inst.Status = models.InstallmentMissed
			s.logger.Info("installment missed",
				zap.String("enrollment_id", enrollment.ID),
				zap.Int("number", inst.Number))
		}
	}

	total := len(installments)
	paidCount := 0
	missedCount := 0
	for _, inst := range installments {
		switch {
		case inst.Status.Settled():
			paidCount++
		case inst.Status == models.InstallmentMissed:
			missedCount++
		}
	}

	enrollment.TotalInstallments = total
	enrollment.PaidCount = paidCount
	// The stored counter is a permanent behavioural record; it never goes
	// down, even when the live count does.
	if missedCount > enrollment.MissedCount {
		enrollment.MissedCount = missedCount
	}

	if enrollment.Status == models.EnrollmentWaitlist {
		enrollment.AccessSuspended = false
		if paidCount > 0 {
			enrollment.PaymentStatus = models.EnrollmentPaymentPaid
		} else {
			enrollment.PaymentStatus = models.EnrollmentPaymentPending
		}
		return s.persist(ctx, enrollment, wasSuspended)
	}

	requiredBlock := CurrentBlock(now, enrollment.CohortStart, enrollment.DurationWeeks, s.cfg)
	if requiredBlock > total {
		requiredBlock = total
	}
	requiredUnpaid := false
	for _, inst := range installments {
		if inst.Number <= requiredBlock && !inst.Status.Settled() {
			requiredUnpaid = true
			break
		}
	}

	if enrollment.MissedCount >= 2 {
		if enrollment.Status != models.EnrollmentDropped && enrollment.Status != models.EnrollmentDropoutPending {
			if enrollment.DropoutRequiresApproval {
				enrollment.Status = models.EnrollmentDropoutPending
			} else {
				enrollment.Status = models.EnrollmentDropped
			}
			s.logger.Warn("two-strikes dropout triggered",
				zap.String("enrollment_id", enrollment.ID),
				zap.String("status", string(enrollment.Status)),
				zap.Int("missed_count", enrollment.MissedCount))
			if s.notifier != nil {
				if enrollment.Status == models.EnrollmentDropoutPending {
					s.notifier.DropoutPending(enrollment)
				} else {
					s.notifier.EnrollmentDropped(enrollment)
				}
			}
		}
		enrollment.AccessSuspended = true
		enrollment.PaymentStatus = models.EnrollmentPaymentFailed
	} else {
		enrollment.AccessSuspended = requiredUnpaid
		switch {
		case paidCount == 0:
			enrollment.PaymentStatus = models.EnrollmentPaymentPending
		case requiredUnpaid:
			enrollment.PaymentStatus = models.EnrollmentPaymentFailed
		default:
			enrollment.PaymentStatus = models.EnrollmentPaymentPaid
			if enrollment.Status == models.EnrollmentPendingApproval && !enrollment.RequiresApproval {
				enrollment.Status = models.EnrollmentEnrolled
			}
		}
	}

	if total > 0 && paidCount >= total && enrollment.CompletedAt == nil {
		completed := now
		enrollment.CompletedAt = &completed
	}

	return s.persist(ctx, enrollment, wasSuspended)
}

func (s *ComplianceService) persist(ctx context.Context, enrollment *models.Enrollment, wasSuspended bool) error {
	if err := s.enrollments.Update(ctx, enrollment); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist evaluation")
	}
	if s.attendance != nil && wasSuspended != enrollment.AccessSuspended {
		if err := s.attendance.SetAccess(ctx, enrollment.MemberID, enrollment.CohortID, enrollment.AccessSuspended); err != nil {
			s.logger.Warn("propagate access change",
				zap.String("enrollment_id", enrollment.ID),
				zap.Bool("suspended", enrollment.AccessSuspended),
				zap.Error(err))
		}
	}
	if s.notifier != nil && !wasSuspended && enrollment.AccessSuspended {
		s.notifier.AccessSuspended(enrollment)
	}
	return nil
}
