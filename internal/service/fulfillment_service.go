package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/client"
	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
	appErrors "github.com/opencove/billing-api/pkg/errors"
)

type fulfillmentPayments interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	GetByReferenceForUpdate(ctx context.Context, tx *sqlx.Tx, reference string) (*models.Payment, error)
	UpdateFulfillmentTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)
	MarkFailed(ctx context.Context, reference, reason string) error
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
}

type transactionVerifier interface {
	Verify(ctx context.Context, reference string) (*client.VerifyResult, error)
}

type fulfillmentMetrics interface {
	RecordFulfillment(purpose, outcome string)
}

type fulfillmentNotifier interface {
	PaymentSettled(payment *models.Payment)
	FulfillmentDeadLettered(payment *models.Payment)
}

// FulfillmentService settles payments and applies entitlements. Settlement
// and application run under a row lock on the payment so duplicate webhook
// deliveries and concurrent confirms serialize into one outcome.
type FulfillmentService struct {
	payments fulfillmentPayments
	gateway  transactionVerifier
	appliers map[models.PaymentPurpose]EntitlementApplier
	metrics  fulfillmentMetrics
	notifier fulfillmentNotifier
	cfg      config.FulfillmentConfig
	logger   *zap.Logger
	now      func() time.Time
}

// FulfillmentOption customises FulfillmentService construction.
type FulfillmentOption func(*FulfillmentService)

// WithFulfillmentMetrics attaches a metrics recorder.
func WithFulfillmentMetrics(m fulfillmentMetrics) FulfillmentOption {
	return func(s *FulfillmentService) { s.metrics = m }
}

// WithFulfillmentNotifier attaches a notification sink.
func WithFulfillmentNotifier(n fulfillmentNotifier) FulfillmentOption {
	return func(s *FulfillmentService) { s.notifier = n }
}

// NewFulfillmentService constructs FulfillmentService.
func NewFulfillmentService(payments fulfillmentPayments, gateway transactionVerifier, appliers map[models.PaymentPurpose]EntitlementApplier, cfg config.FulfillmentConfig, logger *zap.Logger, opts ...FulfillmentOption) *FulfillmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if appliers == nil {
		appliers = make(map[models.PaymentPurpose]EntitlementApplier)
	}
	s := &FulfillmentService{
		payments: payments,
		gateway:  gateway,
		appliers: appliers,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetryBackoff returns how long to wait before retry number attempts.
// Doubles each attempt from the base delay, capped at the maximum.
func RetryBackoff(attempts int, cfg config.FulfillmentConfig) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.BaseRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cfg.MaxRetryDelay {
			return cfg.MaxRetryDelay
		}
	}
	if delay > cfg.MaxRetryDelay {
		return cfg.MaxRetryDelay
	}
	return delay
}

// HandleGatewayEvent processes a signature-checked webhook event.
func (s *FulfillmentService) HandleGatewayEvent(ctx context.Context, event dto.WebhookEvent) error {
	switch {
	case strings.EqualFold(event.Event, "charge.success"):
		paidAt := s.parsePaidAt(event.Data.PaidAt)
		return s.Settle(ctx, event.Data.Reference, event.Data.Amount, paidAt)
	case strings.EqualFold(event.Event, "charge.failed"):
		// A failure event never overrides a settled payment; the repo update
		// is conditional on PENDING.
		return s.payments.MarkFailed(ctx, event.Data.Reference, "gateway reported charge failed")
	default:
		s.logger.Debug("ignoring gateway event", zap.String("event", event.Event))
		return nil
	}
}

// Confirm re-verifies a payment against the gateway and settles it. This is
// the client-driven fallback for lost webhooks.
func (s *FulfillmentService) Confirm(ctx context.Context, reference string) (*models.Payment, error) {
	result, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(result.Status, "success") {
		if err := s.payments.MarkFailed(ctx, reference, "gateway verification returned "+result.Status); err != nil {
			return nil, err
		}
		return s.payments.GetByReference(ctx, reference)
	}
	paidAt := s.parsePaidAt(result.PaidAt)
	if err := s.Settle(ctx, reference, result.Amount, paidAt); err != nil {
		return nil, err
	}
	return s.payments.GetByReference(ctx, reference)
}

// Settle marks a payment paid and applies its entitlement. Safe to call any
// number of times: an already-applied payment is a no-op success.
func (s *FulfillmentService) Settle(ctx context.Context, reference string, verifiedAmount int64, paidAt time.Time) error {
	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open settlement transaction")
	}
	defer func() { _ = tx.Rollback() }()

	payment, err := s.payments.GetByReferenceForUpdate(ctx, tx, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock payment")
	}

	if payment.Processed() {
		s.logger.Info("duplicate settlement ignored", zap.String("reference", reference))
		return tx.Commit()
	}
	if payment.Outcome == models.FulfillmentDeadLetter {
		return appErrors.Clone(appErrors.ErrDeadLetter, "")
	}

	expected := payment.Amount - payment.DiscountAmount
	if verifiedAmount != expected {
		reason := "verified amount does not match expected amount"
		payment.LastError = &reason
		if err := s.payments.UpdateFulfillmentTx(ctx, tx, payment); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.Warn("settlement amount mismatch",
			zap.String("reference", reference),
			zap.Int64("expected", expected),
			zap.Int64("verified", verifiedAmount))
		return appErrors.Clone(appErrors.ErrAmountMismatch, "")
	}

	payment.Status = models.PaymentStatusPaid
	if payment.PaidAt == nil {
		payment.PaidAt = &paidAt
	}
	payment.Outcome = models.FulfillmentInProgress
	if err := s.payments.UpdateFulfillmentTx(ctx, tx, payment); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit settlement")
	}

	if s.notifier != nil {
		s.notifier.PaymentSettled(payment)
	}
	return s.runFulfillment(ctx, payment)
}

// Replay resets a dead-lettered payment and reapplies its entitlement. Only
// operators call this, after fixing whatever kept the applier failing.
func (s *FulfillmentService) Replay(ctx context.Context, reference string) (*models.Payment, error) {
	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open replay transaction")
	}
	defer func() { _ = tx.Rollback() }()

	payment, err := s.payments.GetByReferenceForUpdate(ctx, tx, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock payment")
	}
	if payment.Outcome != models.FulfillmentDeadLetter {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment is not dead-lettered")
	}

	payment.Attempts = 0
	payment.Outcome = models.FulfillmentInProgress
	payment.LastError = nil
	payment.NextRetryAt = nil
	if err := s.payments.UpdateFulfillmentTx(ctx, tx, payment); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit replay")
	}
	s.logger.Info("dead-lettered payment replayed", zap.String("reference", reference))

	if err := s.runFulfillment(ctx, payment); err != nil {
		return nil, err
	}
	return s.payments.GetByReference(ctx, reference)
}

// RetrySweep reapplies every paid-but-unapplied payment whose backoff has
// elapsed.
func (s *FulfillmentService) RetrySweep(ctx context.Context) error {
	payments, err := s.payments.ListDueForRetry(ctx, s.now(), 0)
	if err != nil {
		return err
	}
	for i := range payments {
		if err := s.runFulfillment(ctx, &payments[i]); err != nil {
			s.logger.Error("retry sweep: fulfillment", zap.String("reference", payments[i].Reference), zap.Error(err))
		}
	}
	return nil
}

// ReconcileSweep re-verifies stale pending payments against the gateway so
// lost webhooks eventually settle.
func (s *FulfillmentService) ReconcileSweep(ctx context.Context, pendingAfter time.Duration) error {
	cutoff := s.now().Add(-pendingAfter)
	payments, err := s.payments.ListStalePending(ctx, cutoff, 0)
	if err != nil {
		return err
	}
	for i := range payments {
		reference := payments[i].Reference
		result, err := s.gateway.Verify(ctx, reference)
		if err != nil {
			s.logger.Warn("reconcile sweep: verify", zap.String("reference", reference), zap.Error(err))
			continue
		}
		switch strings.ToLower(result.Status) {
		case "success":
			if err := s.Settle(ctx, reference, result.Amount, s.parsePaidAt(result.PaidAt)); err != nil {
				s.logger.Error("reconcile sweep: settle", zap.String("reference", reference), zap.Error(err))
			}
		case "failed", "abandoned", "reversed":
			if err := s.payments.MarkFailed(ctx, reference, "reconciliation: gateway reported "+result.Status); err != nil {
				s.logger.Error("reconcile sweep: mark failed", zap.String("reference", reference), zap.Error(err))
			}
		}
	}
	return nil
}

// runFulfillment performs one application attempt and records the outcome
// under the payment's row lock.
func (s *FulfillmentService) runFulfillment(ctx context.Context, payment *models.Payment) error {
	applier, ok := s.appliers[payment.Purpose]
	if !ok {
		return s.recordOutcome(ctx, payment, appErrors.Clone(appErrors.ErrValidation, "no applier registered for purpose "+string(payment.Purpose)))
	}
	applyErr := applier.Apply(ctx, payment)
	return s.recordOutcome(ctx, payment, applyErr)
}

func (s *FulfillmentService) recordOutcome(ctx context.Context, payment *models.Payment, applyErr error) error {
	tx, err := s.payments.BeginTx(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open outcome transaction")
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := s.payments.GetByReferenceForUpdate(ctx, tx, payment.Reference)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock payment for outcome")
	}
	if locked.Applied() {
		return tx.Commit()
	}

	locked.Attempts++
	now := s.now()
	if applyErr == nil {
		locked.Outcome = models.FulfillmentApplied
		locked.AppliedAt = &now
		locked.LastError = nil
		locked.NextRetryAt = nil
	} else {
		message := applyErr.Error()
		locked.LastError = &message
		if locked.Attempts >= s.cfg.MaxAttempts {
			locked.Outcome = models.FulfillmentDeadLetter
			locked.NextRetryAt = nil
		} else {
			retryAt := now.Add(RetryBackoff(locked.Attempts, s.cfg))
			locked.Outcome = models.FulfillmentRetryScheduled
			locked.NextRetryAt = &retryAt
		}
	}

	if err := s.payments.UpdateFulfillmentTx(ctx, tx, locked); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit outcome")
	}

	if s.metrics != nil {
		s.metrics.RecordFulfillment(string(locked.Purpose), string(locked.Outcome))
	}

	switch locked.Outcome {
	case models.FulfillmentApplied:
		s.logger.Info("entitlement applied",
			zap.String("reference", locked.Reference),
			zap.String("purpose", string(locked.Purpose)),
			zap.Int("attempts", locked.Attempts))
	case models.FulfillmentDeadLetter:
		s.logger.Error("fulfillment dead-lettered",
			zap.String("reference", locked.Reference),
			zap.String("purpose", string(locked.Purpose)),
			zap.Int("attempts", locked.Attempts),
			zap.Error(applyErr))
		if s.notifier != nil {
			s.notifier.FulfillmentDeadLettered(locked)
		}
	default:
		s.logger.Warn("fulfillment retry scheduled",
			zap.String("reference", locked.Reference),
			zap.Int("attempts", locked.Attempts),
			zap.Timep("next_retry_at", locked.NextRetryAt),
			zap.Error(applyErr))
	}

	*payment = *locked
	return nil
}

func (s *FulfillmentService) parsePaidAt(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.UTC()
		}
	}
	return s.now()
}
