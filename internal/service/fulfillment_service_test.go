package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencove/billing-api/internal/client"
	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
	appErrors "github.com/opencove/billing-api/pkg/errors"
)

func testFulfillmentConfig() config.FulfillmentConfig {
	return config.FulfillmentConfig{
		MaxAttempts:    8,
		BaseRetryDelay: 2 * time.Minute,
		MaxRetryDelay:  60 * time.Minute,
	}
}

type fulfillmentPaymentsStub struct {
	db       *sqlx.DB
	payments map[string]*models.Payment
	failed   map[string]string
	stale    []models.Payment
}

func newFulfillmentPaymentsStub(t *testing.T) *fulfillmentPaymentsStub {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// The service opens short transactions around every lock; the stub only
	// needs Begin/Commit/Rollback to succeed in any order.
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 64; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	return &fulfillmentPaymentsStub{
		db:       sqlx.NewDb(db, "sqlmock"),
		payments: make(map[string]*models.Payment),
		failed:   make(map[string]string),
	}
}

func (s *fulfillmentPaymentsStub) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, nil)
}

func (s *fulfillmentPaymentsStub) GetByReferenceForUpdate(ctx context.Context, tx *sqlx.Tx, reference string) (*models.Payment, error) {
	if p, ok := s.payments[reference]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *fulfillmentPaymentsStub) UpdateFulfillmentTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	copy := *payment
	s.payments[payment.Reference] = &copy
	return nil
}

func (s *fulfillmentPaymentsStub) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	if p, ok := s.payments[reference]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *fulfillmentPaymentsStub) MarkFailed(ctx context.Context, reference, reason string) error {
	if p, ok := s.payments[reference]; ok && p.Status == models.PaymentStatusPending {
		p.Status = models.PaymentStatusFailed
		s.failed[reference] = reason
	}
	return nil
}

func (s *fulfillmentPaymentsStub) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	out := make([]models.Payment, 0)
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPaid && p.Outcome == models.FulfillmentRetryScheduled &&
			p.NextRetryAt != nil && !p.NextRetryAt.After(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fulfillmentPaymentsStub) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	return s.stale, nil
}

type verifierStub struct {
	results map[string]*client.VerifyResult
	err     error
}

func (v *verifierStub) Verify(ctx context.Context, reference string) (*client.VerifyResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	if r, ok := v.results[reference]; ok {
		return r, nil
	}
	return &client.VerifyResult{Reference: reference, Status: "failed"}, nil
}

type fulfillNotifierStub struct {
	settled []string
	dead    []string
}

func (n *fulfillNotifierStub) PaymentSettled(payment *models.Payment) {
	n.settled = append(n.settled, payment.Reference)
}

func (n *fulfillNotifierStub) FulfillmentDeadLettered(payment *models.Payment) {
	n.dead = append(n.dead, payment.Reference)
}

type countingApplier struct {
	calls int
	errs  []error
}

func (a *countingApplier) Apply(ctx context.Context, payment *models.Payment) error {
	a.calls++
	if len(a.errs) == 0 {
		return nil
	}
	err := a.errs[0]
	a.errs = a.errs[1:]
	return err
}

func pendingPayment(reference string, amount, discount int64) *models.Payment {
	return &models.Payment{
		ID:             "pay-" + reference,
		Reference:      reference,
		MemberID:       "mem-1",
		PayerEmail:     "member@example.com",
		Purpose:        models.PurposeMembership,
		Amount:         amount,
		Currency:       "NGN",
		Status:         models.PaymentStatusPending,
		DiscountAmount: discount,
		Metadata:       []byte(`{"plan_id":"plan-1"}`),
	}
}

func TestRetryBackoffDoubling(t *testing.T) {
	cfg := testFulfillmentConfig()
	require.Equal(t, 2*time.Minute, RetryBackoff(1, cfg))
	require.Equal(t, 4*time.Minute, RetryBackoff(2, cfg))
	require.Equal(t, 8*time.Minute, RetryBackoff(3, cfg))
	require.Equal(t, 32*time.Minute, RetryBackoff(5, cfg))
	require.Equal(t, 60*time.Minute, RetryBackoff(6, cfg))
	require.Equal(t, 60*time.Minute, RetryBackoff(20, cfg))
	require.Equal(t, 2*time.Minute, RetryBackoff(0, cfg))
}

func TestSettleAppliesEntitlement(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 0)
	applier := &countingApplier{}
	notifier := &fulfillNotifierStub{}
	svc := NewFulfillmentService(payments, nil, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil, WithFulfillmentNotifier(notifier))

	paidAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Settle(context.Background(), "PAY-1", 10000, paidAt))

	stored := payments.payments["PAY-1"]
	require.Equal(t, models.PaymentStatusPaid, stored.Status)
	require.Equal(t, models.FulfillmentApplied, stored.Outcome)
	require.NotNil(t, stored.AppliedAt)
	require.Equal(t, paidAt, *stored.PaidAt)
	require.Equal(t, 1, stored.Attempts)
	require.Equal(t, 1, applier.calls)
	require.Equal(t, []string{"PAY-1"}, notifier.settled)
}

func TestSettleDuplicateIsNoOp(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	applied := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	payment := pendingPayment("PAY-1", 10000, 0)
	payment.Status = models.PaymentStatusPaid
	payment.Outcome = models.FulfillmentApplied
	payment.AppliedAt = &applied
	payment.Attempts = 1
	payments.payments["PAY-1"] = payment
	applier := &countingApplier{}
	svc := NewFulfillmentService(payments, nil, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil)

	require.NoError(t, svc.Settle(context.Background(), "PAY-1", 10000, time.Now()))
	require.Equal(t, 0, applier.calls)
	require.Equal(t, 1, payments.payments["PAY-1"].Attempts)
}

func TestSettleAmountMismatchStaysPending(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 1000)
	applier := &countingApplier{}
	svc := NewFulfillmentService(payments, nil, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil)

	// Expected charge is 9000 after the discount.
	err := svc.Settle(context.Background(), "PAY-1", 10000, time.Now())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrAmountMismatch.Code, appErr.Code)

	stored := payments.payments["PAY-1"]
	require.Equal(t, models.PaymentStatusPending, stored.Status)
	require.NotNil(t, stored.LastError)
	require.Equal(t, 0, applier.calls)
}

func TestSettleRetriesThenDeadLetters(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 0)
	applier := &countingApplier{errs: []error{
		assert.AnError, assert.AnError, assert.AnError, assert.AnError,
		assert.AnError, assert.AnError, assert.AnError, assert.AnError,
	}}
	notifier := &fulfillNotifierStub{}
	svc := NewFulfillmentService(payments, nil, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil, WithFulfillmentNotifier(notifier))
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Settle(context.Background(), "PAY-1", 10000, now))
	stored := payments.payments["PAY-1"]
	require.Equal(t, models.PaymentStatusPaid, stored.Status)
	require.Equal(t, models.FulfillmentRetryScheduled, stored.Outcome)
	require.Equal(t, 1, stored.Attempts)
	require.Equal(t, now.Add(2*time.Minute), *stored.NextRetryAt)

	// Each sweep runs one more attempt once the backoff elapses.
	for attempt := 2; attempt <= 8; attempt++ {
		now = stored.NextRetryAt.Add(time.Second)
		require.NoError(t, svc.RetrySweep(context.Background()))
		stored = payments.payments["PAY-1"]
		require.Equal(t, attempt, stored.Attempts)
	}
	require.Equal(t, models.FulfillmentDeadLetter, stored.Outcome)
	require.Nil(t, stored.NextRetryAt)
	require.Equal(t, []string{"PAY-1"}, notifier.dead)
	require.Equal(t, 8, applier.calls)
}

func TestSettleRejectsDeadLettered(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payment := pendingPayment("PAY-1", 10000, 0)
	payment.Status = models.PaymentStatusPaid
	payment.Outcome = models.FulfillmentDeadLetter
	payment.Attempts = 8
	payments.payments["PAY-1"] = payment
	svc := NewFulfillmentService(payments, nil, nil, testFulfillmentConfig(), nil)

	err := svc.Settle(context.Background(), "PAY-1", 10000, time.Now())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrDeadLetter.Code, appErrors.FromError(err).Code)
}

func TestSettleWithoutApplierDeadLettersEventually(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payment := pendingPayment("PAY-1", 10000, 0)
	payment.Purpose = models.PaymentPurpose("UNKNOWN")
	payments.payments["PAY-1"] = payment
	svc := NewFulfillmentService(payments, nil, nil, testFulfillmentConfig(), nil)

	require.NoError(t, svc.Settle(context.Background(), "PAY-1", 10000, time.Now()))
	stored := payments.payments["PAY-1"]
	require.Equal(t, models.FulfillmentRetryScheduled, stored.Outcome)
	require.NotNil(t, stored.LastError)
}

func TestReplayResetsDeadLetter(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	lastErr := "members service unavailable"
	retryAt := time.Now()
	payment := pendingPayment("PAY-1", 10000, 0)
	payment.Status = models.PaymentStatusPaid
	payment.Outcome = models.FulfillmentDeadLetter
	payment.Attempts = 8
	payment.LastError = &lastErr
	payment.NextRetryAt = &retryAt
	payments.payments["PAY-1"] = payment
	applier := &countingApplier{}
	svc := NewFulfillmentService(payments, nil, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil)

	result, err := svc.Replay(context.Background(), "PAY-1")
	require.NoError(t, err)
	require.Equal(t, models.FulfillmentApplied, result.Outcome)
	require.Equal(t, 1, result.Attempts)
	require.Nil(t, result.LastError)
	require.Equal(t, 1, applier.calls)
}

func TestReplayRejectsNonDeadLettered(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 0)
	svc := NewFulfillmentService(payments, nil, nil, testFulfillmentConfig(), nil)

	_, err := svc.Replay(context.Background(), "PAY-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestHandleGatewayEvent(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 0)
	payments.payments["PAY-2"] = pendingPayment("PAY-2", 5000, 0)
	applier := &countingApplier{}
	svc := NewFulfillmentService(payments, nil, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil)

	require.NoError(t, svc.HandleGatewayEvent(context.Background(), dto.WebhookEvent{
		Event: "charge.success",
		Data: dto.WebhookEventDetail{
			Reference: "PAY-1",
			Amount:    10000,
			PaidAt:    "2026-03-02T12:00:00Z",
		},
	}))
	require.Equal(t, models.PaymentStatusPaid, payments.payments["PAY-1"].Status)
	require.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), payments.payments["PAY-1"].PaidAt.UTC())

	require.NoError(t, svc.HandleGatewayEvent(context.Background(), dto.WebhookEvent{
		Event: "charge.failed",
		Data:  dto.WebhookEventDetail{Reference: "PAY-2"},
	}))
	require.Equal(t, models.PaymentStatusFailed, payments.payments["PAY-2"].Status)

	// Unknown events are ignored.
	require.NoError(t, svc.HandleGatewayEvent(context.Background(), dto.WebhookEvent{
		Event: "transfer.success",
		Data:  dto.WebhookEventDetail{Reference: "PAY-1"},
	}))
}

func TestLateFailureNeverOverridesPaid(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 0)
	applier := &countingApplier{}
	svc := NewFulfillmentService(payments, nil, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil)

	require.NoError(t, svc.Settle(context.Background(), "PAY-1", 10000, time.Now()))
	require.NoError(t, svc.HandleGatewayEvent(context.Background(), dto.WebhookEvent{
		Event: "charge.failed",
		Data:  dto.WebhookEventDetail{Reference: "PAY-1"},
	}))
	require.Equal(t, models.PaymentStatusPaid, payments.payments["PAY-1"].Status)
}

func TestConfirmVerifiesAndSettles(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 0)
	gateway := &verifierStub{results: map[string]*client.VerifyResult{
		"PAY-1": {Reference: "PAY-1", Status: "success", Amount: 10000, PaidAt: "2026-03-02T12:00:00Z"},
	}}
	applier := &countingApplier{}
	svc := NewFulfillmentService(payments, gateway, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil)

	result, err := svc.Confirm(context.Background(), "PAY-1")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPaid, result.Status)
	require.Equal(t, models.FulfillmentApplied, result.Outcome)
}

func TestConfirmFailedVerification(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	payments.payments["PAY-1"] = pendingPayment("PAY-1", 10000, 0)
	gateway := &verifierStub{results: map[string]*client.VerifyResult{
		"PAY-1": {Reference: "PAY-1", Status: "abandoned"},
	}}
	svc := NewFulfillmentService(payments, gateway, nil, testFulfillmentConfig(), nil)

	result, err := svc.Confirm(context.Background(), "PAY-1")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusFailed, result.Status)
}

func TestReconcileSweepSettlesStalePending(t *testing.T) {
	payments := newFulfillmentPaymentsStub(t)
	success := pendingPayment("PAY-1", 10000, 0)
	abandoned := pendingPayment("PAY-2", 5000, 0)
	payments.payments["PAY-1"] = success
	payments.payments["PAY-2"] = abandoned
	payments.stale = []models.Payment{*success, *abandoned}
	gateway := &verifierStub{results: map[string]*client.VerifyResult{
		"PAY-1": {Reference: "PAY-1", Status: "success", Amount: 10000, PaidAt: "2026-03-02T12:00:00Z"},
		"PAY-2": {Reference: "PAY-2", Status: "abandoned"},
	}}
	applier := &countingApplier{}
	svc := NewFulfillmentService(payments, gateway, map[models.PaymentPurpose]EntitlementApplier{
		models.PurposeMembership: applier,
	}, testFulfillmentConfig(), nil)

	require.NoError(t, svc.ReconcileSweep(context.Background(), time.Hour))
	require.Equal(t, models.PaymentStatusPaid, payments.payments["PAY-1"].Status)
	require.Equal(t, models.PaymentStatusFailed, payments.payments["PAY-2"].Status)
}
