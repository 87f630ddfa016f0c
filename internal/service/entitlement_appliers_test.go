package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
)

type membersStub struct {
	activations [][3]string
	addons      [][3]string
	activateErr error
}

func (m *membersStub) ActivateMembership(ctx context.Context, memberID, planID, paymentReference string) error {
	if m.activateErr != nil {
		return m.activateErr
	}
	m.activations = append(m.activations, [3]string{memberID, planID, paymentReference})
	return nil
}

func (m *membersStub) GrantAddon(ctx context.Context, memberID, addonID, paymentReference string) error {
	m.addons = append(m.addons, [3]string{memberID, addonID, paymentReference})
	return nil
}

type sessionRecorderStub struct {
	sessions [][3]string
}

func (s *sessionRecorderStub) RecordSession(ctx context.Context, memberID, sessionID, paymentReference string) error {
	s.sessions = append(s.sessions, [3]string{memberID, sessionID, paymentReference})
	return nil
}

type walletCreditorStub struct {
	credits []string
}

func (w *walletCreditorStub) Credit(ctx context.Context, memberID string, amount int64, currency, idempotencyKey string) error {
	w.credits = append(w.credits, idempotencyKey)
	return nil
}

type orderConfirmerStub struct {
	confirmed [][2]string
}

func (o *orderConfirmerStub) ConfirmOrder(ctx context.Context, orderID, paymentReference string) error {
	o.confirmed = append(o.confirmed, [2]string{orderID, paymentReference})
	return nil
}

type installmentSettlerStub struct {
	paid   []int
	waived []int
}

func (s *installmentSettlerStub) MarkPaid(ctx context.Context, enrollmentID string, number int, paymentReference string, paidAt time.Time) error {
	s.paid = append(s.paid, number)
	return nil
}

func (s *installmentSettlerStub) WaiveFrom(ctx context.Context, enrollmentID string, number int) error {
	s.waived = append(s.waived, number)
	return nil
}

type evaluatorStub struct {
	evaluated []string
}

func (e *evaluatorStub) Evaluate(ctx context.Context, enrollmentID string) (*dto.EvaluationResponse, error) {
	e.evaluated = append(e.evaluated, enrollmentID)
	return &dto.EvaluationResponse{EnrollmentID: enrollmentID}, nil
}

func settledPayment(purpose models.PaymentPurpose, metadata string) *models.Payment {
	paidAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	return &models.Payment{
		Reference: "PAY-1",
		MemberID:  "mem-1",
		Purpose:   purpose,
		Amount:    10000,
		Currency:  "NGN",
		Status:    models.PaymentStatusPaid,
		PaidAt:    &paidAt,
		Metadata:  []byte(metadata),
	}
}

func TestMembershipApplier(t *testing.T) {
	members := &membersStub{}
	applier := NewMembershipApplier(members, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeMembership, `{"plan_id":"plan-1"}`))
	require.NoError(t, err)
	require.Equal(t, [][3]string{{"mem-1", "plan-1", "PAY-1"}}, members.activations)

	err = applier.Apply(context.Background(), settledPayment(models.PurposeMembership, `{}`))
	require.Error(t, err)
}

func TestAddonApplierCamelCaseMetadata(t *testing.T) {
	members := &membersStub{}
	applier := NewAddonApplier(members, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeAddon, `{"addonId":"addon-1"}`))
	require.NoError(t, err)
	require.Equal(t, [][3]string{{"mem-1", "addon-1", "PAY-1"}}, members.addons)
}

func TestSessionApplier(t *testing.T) {
	attendance := &sessionRecorderStub{}
	applier := NewSessionApplier(attendance, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeSession, `{"session_id":"sess-1"}`))
	require.NoError(t, err)
	require.Equal(t, [][3]string{{"mem-1", "sess-1", "PAY-1"}}, attendance.sessions)
}

func TestBundleApplierGrantsBothHalves(t *testing.T) {
	members := &membersStub{}
	applier := NewBundleApplier(members, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeBundle,
		`{"plan_id":"plan-1","addon_id":"addon-1"}`))
	require.NoError(t, err)
	require.Len(t, members.activations, 1)
	require.Len(t, members.addons, 1)

	err = applier.Apply(context.Background(), settledPayment(models.PurposeBundle, `{"plan_id":"plan-1"}`))
	require.Error(t, err)
	require.Len(t, members.activations, 1)
}

func TestStoreOrderApplier(t *testing.T) {
	store := &orderConfirmerStub{}
	applier := NewStoreOrderApplier(store, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeStoreOrder, `{"order_id":"ord-1"}`))
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"ord-1", "PAY-1"}}, store.confirmed)
}

func TestWalletTopupApplierIdempotencyKey(t *testing.T) {
	wallet := &walletCreditorStub{}
	applier := NewWalletTopupApplier(wallet, nil)

	payment := settledPayment(models.PurposeWalletTopup, `{}`)
	require.NoError(t, applier.Apply(context.Background(), payment))
	require.NoError(t, applier.Apply(context.Background(), payment))
	// The key is stable across retries so the wallet service deduplicates.
	require.Equal(t, []string{"wallet-topup-PAY-1", "wallet-topup-PAY-1"}, wallet.credits)
}

func TestCohortInstallmentApplier(t *testing.T) {
	installments := &installmentSettlerStub{}
	compliance := &evaluatorStub{}
	applier := NewCohortInstallmentApplier(installments, compliance, nil, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeCohortInstallment,
		`{"enrollment_id":"enr-1","installment_number":2}`))
	require.NoError(t, err)
	require.Equal(t, []int{2}, installments.paid)
	require.Empty(t, installments.waived)
	require.Equal(t, []string{"enr-1"}, compliance.evaluated)
}

func TestCohortInstallmentApplierWaivesRemaining(t *testing.T) {
	installments := &installmentSettlerStub{}
	compliance := &evaluatorStub{}
	applier := NewCohortInstallmentApplier(installments, compliance, nil, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeCohortInstallment,
		`{"enrollment_id":"enr-1","installment_number":2,"waive_remaining":true}`))
	require.NoError(t, err)
	require.Equal(t, []int{2}, installments.paid)
	require.Equal(t, []int{3}, installments.waived)
}

func TestCohortInstallmentApplierWaivesWhenFullyDiscounted(t *testing.T) {
	installments := &installmentSettlerStub{}
	applier := NewCohortInstallmentApplier(installments, &evaluatorStub{}, nil, nil)

	payment := settledPayment(models.PurposeCohortInstallment,
		`{"enrollment_id":"enr-1","installment_number":1}`)
	payment.DiscountAmount = payment.Amount

	err := applier.Apply(context.Background(), payment)
	require.NoError(t, err)
	require.Equal(t, []int{1}, installments.paid)
	require.Equal(t, []int{2}, installments.waived)
}

func TestCohortInstallmentApplierActivatesTierNonFatally(t *testing.T) {
	installments := &installmentSettlerStub{}
	members := &membersStub{}
	applier := NewCohortInstallmentApplier(installments, &evaluatorStub{}, nil, nil).
		WithTierActivation(members)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeCohortInstallment,
		`{"enrollment_id":"enr-1","installment_number":1,"tier_id":"academy"}`))
	require.NoError(t, err)
	require.Equal(t, [][3]string{{"mem-1", "academy", "PAY-1"}}, members.activations)

	members.activateErr = assert.AnError
	err = applier.Apply(context.Background(), settledPayment(models.PurposeCohortInstallment,
		`{"enrollment_id":"enr-1","installment_number":2,"tier_id":"academy"}`))
	require.NoError(t, err)
}

func TestCohortInstallmentApplierValidatesMetadata(t *testing.T) {
	applier := NewCohortInstallmentApplier(&installmentSettlerStub{}, &evaluatorStub{}, nil, nil)

	err := applier.Apply(context.Background(), settledPayment(models.PurposeCohortInstallment,
		`{"installment_number":2}`))
	require.Error(t, err)

	err = applier.Apply(context.Background(), settledPayment(models.PurposeCohortInstallment,
		`{"enrollment_id":"enr-1","installment_number":0}`))
	require.Error(t, err)

	err = applier.Apply(context.Background(), settledPayment(models.PurposeCohortInstallment, `not-json`))
	require.Error(t, err)
}
