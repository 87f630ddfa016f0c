package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	appErrors "github.com/opencove/billing-api/pkg/errors"
)

// EntitlementApplier grants whatever a settled payment bought. Appliers must
// be idempotent: a retried fulfillment may call Apply again for the same
// payment.
type EntitlementApplier interface {
	Apply(ctx context.Context, payment *models.Payment) error
}

// EntitlementApplierFunc adapts a function to the EntitlementApplier interface.
type EntitlementApplierFunc func(ctx context.Context, payment *models.Payment) error

// Apply implements EntitlementApplier.
func (f EntitlementApplierFunc) Apply(ctx context.Context, payment *models.Payment) error {
	return f(ctx, payment)
}

type membershipGranter interface {
	ActivateMembership(ctx context.Context, memberID, planID, paymentReference string) error
	GrantAddon(ctx context.Context, memberID, addonID, paymentReference string) error
}

type sessionRecorder interface {
	RecordSession(ctx context.Context, memberID, sessionID, paymentReference string) error
}

type orderConfirmer interface {
	ConfirmOrder(ctx context.Context, orderID, paymentReference string) error
}

type walletCreditor interface {
	Credit(ctx context.Context, memberID string, amount int64, currency, idempotencyKey string) error
}

type installmentSettler interface {
	MarkPaid(ctx context.Context, enrollmentID string, number int, paymentReference string, paidAt time.Time) error
	WaiveFrom(ctx context.Context, enrollmentID string, number int) error
}

type planEvaluator interface {
	Evaluate(ctx context.Context, enrollmentID string) (*dto.EvaluationResponse, error)
}

// MembershipApplier activates a membership plan on the members service.
type MembershipApplier struct {
	members membershipGranter
	logger  *zap.Logger
}

// NewMembershipApplier constructs a membership applier.
func NewMembershipApplier(members membershipGranter, logger *zap.Logger) *MembershipApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipApplier{members: members, logger: logger}
}

// Apply grants the plan named in the payment metadata.
func (a *MembershipApplier) Apply(ctx context.Context, payment *models.Payment) error {
	payload, err := decodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	planID, ok, err := readString(payload, "plan_id", "planId")
	if err != nil || !ok {
		return appErrors.Clone(appErrors.ErrValidation, "membership payment missing plan_id")
	}
	return a.members.ActivateMembership(ctx, payment.MemberID, *planID, payment.Reference)
}

// AddonApplier attaches a paid add-on via the members service.
type AddonApplier struct {
	members membershipGranter
	logger  *zap.Logger
}

// NewAddonApplier constructs an add-on applier.
func NewAddonApplier(members membershipGranter, logger *zap.Logger) *AddonApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AddonApplier{members: members, logger: logger}
}

// Apply grants the add-on named in the payment metadata.
func (a *AddonApplier) Apply(ctx context.Context, payment *models.Payment) error {
	payload, err := decodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	addonID, ok, err := readString(payload, "addon_id", "addonId")
	if err != nil || !ok {
		return appErrors.Clone(appErrors.ErrValidation, "addon payment missing addon_id")
	}
	return a.members.GrantAddon(ctx, payment.MemberID, *addonID, payment.Reference)
}

// SessionApplier records attendance for a paid one-off session.
type SessionApplier struct {
	attendance sessionRecorder
	logger     *zap.Logger
}

// NewSessionApplier constructs a session applier.
func NewSessionApplier(attendance sessionRecorder, logger *zap.Logger) *SessionApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionApplier{attendance: attendance, logger: logger}
}

// Apply creates the attendance record for the session named in the payment
// metadata.
func (a *SessionApplier) Apply(ctx context.Context, payment *models.Payment) error {
	payload, err := decodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	sessionID, ok, err := readString(payload, "session_id", "sessionId")
	if err != nil || !ok {
		return appErrors.Clone(appErrors.ErrValidation, "session payment missing session_id")
	}
	return a.attendance.RecordSession(ctx, payment.MemberID, *sessionID, payment.Reference)
}

// BundleApplier grants both halves of a bundled purchase. Each grant is
// idempotent downstream, so reapplying a partially granted bundle is safe.
type BundleApplier struct {
	members membershipGranter
	logger  *zap.Logger
}

// NewBundleApplier constructs a bundle applier.
func NewBundleApplier(members membershipGranter, logger *zap.Logger) *BundleApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleApplier{members: members, logger: logger}
}

// Apply grants the plan and add-on named in the payment metadata.
func (a *BundleApplier) Apply(ctx context.Context, payment *models.Payment) error {
	payload, err := decodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	planID, ok, err := readString(payload, "plan_id", "planId")
	if err != nil || !ok {
		return appErrors.Clone(appErrors.ErrValidation, "bundle payment missing plan_id")
	}
	addonID, ok, err := readString(payload, "addon_id", "addonId")
	if err != nil || !ok {
		return appErrors.Clone(appErrors.ErrValidation, "bundle payment missing addon_id")
	}
	if err := a.members.ActivateMembership(ctx, payment.MemberID, *planID, payment.Reference); err != nil {
		return err
	}
	return a.members.GrantAddon(ctx, payment.MemberID, *addonID, payment.Reference)
}

// StoreOrderApplier confirms a paid store order.
type StoreOrderApplier struct {
	store  orderConfirmer
	logger *zap.Logger
}

// NewStoreOrderApplier constructs a store order applier.
func NewStoreOrderApplier(store orderConfirmer, logger *zap.Logger) *StoreOrderApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreOrderApplier{store: store, logger: logger}
}

// Apply confirms the order named in the payment metadata.
func (a *StoreOrderApplier) Apply(ctx context.Context, payment *models.Payment) error {
	payload, err := decodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	orderID, ok, err := readString(payload, "order_id", "orderId")
	if err != nil || !ok {
		return appErrors.Clone(appErrors.ErrValidation, "store payment missing order_id")
	}
	return a.store.ConfirmOrder(ctx, *orderID, payment.Reference)
}

// WalletTopupApplier credits a wallet from a settled payment. The payment
// reference doubles as the idempotency key so a retried credit cannot
// double-fund the wallet.
type WalletTopupApplier struct {
	wallet walletCreditor
	logger *zap.Logger
}

// NewWalletTopupApplier constructs a wallet top-up applier.
func NewWalletTopupApplier(wallet walletCreditor, logger *zap.Logger) *WalletTopupApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletTopupApplier{wallet: wallet, logger: logger}
}

// Apply credits the member's wallet with the settled amount.
func (a *WalletTopupApplier) Apply(ctx context.Context, payment *models.Payment) error {
	key := "wallet-topup-" + payment.Reference
	return a.wallet.Credit(ctx, payment.MemberID, payment.Amount, payment.Currency, key)
}

// CohortInstallmentApplier settles an installment in-process and re-runs the
// compliance evaluation so a late payment lifts suspension immediately.
type CohortInstallmentApplier struct {
	installments installmentSettler
	compliance   planEvaluator
	schedules    *ScheduleService
	members      membershipGranter
	logger       *zap.Logger
}

// NewCohortInstallmentApplier constructs a cohort installment applier.
func NewCohortInstallmentApplier(installments installmentSettler, compliance planEvaluator, schedules *ScheduleService, logger *zap.Logger) *CohortInstallmentApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CohortInstallmentApplier{installments: installments, compliance: compliance, schedules: schedules, logger: logger}
}

// WithTierActivation makes the applier activate the academy membership tier
// named in the payment metadata after settling an installment. Activation
// failures are logged but never fail the settlement.
func (a *CohortInstallmentApplier) WithTierActivation(members membershipGranter) *CohortInstallmentApplier {
	a.members = members
	return a
}

// Apply marks the installment paid and triggers a fresh evaluation.
func (a *CohortInstallmentApplier) Apply(ctx context.Context, payment *models.Payment) error {
	payload, err := decodeMetadata(payment.Metadata)
	if err != nil {
		return err
	}
	enrollmentID, ok, err := readString(payload, "enrollment_id", "enrollmentId")
	if err != nil || !ok {
		return appErrors.Clone(appErrors.ErrValidation, "installment payment missing enrollment_id")
	}
	number, ok, err := readInt(payload, "installment_number", "installmentNumber")
	if err != nil || !ok || number < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "installment payment missing installment_number")
	}

	paidAt := time.Now().UTC()
	if payment.PaidAt != nil {
		paidAt = *payment.PaidAt
	}
	if err := a.installments.MarkPaid(ctx, *enrollmentID, number, payment.Reference, paidAt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle installment")
	}

	// A fully discounted plan has nothing left to collect. Operators can also
	// force the waiver through metadata.
	waive := payment.Amount-payment.DiscountAmount <= 0
	if !waive {
		if flag, ok, err := readBool(payload, "waive_remaining", "waiveRemaining"); err == nil && ok {
			waive = flag
		}
	}
	if waive {
		if err := a.installments.WaiveFrom(ctx, *enrollmentID, number+1); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to waive remaining installments")
		}
	}

	if a.members != nil {
		if tierID, ok, err := readString(payload, "tier_id", "tierId"); err == nil && ok {
			if err := a.members.ActivateMembership(ctx, payment.MemberID, *tierID, payment.Reference); err != nil {
				a.logger.Warn("academy tier activation failed",
					zap.String("enrollment_id", *enrollmentID),
					zap.String("tier_id", *tierID),
					zap.Error(err))
			}
		}
	}

	if a.schedules != nil {
		a.schedules.InvalidateSchedule(ctx, *enrollmentID)
	}
	if a.compliance != nil {
		if _, err := a.compliance.Evaluate(ctx, *enrollmentID); err != nil {
			return fmt.Errorf("re-evaluate enrollment %s: %w", *enrollmentID, err)
		}
	}
	a.logger.Info("installment settled",
		zap.String("enrollment_id", *enrollmentID),
		zap.Int("number", number),
		zap.String("reference", payment.Reference))
	return nil
}

func decodeMetadata(raw []byte) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid payment metadata")
	}
	return payload, nil
}

func readString(payload map[string]json.RawMessage, keys ...string) (*string, bool, error) {
	for _, key := range keys {
		if raw, ok := payload[key]; ok {
			var val string
			if err := json.Unmarshal(raw, &val); err != nil {
				return nil, false, err
			}
			val = strings.TrimSpace(val)
			return &val, true, nil
		}
	}
	return nil, false, nil
}

func readBool(payload map[string]json.RawMessage, keys ...string) (bool, bool, error) {
	for _, key := range keys {
		if raw, ok := payload[key]; ok {
			var val bool
			if err := json.Unmarshal(raw, &val); err != nil {
				return false, false, err
			}
			return val, true, nil
		}
	}
	return false, false, nil
}

func readInt(payload map[string]json.RawMessage, keys ...string) (int, bool, error) {
	for _, key := range keys {
		if raw, ok := payload[key]; ok {
			var val int
			if err := json.Unmarshal(raw, &val); err != nil {
				return 0, false, err
			}
			return val, true, nil
		}
	}
	return 0, false, nil
}
