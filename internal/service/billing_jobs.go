package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/client"
	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
	"github.com/opencove/billing-api/pkg/jobs"
)

// Reminder windows, in days before an installment falls due. A window fires
// once per installment; which windows fired is tracked on the enrollment so
// sweeps stay idempotent across restarts.
var reminderWindows = [...]int{7, 3, 1}

type jobEnrollments interface {
	ListEvaluable(ctx context.Context, limit int) ([]models.Enrollment, error)
	Update(ctx context.Context, enrollment *models.Enrollment) error
}

type jobInstallments interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error)
	MarkPaid(ctx context.Context, enrollmentID string, number int, paymentReference string, paidAt time.Time) error
}

type walletDebiter interface {
	Balance(ctx context.Context, memberID string) (*client.BalanceResult, error)
	Debit(ctx context.Context, memberID string, amount int64, currency, idempotencyKey string) error
}

type receiptPruner interface {
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type reminderSink interface {
	InstallmentDue(recipient string, enrollmentID string, number int, amount int64, currency string, dueAt time.Time, daysOut int)
}

type cacheInvalidator interface {
	InvalidateSchedule(ctx context.Context, enrollmentID string)
}

type sweepRunner interface {
	RunSweep(ctx context.Context) error
}

type retrySweeper interface {
	RetrySweep(ctx context.Context) error
	ReconcileSweep(ctx context.Context, pendingAfter time.Duration) error
}

// BillingJobs owns the recurring sweeps: installment reminders and wallet
// auto-deduction. It also registers the compliance and fulfillment sweeps on
// the shared scheduler so the process has a single place that wires tickers.
type BillingJobs struct {
	enrollments  jobEnrollments
	installments jobInstallments
	wallet       walletDebiter
	notifier     reminderSink
	schedules    cacheInvalidator
	compliance   *ComplianceService
	fulfillment  retrySweeper
	receipts     receiptPruner
	cfg          config.JobsConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewBillingJobs constructs the sweep owner.
func NewBillingJobs(
	enrollments jobEnrollments,
	installments jobInstallments,
	wallet walletDebiter,
	notifier reminderSink,
	schedules cacheInvalidator,
	compliance *ComplianceService,
	fulfillment retrySweeper,
	cfg config.JobsConfig,
	logger *zap.Logger,
) *BillingJobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingJobs{
		enrollments:  enrollments,
		installments: installments,
		wallet:       wallet,
		notifier:     notifier,
		schedules:    schedules,
		compliance:   compliance,
		fulfillment:  fulfillment,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithReceiptPruner enables the receipt cache cleanup sweep.
func (b *BillingJobs) WithReceiptPruner(pruner receiptPruner) *BillingJobs {
	b.receipts = pruner
	return b
}

// Register attaches every enabled sweep to the scheduler.
func (b *BillingJobs) Register(scheduler *jobs.Scheduler) {
	if !b.cfg.Enabled {
		b.logger.Info("billing jobs disabled, no sweeps registered")
		return
	}
	if b.compliance != nil {
		scheduler.Register("compliance-sweep", b.cfg.ComplianceInterval, b.compliance.RunSweep)
	}
	if b.fulfillment != nil {
		scheduler.Register("fulfillment-retry-sweep", b.cfg.RetrySweepInterval, b.fulfillment.RetrySweep)
		scheduler.Register("gateway-reconcile-sweep", b.cfg.ReconcileInterval, func(ctx context.Context) error {
			return b.fulfillment.ReconcileSweep(ctx, b.cfg.ReconcilePendingAfter)
		})
	}
	scheduler.Register("installment-reminder-sweep", b.cfg.ReminderInterval, b.ReminderSweep)
	if b.wallet != nil {
		scheduler.Register("wallet-auto-deduction-sweep", b.cfg.AutoDeductionInterval, b.AutoDeductionSweep)
	}
	if b.receipts != nil {
		scheduler.Register("receipt-cleanup-sweep", b.cfg.ReceiptCleanupInterval, b.ReceiptCleanupSweep)
	}
}

// ReceiptCleanupSweep prunes cached receipt PDFs past their TTL. Pruned
// receipts are re-rendered on the next download.
func (b *BillingJobs) ReceiptCleanupSweep(ctx context.Context) error {
	deleted, err := b.receipts.CleanupOlderThan(b.cfg.ReceiptTTL)
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		b.logger.Info("receipt cache pruned", zap.Int("deleted", len(deleted)))
	}
	return nil
}

// ReminderSweep sends upcoming-installment reminders at the 7, 3 and 1 day
// marks. Each window fires at most once per installment.
func (b *BillingJobs) ReminderSweep(ctx context.Context) error {
	enrollments, err := b.enrollments.ListEvaluable(ctx, 0)
	if err != nil {
		return err
	}
	now := b.now()
	for i := range enrollments {
		enrollment := &enrollments[i]
		if enrollment.AccessSuspended {
			continue
		}
		installments, err := b.installments.ListByEnrollment(ctx, enrollment.ID)
		if err != nil {
			b.logger.Error("reminder sweep: load installments", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			continue
		}
		sent := parseRemindersSent(enrollment.RemindersSent)
		dirty := false
		for _, inst := range installments {
			if inst.Status != models.InstallmentPending || !inst.DueAt.After(now) {
				continue
			}
			daysLeft := int(math.Ceil(inst.DueAt.Sub(now).Hours() / 24))
			for _, window := range reminderWindows {
				if daysLeft != window {
					continue
				}
				key := reminderKey(inst.Number, window)
				if sent[key] {
					continue
				}
				b.notifier.InstallmentDue(enrollment.MemberID, enrollment.ID, inst.Number, inst.Amount, inst.Currency, inst.DueAt, window)
				sent[key] = true
				dirty = true
			}
		}
		if dirty {
			raw, err := json.Marshal(sent)
			if err != nil {
				b.logger.Error("reminder sweep: encode sent set", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
				continue
			}
			enrollment.RemindersSent = raw
			if err := b.enrollments.Update(ctx, enrollment); err != nil {
				b.logger.Error("reminder sweep: persist sent set", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// AutoDeductionSweep settles due installments straight from member wallets.
// The wallet call carries a per-installment idempotency key so a crash
// between debit and mark-paid cannot double charge on the next run.
func (b *BillingJobs) AutoDeductionSweep(ctx context.Context) error {
	enrollments, err := b.enrollments.ListEvaluable(ctx, 0)
	if err != nil {
		return err
	}
	now := b.now()
	for i := range enrollments {
		enrollment := &enrollments[i]
		if enrollment.Status.Terminal() || enrollment.Status == models.EnrollmentDropoutPending {
			continue
		}
		installments, err := b.installments.ListByEnrollment(ctx, enrollment.ID)
		if err != nil {
			b.logger.Error("auto-deduction sweep: load installments", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			continue
		}
		for _, inst := range installments {
			if inst.Status.Settled() || inst.DueAt.After(now) {
				continue
			}
			balance, err := b.wallet.Balance(ctx, enrollment.MemberID)
			if err != nil {
				b.logger.Debug("auto-deduction: balance check failed",
					zap.String("enrollment_id", enrollment.ID),
					zap.Error(err))
				break
			}
			if balance.Balance < inst.Amount {
				b.logger.Debug("auto-deduction skipped, insufficient balance",
					zap.String("enrollment_id", enrollment.ID),
					zap.Int("number", inst.Number),
					zap.Int64("balance", balance.Balance),
					zap.Int64("amount", inst.Amount))
				break
			}
			key := WalletInstallmentKey(enrollment.ID, inst.Number)
			if err := b.wallet.Debit(ctx, enrollment.MemberID, inst.Amount, inst.Currency, key); err != nil {
				// The balance can still move between check and debit; the
				// compliance sweep handles the consequences of non-payment.
				b.logger.Debug("auto-deduction skipped",
					zap.String("enrollment_id", enrollment.ID),
					zap.Int("number", inst.Number),
					zap.Error(err))
				break
			}
			if err := b.installments.MarkPaid(ctx, enrollment.ID, inst.Number, key, now); err != nil {
				b.logger.Error("auto-deduction: mark paid",
					zap.String("enrollment_id", enrollment.ID),
					zap.Int("number", inst.Number),
					zap.Error(err))
				break
			}
			b.logger.Info("installment settled from wallet",
				zap.String("enrollment_id", enrollment.ID),
				zap.Int("number", inst.Number),
				zap.Int64("amount", inst.Amount))
			if b.schedules != nil {
				b.schedules.InvalidateSchedule(ctx, enrollment.ID)
			}
			if b.compliance != nil {
				if _, err := b.compliance.Evaluate(ctx, enrollment.ID); err != nil {
					b.logger.Error("auto-deduction: re-evaluate", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
				}
			}
			break
		}
	}
	return nil
}

// WalletInstallmentKey is the idempotency key for settling one installment
// from a wallet.
func WalletInstallmentKey(enrollmentID string, number int) string {
	return fmt.Sprintf("wallet-installment-%s-%d", enrollmentID, number)
}

func reminderKey(number, window int) string {
	return fmt.Sprintf("%d:%d", number, window)
}

func parseRemindersSent(raw []byte) map[string]bool {
	sent := make(map[string]bool)
	if len(raw) > 0 {
		// A corrupt blob resets the sent set; worst case a reminder repeats.
		_ = json.Unmarshal(raw, &sent)
	}
	return sent
}
