package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
	"github.com/opencove/billing-api/pkg/jobs"
)

// Notification message types.
const (
	NotifyPaymentSettled     = "payment.settled"
	NotifyDeadLetter         = "fulfillment.dead_letter"
	NotifyInstallmentDue     = "installment.due"
	NotifyDropoutPending     = "enrollment.dropout_pending"
	NotifyEnrollmentDropped  = "enrollment.dropped"
	NotifyAccessSuspended    = "enrollment.access_suspended"
)

// NotificationMessage is what the queue carries to the sender.
type NotificationMessage struct {
	Type      string
	Recipient string
	Subject   string
	Body      string
}

// NotificationSender delivers one message to its channel (email, push).
type NotificationSender interface {
	Send(ctx context.Context, msg NotificationMessage) error
}

// LogSender writes notifications to the application log. It stands in for a
// real delivery channel until the mail provider integration lands.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a log-backed sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the message instead of delivering it.
func (s *LogSender) Send(_ context.Context, msg NotificationMessage) error {
	s.logger.Info("notification",
		zap.String("type", msg.Type),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// NotificationService turns billing events into queued, fire-and-forget
// messages. Delivery failures retry inside the queue and are then dropped;
// they never block or fail payment processing.
type NotificationService struct {
	queue  *jobs.Queue
	cfg    config.NotificationsConfig
	logger *zap.Logger
}

// NewNotificationService constructs the service and its backing queue.
func NewNotificationService(sender NotificationSender, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{cfg: cfg, logger: logger}
	s.queue = jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(NotificationMessage)
		if !ok {
			s.logger.Error("notification job with unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		if sender == nil {
			s.logger.Debug("notification sender not configured, dropping", zap.String("type", msg.Type))
			return nil
		}
		return sender.Send(ctx, msg)
	}, jobs.QueueConfig{
		Workers: cfg.Workers,
		Logger:  logger,
	})
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

func (s *NotificationService) enqueue(msg NotificationMessage) {
	if !s.cfg.Enabled {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: msg.Type, Payload: msg}); err != nil {
		s.logger.Warn("drop notification", zap.String("type", msg.Type), zap.Error(err))
	}
}

// PaymentSettled notifies the payer that their payment went through.
func (s *NotificationService) PaymentSettled(payment *models.Payment) {
	s.enqueue(NotificationMessage{
		Type:      NotifyPaymentSettled,
		Recipient: payment.PayerEmail,
		Subject:   "Payment received",
		Body:      fmt.Sprintf("Your payment %s for %s has been received.", payment.Reference, payment.Purpose),
	})
}

// FulfillmentDeadLettered alerts operators that a payment needs manual replay.
func (s *NotificationService) FulfillmentDeadLettered(payment *models.Payment) {
	s.enqueue(NotificationMessage{
		Type:      NotifyDeadLetter,
		Recipient: s.cfg.AdminEmail,
		Subject:   "Fulfillment dead-lettered",
		Body:      fmt.Sprintf("Payment %s (%s) exhausted its fulfillment retries and needs manual replay.", payment.Reference, payment.Purpose),
	})
}

// InstallmentDue reminds a member about an upcoming installment.
func (s *NotificationService) InstallmentDue(recipient string, enrollmentID string, number int, amount int64, currency string, dueAt time.Time, daysOut int) {
	s.enqueue(NotificationMessage{
		Type:      NotifyInstallmentDue,
		Recipient: recipient,
		Subject:   fmt.Sprintf("Installment %d due in %d day(s)", number, daysOut),
		Body: fmt.Sprintf("Installment %d of %s %d for enrollment %s is due on %s.",
			number, currency, amount, enrollmentID, dueAt.Format("Mon 2 Jan 2006")),
	})
}

// DropoutPending alerts operators that an enrollment awaits a dropout decision.
func (s *NotificationService) DropoutPending(enrollment *models.Enrollment) {
	s.enqueue(NotificationMessage{
		Type:      NotifyDropoutPending,
		Recipient: s.cfg.AdminEmail,
		Subject:   "Dropout confirmation required",
		Body:      fmt.Sprintf("Enrollment %s hit the missed-payment limit and awaits dropout confirmation.", enrollment.ID),
	})
}

// EnrollmentDropped informs the member their enrollment was dropped.
func (s *NotificationService) EnrollmentDropped(enrollment *models.Enrollment) {
	s.enqueue(NotificationMessage{
		Type:      NotifyEnrollmentDropped,
		Recipient: enrollment.MemberID,
		Subject:   "Enrollment dropped",
		Body:      fmt.Sprintf("Enrollment %s was dropped after repeated missed installments.", enrollment.ID),
	})
}

// AccessSuspended informs the member their cohort access is on hold.
func (s *NotificationService) AccessSuspended(enrollment *models.Enrollment) {
	s.enqueue(NotificationMessage{
		Type:      NotifyAccessSuspended,
		Recipient: enrollment.MemberID,
		Subject:   "Cohort access suspended",
		Body:      fmt.Sprintf("Access for enrollment %s is suspended until the overdue installment is settled.", enrollment.ID),
	})
}
