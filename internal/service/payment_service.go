package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencove/billing-api/internal/client"
	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
	appErrors "github.com/opencove/billing-api/pkg/errors"
	"github.com/opencove/billing-api/pkg/export"
)

type paymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)
	ListByMember(ctx context.Context, memberID string, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type checkoutInitializer interface {
	Initialize(ctx context.Context, reference, email string, amount int64, currency string) (*client.InitializeResult, error)
}

type discountApplier interface {
	Apply(ctx context.Context, req dto.DiscountPreviewRequest) (*models.DiscountQuote, error)
}

type receiptRenderer interface {
	Render(receipt export.Receipt) ([]byte, error)
}

type receiptArchive interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type paymentMetrics interface {
	RecordPayment(purpose, status string)
}

type zeroBalanceSettler interface {
	Settle(ctx context.Context, reference string, verifiedAmount int64, paidAt time.Time) error
}

// PaymentOption customises optional PaymentService collaborators.
type PaymentOption func(*PaymentService)

// WithReceiptArchive stores rendered receipts on disk so repeat downloads
// skip the PDF renderer.
func WithReceiptArchive(archive receiptArchive) PaymentOption {
	return func(s *PaymentService) { s.archive = archive }
}

// WithPaymentMetrics attaches a payment counter.
func WithPaymentMetrics(m paymentMetrics) PaymentOption {
	return func(s *PaymentService) { s.metrics = m }
}

// WithZeroBalanceSettler settles fully discounted intents at creation. No
// checkout session exists for them, so no gateway event will ever arrive.
func WithZeroBalanceSettler(settler zeroBalanceSettler) PaymentOption {
	return func(s *PaymentService) { s.settler = settler }
}

// PaymentService creates payment intents and serves payment history.
type PaymentService struct {
	payments  paymentStore
	gateway   checkoutInitializer
	discounts discountApplier
	receipts  receiptRenderer
	archive   receiptArchive
	metrics   paymentMetrics
	settler   zeroBalanceSettler
	cfg       config.BillingConfig
	logger    *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(payments paymentStore, gateway checkoutInitializer, discounts discountApplier, receipts receiptRenderer, cfg config.BillingConfig, logger *zap.Logger, opts ...PaymentOption) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PaymentService{payments: payments, gateway: gateway, discounts: discounts, receipts: receipts, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIntent opens a pending payment and a gateway checkout session for
// it. A discount code binds to the payment here; its usage slot is consumed
// even if the member abandons checkout.
func (s *PaymentService) CreateIntent(ctx context.Context, memberID string, req dto.CreateIntentRequest) (*dto.CreateIntentResponse, error) {
	if !knownPurpose(req.Purpose) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment purpose "+string(req.Purpose))
	}
	if req.Amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	var discountAmount int64
	var discountCode *string
	if req.DiscountCode != "" {
		quote, err := s.discounts.Apply(ctx, dto.DiscountPreviewRequest{
			Code:       req.DiscountCode,
			Purpose:    req.Purpose,
			Amount:     req.Amount,
			Components: componentLines(req.Metadata),
		})
		if err != nil {
			return nil, err
		}
		if !quote.Valid {
			return nil, appErrors.Clone(appErrors.ErrValidation, quote.Message)
		}
		discountAmount = quote.DiscountAmount
		code := quote.Code
		discountCode = &code
	}

	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid payment metadata")
	}

	payment := &models.Payment{
		Reference:      models.GeneratePaymentReference(),
		MemberID:       memberID,
		PayerEmail:     req.PayerEmail,
		Purpose:        req.Purpose,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         models.PaymentStatusPending,
		DiscountCode:   discountCode,
		DiscountAmount: discountAmount,
		Metadata:       metadata,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}

	chargeAmount := payment.Amount - payment.DiscountAmount
	resp := &dto.CreateIntentResponse{
		Reference:      payment.Reference,
		Amount:         chargeAmount,
		Currency:       currency,
		DiscountAmount: discountAmount,
	}

	if chargeAmount > 0 {
		if s.gateway != nil {
			session, err := s.gateway.Initialize(ctx, payment.Reference, payment.PayerEmail, chargeAmount, currency)
			if err != nil {
				return nil, err
			}
			resp.AuthorizationURL = session.AuthorizationURL
			resp.AccessCode = session.AccessCode
		}
	} else if s.settler != nil {
		// A fully discounted intent gets no checkout session, so no gateway
		// event will ever report it. Settle it against a verified amount of
		// zero right away.
		if err := s.settler.Settle(ctx, payment.Reference, 0, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.RecordPayment(string(payment.Purpose), string(payment.Status))
	}
	s.logger.Info("payment intent created",
		zap.String("reference", payment.Reference),
		zap.String("purpose", string(payment.Purpose)),
		zap.Int64("amount", chargeAmount))
	return resp, nil
}

// Get returns one payment, restricted to its owner unless admin is set.
func (s *PaymentService) Get(ctx context.Context, memberID, reference string, admin bool) (*models.Payment, error) {
	payment, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !admin && payment.MemberID != memberID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "payment belongs to another member")
	}
	return payment, nil
}

// ListMine returns the caller's payment history.
func (s *PaymentService) ListMine(ctx context.Context, memberID string, req dto.PaymentListRequest) ([]models.Payment, *models.Pagination, error) {
	filter := models.PaymentFilter{
		Status:   req.Status,
		Purpose:  req.Purpose,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	payments, total, err := s.payments.ListByMember(ctx, memberID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Receipt renders a PDF receipt for a settled payment.
func (s *PaymentService) Receipt(ctx context.Context, memberID, reference string, admin bool) ([]byte, error) {
	payment, err := s.Get(ctx, memberID, reference, admin)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPaid || payment.PaidAt == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "receipt is only available for settled payments")
	}

	archiveName := filepath.Join("receipts", payment.Reference+".pdf")
	if s.archive != nil {
		if file, err := s.archive.Open(archiveName); err == nil {
			data, readErr := io.ReadAll(file)
			file.Close() //nolint:errcheck
			if readErr == nil {
				return data, nil
			}
		}
	}

	receipt := export.Receipt{
		Reference:  payment.Reference,
		Purpose:    strings.ReplaceAll(string(payment.Purpose), "_", " "),
		Amount:     payment.Amount - payment.DiscountAmount,
		Currency:   payment.Currency,
		PaidAt:     *payment.PaidAt,
		PayerEmail: payment.PayerEmail,
		Discount:   payment.DiscountAmount,
	}
	if payment.DiscountCode != nil {
		receipt.DiscountCode = *payment.DiscountCode
	}
	data, err := s.receipts.Render(receipt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	if s.archive != nil {
		if _, err := s.archive.Save(archiveName, data); err != nil {
			s.logger.Warn("failed to archive receipt", zap.String("reference", payment.Reference), zap.Error(err))
		}
	}
	return data, nil
}

func knownPurpose(purpose models.PaymentPurpose) bool {
	for _, p := range models.KnownPurposes {
		if p == purpose {
			return true
		}
	}
	return false
}

// componentLines extracts per-component pricing from intent metadata so a
// bundle discount can target a single component.
func componentLines(metadata map[string]any) []dto.ComponentLine {
	raw, ok := metadata["components"]
	if !ok {
		return nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	lines := make([]dto.ComponentLine, 0, len(entries))
	for purpose, amount := range entries {
		value, ok := amount.(float64)
		if !ok {
			continue
		}
		lines = append(lines, dto.ComponentLine{
			Purpose: models.PaymentPurpose(strings.ToUpper(purpose)),
			Amount:  int64(value),
		})
	}
	return lines
}
