package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencove/billing-api/internal/dto"
	"github.com/opencove/billing-api/internal/middleware"
	"github.com/opencove/billing-api/internal/models"
)

type fakePaymentSrv struct {
	intent     *dto.CreateIntentResponse
	intentErr  error
	lastMember string
	lastReq    dto.CreateIntentRequest
	payment    *models.Payment
	receipt    []byte
	lastAdmin  bool
}

func (f *fakePaymentSrv) CreateIntent(_ context.Context, memberID string, req dto.CreateIntentRequest) (*dto.CreateIntentResponse, error) {
	f.lastMember = memberID
	f.lastReq = req
	return f.intent, f.intentErr
}

func (f *fakePaymentSrv) Get(_ context.Context, memberID, reference string, admin bool) (*models.Payment, error) {
	f.lastAdmin = admin
	return f.payment, nil
}

func (f *fakePaymentSrv) ListMine(context.Context, string, dto.PaymentListRequest) ([]models.Payment, *models.Pagination, error) {
	return nil, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (f *fakePaymentSrv) Receipt(context.Context, string, string, bool) ([]byte, error) {
	return f.receipt, nil
}

type fakeFulfillmentSrv struct {
	events  []dto.WebhookEvent
	payment *models.Payment
}

func (f *fakeFulfillmentSrv) HandleGatewayEvent(_ context.Context, event dto.WebhookEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeFulfillmentSrv) Confirm(context.Context, string) (*models.Payment, error) {
	return f.payment, nil
}

func (f *fakeFulfillmentSrv) Replay(context.Context, string) (*models.Payment, error) {
	return f.payment, nil
}

type fakeSignatureVerifier struct {
	valid bool
	body  []byte
}

func (f *fakeSignatureVerifier) ValidSignature(body []byte, signature string) bool {
	f.body = body
	return f.valid
}

func memberContext(rec *httptest.ResponseRecorder) (*gin.Context, *models.JWTClaims) {
	c, _ := gin.CreateTestContext(rec)
	claims := &models.JWTClaims{UserID: "mem-1", Email: "member@example.com", Role: models.RoleMember}
	c.Set(middleware.ContextUserKey, claims)
	return c, claims
}

func TestPaymentHandlerCreateIntent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &fakePaymentSrv{intent: &dto.CreateIntentResponse{Reference: "PAY-1", Amount: 10000}}
	handler := NewPaymentHandler(service, &fakeFulfillmentSrv{}, nil, "")

	body, _ := json.Marshal(dto.CreateIntentRequest{
		Purpose: models.PurposeMembership,
		Amount:  10000,
	})
	rec := httptest.NewRecorder()
	c, _ := memberContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/payments/intents", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.CreateIntent(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "mem-1", service.lastMember)
	// The payer email defaults to the token's email.
	assert.Equal(t, "member@example.com", service.lastReq.PayerEmail)
}

func TestPaymentHandlerCreateIntentRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPaymentHandler(&fakePaymentSrv{}, &fakeFulfillmentSrv{}, nil, "")

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/payments/intents", bytes.NewReader([]byte(`{}`)))

	handler.CreateIntent(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPaymentHandlerWebhookRejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fulfillment := &fakeFulfillmentSrv{}
	handler := NewPaymentHandler(&fakePaymentSrv{}, fulfillment, &fakeSignatureVerifier{valid: false}, "X-Gateway-Signature")

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader([]byte(`{"event":"charge.success"}`)))
	c.Request.Header.Set("X-Gateway-Signature", "bogus")

	handler.Webhook(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, fulfillment.events)
}

func TestPaymentHandlerWebhookDispatchesEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fulfillment := &fakeFulfillmentSrv{}
	verifier := &fakeSignatureVerifier{valid: true}
	handler := NewPaymentHandler(&fakePaymentSrv{}, fulfillment, verifier, "X-Gateway-Signature")

	payload := []byte(`{"event":"charge.success","data":{"reference":"PAY-1","amount":10000}}`)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(payload))
	c.Request.Header.Set("X-Gateway-Signature", "sig")

	handler.Webhook(c)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fulfillment.events, 1)
	assert.Equal(t, "charge.success", fulfillment.events[0].Event)
	assert.Equal(t, "PAY-1", fulfillment.events[0].Data.Reference)
	// The signature is checked against the raw body.
	assert.Equal(t, payload, verifier.body)
}

func TestPaymentHandlerReceiptServesPDF(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &fakePaymentSrv{receipt: []byte("%PDF-1.4")}
	handler := NewPaymentHandler(service, &fakeFulfillmentSrv{}, nil, "")

	rec := httptest.NewRecorder()
	c, _ := memberContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/payments/PAY-1/receipt", nil)
	c.Params = gin.Params{{Key: "reference", Value: "PAY-1"}}

	handler.Receipt(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestPaymentHandlerGetPassesAdminFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &fakePaymentSrv{payment: &models.Payment{Reference: "PAY-1"}}
	handler := NewPaymentHandler(service, &fakeFulfillmentSrv{}, nil, "")

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "op-1", Role: models.RoleOperator})
	c.Request = httptest.NewRequest(http.MethodGet, "/payments/PAY-1", nil)
	c.Params = gin.Params{{Key: "reference", Value: "PAY-1"}}

	handler.Get(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, service.lastAdmin)
}
