package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencove/billing-api/pkg/config"
	appErrors "github.com/opencove/billing-api/pkg/errors"
)

// GatewayClient talks to the card payment gateway. It initializes checkout
// sessions, verifies transactions and validates webhook signatures.
type GatewayClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGatewayClient constructs a gateway client from configuration.
func NewGatewayClient(cfg config.GatewayConfig, logger *zap.Logger) *GatewayClient {
	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GatewayClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// InitializeResult is the checkout handle returned by the gateway.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// VerifyResult is the gateway's authoritative view of one transaction.
type VerifyResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
}

type gatewayEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize opens a checkout session for a pending payment.
func (c *GatewayClient) Initialize(ctx context.Context, reference, email string, amount int64, currency string) (*InitializeResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"reference": reference,
		"email":     email,
		"amount":    amount,
		"currency":  currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal initialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build initialize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	var result InitializeResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Verify asks the gateway for the authoritative status of a transaction.
func (c *GatewayClient) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	endpoint := c.baseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	var result VerifyResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidSignature checks the webhook body against its HMAC-SHA512 header.
func (c *GatewayClient) ValidSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *GatewayClient) do(req *http.Request, dest interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gatewayErr(err)
	}
	defer resp.Body.Close()

	var envelope gatewayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return gatewayErr(fmt.Errorf("decode gateway response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest || !envelope.Status {
		c.logger.Warn("gateway request rejected",
			zap.String("url", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", envelope.Message))
		return gatewayErr(fmt.Errorf("gateway responded %d: %s", resp.StatusCode, envelope.Message))
	}
	if dest != nil {
		if err := json.Unmarshal(envelope.Data, dest); err != nil {
			return gatewayErr(fmt.Errorf("decode gateway data: %w", err))
		}
	}
	return nil
}

func gatewayErr(err error) error {
	return appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, appErrors.ErrGateway.Message)
}
