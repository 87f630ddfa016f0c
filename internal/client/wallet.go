package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WalletClient credits and debits member wallets on the wallet service.
// Every mutation carries an idempotency key so a retried fulfillment cannot
// move money twice.
type WalletClient struct {
	serviceClient
}

// NewWalletClient constructs a wallet service client.
func NewWalletClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *WalletClient {
	return &WalletClient{serviceClient: newServiceClient(baseURL, token, timeout, logger)}
}

// BalanceResult is the wallet service's balance view.
type BalanceResult struct {
	MemberID string `json:"member_id"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// Balance returns the current wallet balance for a member.
func (c *WalletClient) Balance(ctx context.Context, memberID string) (*BalanceResult, error) {
	var result BalanceResult
	payload := map[string]string{"member_id": memberID}
	if err := c.postJSON(ctx, "/internal/wallet/balance", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Credit tops up a wallet from a settled payment.
func (c *WalletClient) Credit(ctx context.Context, memberID string, amount int64, currency, idempotencyKey string) error {
	payload := map[string]interface{}{
		"member_id":       memberID,
		"amount":          amount,
		"currency":        currency,
		"idempotency_key": idempotencyKey,
	}
	return c.postJSON(ctx, "/internal/wallet/credit", payload, nil)
}

// Debit withdraws from a wallet, used by the auto-deduction sweep to settle
// due installments.
func (c *WalletClient) Debit(ctx context.Context, memberID string, amount int64, currency, idempotencyKey string) error {
	payload := map[string]interface{}{
		"member_id":       memberID,
		"amount":          amount,
		"currency":        currency,
		"idempotency_key": idempotencyKey,
	}
	return c.postJSON(ctx, "/internal/wallet/debit", payload, nil)
}
