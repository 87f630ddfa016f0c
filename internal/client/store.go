package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StoreClient confirms paid orders on the store service.
type StoreClient struct {
	serviceClient
}

// NewStoreClient constructs a store service client.
func NewStoreClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *StoreClient {
	return &StoreClient{serviceClient: newServiceClient(baseURL, token, timeout, logger)}
}

// ConfirmOrder marks a store order as paid so fulfillment can ship it.
func (c *StoreClient) ConfirmOrder(ctx context.Context, orderID, paymentReference string) error {
	payload := map[string]string{
		"order_id":          orderID,
		"payment_reference": paymentReference,
	}
	return c.postJSON(ctx, "/internal/orders/confirm", payload, nil)
}
