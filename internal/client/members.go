package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MembersClient grants entitlements on the members service once a payment
// settles.
type MembersClient struct {
	serviceClient
}

// NewMembersClient constructs a members service client.
func NewMembersClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *MembersClient {
	return &MembersClient{serviceClient: newServiceClient(baseURL, token, timeout, logger)}
}

// ActivateMembership starts or extends a membership plan for a member.
func (c *MembersClient) ActivateMembership(ctx context.Context, memberID, planID, paymentReference string) error {
	payload := map[string]string{
		"member_id":         memberID,
		"plan_id":           planID,
		"payment_reference": paymentReference,
	}
	return c.postJSON(ctx, "/internal/memberships/activate", payload, nil)
}

// GrantAddon attaches a paid add-on to a member's account.
func (c *MembersClient) GrantAddon(ctx context.Context, memberID, addonID, paymentReference string) error {
	payload := map[string]string{
		"member_id":         memberID,
		"addon_id":          addonID,
		"payment_reference": paymentReference,
	}
	return c.postJSON(ctx, "/internal/addons/grant", payload, nil)
}
