package client

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AttendanceClient talks to the attendance service. It records paid session
// bookings and propagates access suspension so suspended members cannot
// check in to cohort sessions.
type AttendanceClient struct {
	serviceClient
}

// NewAttendanceClient constructs an attendance service client.
func NewAttendanceClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *AttendanceClient {
	return &AttendanceClient{serviceClient: newServiceClient(baseURL, token, timeout, logger)}
}

// RecordSession creates an attendance record for a paid one-off session.
func (c *AttendanceClient) RecordSession(ctx context.Context, memberID, sessionID, paymentReference string) error {
	payload := map[string]interface{}{
		"member_id":         memberID,
		"session_id":        sessionID,
		"payment_reference": paymentReference,
	}
	return c.postJSON(ctx, "/internal/sessions", payload, nil)
}

// SetAccess flips a member's check-in access for one cohort.
func (c *AttendanceClient) SetAccess(ctx context.Context, memberID, cohortID string, suspended bool) error {
	payload := map[string]interface{}{
		"member_id": memberID,
		"cohort_id": cohortID,
		"suspended": suspended,
	}
	return c.postJSON(ctx, "/internal/access", payload, nil)
}
