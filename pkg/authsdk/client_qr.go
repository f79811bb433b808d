package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// PollOptions controls PollQRSession.
type PollOptions struct {
	// Interval between polls. Defaults to 5s.
	Interval time.Duration

	// MaxAttempts bounds the number of polls. Defaults to 60, which with the
	// default interval covers a five minute session.
	MaxAttempts int
}

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 60
)

// CreateQRSession starts a cross-device login on this device. Show
// QRImage (or LoginURL) to a signed-in device and poll the session.
func (c *Client) CreateQRSession(ctx context.Context, deviceInfo string) (*QRSessionResponse, error) {
	var out QRSessionResponse
	req := QRSessionRequest{DeviceInfo: deviceInfo}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/qr/session", "", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QRStatus polls a session once. Tokens are included only the first time
// the session is seen authenticated.
func (c *Client) QRStatus(ctx context.Context, sessionID string) (*QRStatusResponse, error) {
	var out QRStatusResponse
	path := "/v1/auth/qr/status/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, "", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelQRSession aborts a pending session. token is the one returned by
// CreateQRSession.
func (c *Client) CancelQRSession(ctx context.Context, sessionID, token string) (*QRActionResponse, error) {
	var out QRActionResponse
	req := QRCancelRequest{SessionID: sessionID, Token: token}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/qr/cancel", "", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollQRSession polls until the session leaves PENDING, ctx is done or
// MaxAttempts polls have been made. The last response is returned with
// ErrPollExhausted in the latter case.
func (c *Client) PollQRSession(ctx context.Context, sessionID string, opts PollOptions) (*QRStatusResponse, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultPollMaxAttempts
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last *QRStatusResponse
	for attempt := 1; ; attempt++ {
		st, err := c.QRStatus(ctx, sessionID)
		if err != nil {
			return last, fmt.Errorf("poll qr session: %w", err)
		}
		last = st
		if st.Status.Terminal() {
			return st, nil
		}
		if attempt >= opts.MaxAttempts {
			return last, ErrPollExhausted
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
