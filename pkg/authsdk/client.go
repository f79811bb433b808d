package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// Headers understood by the auth endpoints.
const (
	HeaderDeviceToken      = "X-Device-Token"
	HeaderTwoFactorSession = "X-2FA-Session"
)

// Client talks to the shutter auth service. It covers the public endpoints
// and hands out Sessions for everything that needs a signed-in user.
// A Client holds no credentials and is safe for concurrent use.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Now is used for token expiry bookkeeping. Defaults to time.Now.
	Now func() time.Time
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
