package authsdk

import (
	"context"
	"net/http"
)

// Register creates an account and returns a session for it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Session, *AuthResponse, error) {
	var out AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/register", "", nil, req, &out); err != nil {
		return nil, nil, err
	}
	return c.NewSession(out), &out, nil
}

// Login runs the password flow. When the account has 2FA and the device is
// not trusted the response has Requires2FA set and the session is nil;
// answer with VerifyTwoFactor.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*Session, *LoginResponse, error) {
	var out LoginResponse
	headers := map[string]string{HeaderDeviceToken: req.DeviceToken}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", "", headers, req, &out); err != nil {
		return nil, nil, err
	}
	if out.Requires2FA {
		return nil, &out, nil
	}
	return c.NewSession(out.AuthResponse), &out, nil
}

// VerifyTwoFactor answers the challenge a Login returned.
func (c *Client) VerifyTwoFactor(ctx context.Context, req TwoFactorVerifyRequest) (*Session, *AuthResponse, error) {
	var out AuthResponse
	headers := map[string]string{HeaderTwoFactorSession: req.SessionToken}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/2fa/verify", "", headers, req, &out); err != nil {
		return nil, nil, err
	}
	return c.NewSession(out), &out, nil
}

// RequestMagicLink asks for a sign-in link by email. The answer is the
// same whether or not the address has an account.
func (c *Client) RequestMagicLink(ctx context.Context, req MagicLinkRequest) (*MagicLinkResponse, error) {
	var out MagicLinkResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/magic-link", "", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyMagicLink redeems the token from a magic link.
func (c *Client) VerifyMagicLink(ctx context.Context, token string) (*Session, *AuthResponse, error) {
	var out AuthResponse
	req := MagicLinkVerifyRequest{Token: token}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/magic-link/verify", "", nil, req, &out); err != nil {
		return nil, nil, err
	}
	return c.NewSession(out), &out, nil
}

// Refresh exchanges a refresh token. Most callers let a Session do this.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	req := RefreshRequest{RefreshToken: refreshToken}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/refresh", "", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
