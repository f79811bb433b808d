package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// refreshSkew refreshes access tokens a little before they actually expire.
const refreshSkew = 30 * time.Second

// ErrNoRefreshToken is returned when the access token has expired and the
// session has nothing to renew it with.
var ErrNoRefreshToken = errors.New("authsdk: access token expired and no refresh token available")

// Session is a signed-in user. It refreshes its access token when needed and
// keeps the newest refresh token when the server rotates them. Safe for
// concurrent use.
type Session struct {
	client *Client

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	user         *User
}

// NewSession builds a session from tokens obtained elsewhere, for example
// a QR poll or tokens kept from an earlier run.
func (c *Client) NewSession(resp AuthResponse) *Session {
	expiresAt := resp.AccessExpiresAt
	if expiresAt.IsZero() {
		// Unknown lifetime: use it until the server rejects it.
		expiresAt = c.now().Add(24 * time.Hour)
	}
	return &Session{
		client:       c,
		accessToken:  resp.AccessToken,
		refreshToken: resp.RefreshToken,
		expiresAt:    expiresAt.Add(-refreshSkew),
		user:         resp.User,
	}
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// User returns the user the session was created for, if the server sent it.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Refresh renews the access token now, whatever its expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return ErrNoRefreshToken
	}

	resp, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	s.accessToken = resp.AccessToken
	s.expiresAt = resp.AccessExpiresAt.Add(-refreshSkew)
	if resp.RefreshToken != "" {
		s.refreshToken = resp.RefreshToken
	}
	return nil
}

// getValidToken returns a valid access token, automatically refreshing if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.client.now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited. Refreshing
	// twice would spend a rotated token.
	if s.client.now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// do performs an authenticated JSON call.
func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return err
	}
	return s.client.doJSON(ctx, method, path, token, nil, body, out)
}

// Logout revokes the session's refresh token on the server and forgets the
// local tokens. Logging out twice is not an error.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.RLock()
	refreshToken := s.refreshToken
	s.mu.RUnlock()

	if refreshToken != "" {
		err := s.do(ctx, http.MethodPost, "/v1/auth/logout", LogoutRequest{RefreshToken: refreshToken}, nil)
		if err != nil && !errors.Is(err, ErrNoRefreshToken) {
			return err
		}
	}

	s.mu.Lock()
	s.accessToken, s.refreshToken, s.expiresAt = "", "", time.Time{}
	s.mu.Unlock()
	return nil
}
