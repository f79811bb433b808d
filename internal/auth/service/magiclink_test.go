package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

// requestLink asks for a link for email and returns the token the
// notifier received.
func (e *testEnv) requestLink(t *testing.T, email, redirect string) string {
	t.Helper()
	_, err := e.auth.RequestMagicLink(context.Background(), email, redirect, RequestMeta{})
	require.NoError(t, err)

	m := e.notifier.next(t)
	require.Equal(t, "magic_link", m.Kind)

	u, err := url.Parse(m.Link)
	require.NoError(t, err)
	require.Equal(t, "/auth/magic", u.Path)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestMagicLinkUnknownEmailLooksTheSame(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice@example.com", password)

	expKnown, err := env.auth.RequestMagicLink(ctx, "alice@example.com", "", RequestMeta{})
	require.NoError(t, err)
	env.notifier.next(t)

	expUnknown, err := env.auth.RequestMagicLink(ctx, "ghost@example.com", "", RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, expKnown, expUnknown)
	env.notifier.none(t)
}

func TestMagicLinkSingleUse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)
	env.enableTwoFactor(t, u.ID)

	token := env.requestLink(t, "Alice@Example.com", "https://shutter.test/home")

	res, err := env.auth.VerifyMagicLink(ctx, token, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, u.ID, res.User.ID)
	require.Equal(t, "https://shutter.test/home", res.RedirectURL)

	// The link is a full login even with 2FA on.
	claims, err := env.auth.Tokens.VerifyAccess(res.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{jwtx.AMRMagic}, claims.AMR)

	_, err = env.auth.VerifyMagicLink(ctx, token, RequestMeta{})
	require.ErrorIs(t, err, ErrLinkUsed)
}

func TestMagicLinkConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice@example.com", password)
	token := env.requestLink(t, "alice@example.com", "")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.auth.VerifyMagicLink(ctx, token, RequestMeta{}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, ok)
}

func TestMagicLinkExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice@example.com", password)

	early := env.requestLink(t, "alice@example.com", "")
	env.clock.Advance(14*time.Minute + 59*time.Second)
	_, err := env.auth.VerifyMagicLink(ctx, early, RequestMeta{})
	require.NoError(t, err)

	late := env.requestLink(t, "alice@example.com", "")
	env.clock.Advance(15 * time.Minute)
	_, err = env.auth.VerifyMagicLink(ctx, late, RequestMeta{})
	require.ErrorIs(t, err, ErrLinkExpired)
}

func TestMagicLinkValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice@example.com", password)

	tests := []struct {
		name, email, redirect string
	}{
		{"bad email", "alice", ""},
		{"foreign host", "alice@example.com", "https://evil.example/steal"},
		{"relative redirect", "alice@example.com", "/home"},
		{"javascript scheme", "alice@example.com", "javascript:alert(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.RequestMagicLink(ctx, tt.email, tt.redirect, RequestMeta{})
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	env.notifier.none(t)

	_, err := env.auth.VerifyMagicLink(ctx, "never-issued", RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.auth.VerifyMagicLink(ctx, "", RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDrainWaitsForNotifications(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice@example.com", password)

	// Unbuffered: delivery blocks until the test reads it.
	env.notifier.sent = make(chan sentMessage)

	_, err := env.auth.RequestMagicLink(ctx, "alice@example.com", "", RequestMeta{})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, env.auth.Drain(short), context.DeadlineExceeded)

	require.Equal(t, "magic_link", env.notifier.next(t).Kind)
	require.NoError(t, env.auth.Drain(ctx))
}
