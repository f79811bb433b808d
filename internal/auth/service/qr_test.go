package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestQRCreate(t *testing.T) {
	env := newTestEnv(t)

	ticket, err := env.auth.CreateQRSession(context.Background(), "  Firefox on Linux ", RequestMeta{})
	require.NoError(t, err)
	require.Len(t, ticket.SessionID, 36)
	require.NotEmpty(t, ticket.Token)
	require.Equal(t, env.clock.Now().Add(DefaultQRSessionTTL), ticket.ExpiresAt)
	require.True(t, strings.HasPrefix(ticket.QRImage, "data:image/png;base64,"))

	u, err := url.Parse(ticket.LoginURL)
	require.NoError(t, err)
	require.Equal(t, "/qr", u.Path)
	require.Equal(t, ticket.Token, u.Query().Get("token"))

	q, err := env.auth.QR.Status(context.Background(), ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.QRPending, q.Status)
	require.Equal(t, "Firefox on Linux", q.DeviceInfo)
}

func TestQRApproveThenPollHandsOutTokensOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)

	ticket, err := env.auth.CreateQRSession(ctx, "tv", RequestMeta{})
	require.NoError(t, err)

	poll, err := env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRPending, poll.Status)
	require.Nil(t, poll.Result)

	q, err := env.auth.ApproveQRSession(ctx, u.ID, ticket.Token, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRAuthenticated, q.Status)
	require.Equal(t, u.ID, q.UserID)

	poll, err = env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRAuthenticated, poll.Status)
	require.NotNil(t, poll.Result)
	require.Equal(t, u.ID, poll.Result.User.ID)

	claims, err := env.auth.Tokens.VerifyAccess(poll.Result.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
	require.Equal(t, []string{jwtx.AMRQR}, claims.AMR)

	poll, err = env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRAuthenticated, poll.Status)
	require.Nil(t, poll.Result)

	// A second approval is rejected and the session keeps its user.
	other := env.register(t, "mallory@example.com", password)
	_, err = env.auth.ApproveQRSession(ctx, other.ID, ticket.Token, RequestMeta{})
	require.ErrorIs(t, err, ErrQRSessionNotPending)

	q, err = env.auth.QR.Status(ctx, ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, u.ID, q.UserID)
}

func TestQRConcurrentPollsClaimOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)

	ticket, err := env.auth.CreateQRSession(ctx, "", RequestMeta{})
	require.NoError(t, err)
	_, err = env.auth.ApproveQRSession(ctx, u.ID, ticket.Token, RequestMeta{})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poll, err := env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
			if err != nil {
				t.Errorf("poll: %v", err)
				return
			}
			if poll.Result != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}

// flakyRefreshStore fails refresh token writes while down is set.
type flakyRefreshStore struct {
	store.Store
	down atomic.Bool
}

func (s *flakyRefreshStore) RefreshTokens() store.RefreshTokens {
	return flakyRefreshTokens{RefreshTokens: s.Store.RefreshTokens(), down: &s.down}
}

type flakyRefreshTokens struct {
	store.RefreshTokens
	down *atomic.Bool
}

func (r flakyRefreshTokens) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	if r.down.Load() {
		return errors.New("disk full")
	}
	return r.RefreshTokens.CreateRefreshToken(ctx, t)
}

func TestQRPollFailureKeepsSessionClaimable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)

	flaky := &flakyRefreshStore{Store: env.store}
	env.auth.Tokens.Store = flaky

	ticket, err := env.auth.CreateQRSession(ctx, "", RequestMeta{})
	require.NoError(t, err)
	_, err = env.auth.ApproveQRSession(ctx, u.ID, ticket.Token, RequestMeta{})
	require.NoError(t, err)

	flaky.down.Store(true)
	_, err = env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.Error(t, err)

	q, err := env.auth.QR.Status(ctx, ticket.SessionID)
	require.NoError(t, err)
	require.Nil(t, q.ClaimedAt)

	flaky.down.Store(false)
	poll, err := env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRAuthenticated, poll.Status)
	require.NotNil(t, poll.Result)
	require.Equal(t, u.ID, poll.Result.User.ID)

	_, err = env.auth.Tokens.Refresh(ctx, poll.Result.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestQRExpiresWithoutBeingPolled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)

	ticket, err := env.auth.CreateQRSession(ctx, "", RequestMeta{})
	require.NoError(t, err)

	env.clock.Advance(DefaultQRSessionTTL)

	_, err = env.auth.ApproveQRSession(ctx, u.ID, ticket.Token, RequestMeta{})
	require.ErrorIs(t, err, ErrSessionExpired)

	poll, err := env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRExpired, poll.Status)
	require.Nil(t, poll.Result)

	// Expired is terminal.
	require.ErrorIs(t, env.auth.CancelQRSession(ctx, ticket.SessionID, ticket.Token), ErrSessionExpired)
	poll, err = env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRExpired, poll.Status)
}

// contendedQRSessions loses every expiry write, like a Redis repo that
// ran out of WATCH retries.
type contendedQRSessions struct {
	store.QRSessions
	expiries atomic.Int32
}

func (r *contendedQRSessions) ExpireQRSession(context.Context, string, time.Time) error {
	r.expiries.Add(1)
	return store.ErrConflict
}

func TestQRStatusUnderExpiryContention(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	repo := &contendedQRSessions{QRSessions: env.store.QRSessions()}
	env.auth.QR.Repo = repo

	ticket, err := env.auth.CreateQRSession(ctx, "", RequestMeta{})
	require.NoError(t, err)
	env.clock.Advance(DefaultQRSessionTTL)

	q, err := env.auth.QR.Status(ctx, ticket.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.QRExpired, q.Status)
	require.Equal(t, int32(1), repo.expiries.Load())
}

func TestQRApproveJustBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)

	ticket, err := env.auth.CreateQRSession(ctx, "", RequestMeta{})
	require.NoError(t, err)

	env.clock.Advance(DefaultQRSessionTTL - time.Second)
	_, err = env.auth.ApproveQRSession(ctx, u.ID, ticket.Token, RequestMeta{})
	require.NoError(t, err)

	// Authenticated sessions do not turn into expired ones.
	env.clock.Advance(time.Minute)
	poll, err := env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRAuthenticated, poll.Status)
	require.NotNil(t, poll.Result)
}

func TestQRCancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)

	ticket, err := env.auth.CreateQRSession(ctx, "", RequestMeta{})
	require.NoError(t, err)

	require.ErrorIs(t, env.auth.CancelQRSession(ctx, ticket.SessionID, "not-the-token"), ErrSessionNotFound)
	require.NoError(t, env.auth.CancelQRSession(ctx, ticket.SessionID, ticket.Token))

	poll, err := env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRCancelled, poll.Status)

	_, err = env.auth.ApproveQRSession(ctx, u.ID, ticket.Token, RequestMeta{})
	require.ErrorIs(t, err, ErrQRSessionNotPending)

	// Cancelled stays cancelled past the expiry time.
	env.clock.Advance(time.Hour)
	poll, err = env.auth.PollQRSession(ctx, ticket.SessionID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRCancelled, poll.Status)
}

func TestQRUnknownSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice@example.com", password)

	poll, err := env.auth.PollQRSession(ctx, "6f1c7b55-1f0c-4a4e-9b0a-7e3f2b8c9d10", RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, domain.QRNotFound, poll.Status)

	_, err = env.auth.ApproveQRSession(ctx, u.ID, "bogus", RequestMeta{})
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.ErrorIs(t, env.auth.CancelQRSession(ctx, "missing", "bogus"), ErrSessionNotFound)
}
