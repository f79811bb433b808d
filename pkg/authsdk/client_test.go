package authsdk_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPollQRSessionStopsOnTerminalStatus(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/qr/status/abc", r.URL.Path)
		if polls.Add(1) < 3 {
			writeJSON(w, http.StatusOK, authsdk.QRStatusResponse{Status: authsdk.QRStatusPending})
			return
		}
		writeJSON(w, http.StatusOK, authsdk.QRStatusResponse{
			Status: authsdk.QRStatusAuthenticated,
			AuthResponse: authsdk.AuthResponse{
				AccessToken:  "access",
				RefreshToken: "refresh",
				User:         &authsdk.User{ID: "u1"},
			},
		})
	}))
	defer srv.Close()

	c := authsdk.NewClient(srv.URL)
	st, err := c.PollQRSession(context.Background(), "abc", authsdk.PollOptions{Interval: time.Millisecond})
	require.NoError(t, err)
	require.EqualValues(t, 3, polls.Load())
	require.Equal(t, authsdk.QRStatusAuthenticated, st.Status)
	require.Equal(t, "access", st.AccessToken)

	sess := c.NewSession(st.AuthResponse)
	require.Equal(t, "refresh", sess.RefreshToken())
	require.Equal(t, "u1", sess.User().ID)
}

func TestPollQRSessionMaxAttempts(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		writeJSON(w, http.StatusOK, authsdk.QRStatusResponse{Status: authsdk.QRStatusPending})
	}))
	defer srv.Close()

	c := authsdk.NewClient(srv.URL)
	st, err := c.PollQRSession(context.Background(), "abc", authsdk.PollOptions{Interval: time.Millisecond, MaxAttempts: 4})
	require.ErrorIs(t, err, authsdk.ErrPollExhausted)
	require.Equal(t, authsdk.QRStatusPending, st.Status)
	require.EqualValues(t, 4, polls.Load())
}

func TestPollQRSessionContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, authsdk.QRStatusResponse{Status: authsdk.QRStatusPending})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := authsdk.NewClient(srv.URL)
	_, err := c.PollQRSession(ctx, "abc", authsdk.PollOptions{Interval: time.Hour})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollQRSessionTerminalStatuses(t *testing.T) {
	for _, status := range []authsdk.QRStatus{
		authsdk.QRStatusExpired,
		authsdk.QRStatusCancelled,
		authsdk.QRStatusNotFound,
	} {
		t.Run(string(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, authsdk.QRStatusResponse{Status: status})
			}))
			defer srv.Close()

			st, err := authsdk.NewClient(srv.URL).PollQRSession(context.Background(), "abc", authsdk.PollOptions{})
			require.NoError(t, err)
			require.Equal(t, status, st.Status)
			require.Empty(t, st.AccessToken)
		})
	}
}

func TestAPIErrorParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authsdk.ErrAccountLocked.WithRetryAfter(90 * time.Second).WriteError(w)
	}))
	defer srv.Close()

	_, _, err := authsdk.NewClient(srv.URL).Login(context.Background(), authsdk.LoginRequest{
		Email: "alice@example.com", Password: "nope",
	})
	require.ErrorIs(t, err, authsdk.ErrAccountLocked)

	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusLocked, apiErr.StatusCode)
	require.Equal(t, 90*time.Second, apiErr.RetryAfter)
}

func TestLoginTwoFactorChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			assert.Equal(t, "dev-1", r.Header.Get(authsdk.HeaderDeviceToken))
			writeJSON(w, http.StatusOK, authsdk.LoginResponse{Requires2FA: true, SessionToken: "sess"})
		case "/v1/auth/2fa/verify":
			assert.Equal(t, "sess", r.Header.Get(authsdk.HeaderTwoFactorSession))
			var req authsdk.TwoFactorVerifyRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "123456", req.Code)
			writeJSON(w, http.StatusOK, authsdk.AuthResponse{AccessToken: "a", RefreshToken: "r"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := authsdk.NewClient(srv.URL)
	sess, resp, err := c.Login(context.Background(), authsdk.LoginRequest{
		Email: "alice@example.com", Password: "Str0ngPass!", DeviceToken: "dev-1",
	})
	require.NoError(t, err)
	require.Nil(t, sess)
	require.True(t, resp.Requires2FA)

	sess, _, err = c.VerifyTwoFactor(context.Background(), authsdk.TwoFactorVerifyRequest{
		SessionToken: resp.SessionToken, Code: "123456",
	})
	require.NoError(t, err)
	require.Equal(t, "a", sess.AccessToken())
}

// fakeAuth issues access tokens that expire after a minute and rotates
// refresh tokens, rejecting any refresh token used twice.
type fakeAuth struct {
	mu         sync.Mutex
	now        time.Time
	generation int
	refreshes  int
	live       map[string]bool
}

func (f *fakeAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/v1/auth/refresh":
		var req authsdk.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !f.live[req.RefreshToken] {
			authsdk.ErrInvalidToken.WriteError(w)
			return
		}
		delete(f.live, req.RefreshToken)
		f.refreshes++
		f.generation++
		next := "refresh-" + string(rune('0'+f.generation))
		f.live[next] = true
		writeJSON(w, http.StatusOK, authsdk.RefreshResponse{
			AccessToken:      "access-" + string(rune('0'+f.generation)),
			AccessExpiresAt:  f.now.Add(time.Minute),
			RefreshToken:     next,
			RefreshExpiresAt: f.now.Add(time.Hour),
			TokenType:        "Bearer",
		})
	case "/v1/users/me":
		writeJSON(w, http.StatusOK, authsdk.User{ID: "u1", Email: "alice@example.com"})
	default:
		http.NotFound(w, r)
	}
}

func TestSessionRefreshesOnceAndFollowsRotation(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeAuth{now: start, live: map[string]bool{"refresh-0": true}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	var (
		clockMu sync.Mutex
		now     = start
	)
	c := authsdk.NewClient(srv.URL)
	c.Now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	sess := c.NewSession(authsdk.AuthResponse{
		AccessToken:     "access-0",
		RefreshToken:    "refresh-0",
		AccessExpiresAt: start.Add(time.Minute),
	})

	_, err := sess.Me(context.Background())
	require.NoError(t, err)
	require.Zero(t, fake.refreshes)

	clockMu.Lock()
	now = now.Add(45 * time.Second)
	clockMu.Unlock()

	// The server issues from the same clock, so a refreshed token is fresh.
	fake.mu.Lock()
	fake.now = start.Add(45 * time.Second)
	fake.mu.Unlock()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sess.Me(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, fake.refreshes)
	require.Equal(t, "access-1", sess.AccessToken())
	require.Equal(t, "refresh-1", sess.RefreshToken())
}

func TestSessionWithoutRefreshToken(t *testing.T) {
	c := authsdk.NewClient("http://127.0.0.1:0")
	c.Now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	sess := c.NewSession(authsdk.AuthResponse{
		AccessToken:     "a",
		AccessExpiresAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	})
	_, err := sess.Me(context.Background())
	require.ErrorIs(t, err, authsdk.ErrNoRefreshToken)
}
