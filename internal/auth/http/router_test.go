package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const password = "Str0ngPass!"

type linkNotifier struct {
	links chan string
}

func (n *linkNotifier) MagicLink(_ context.Context, _, link string, _ time.Time) error {
	n.links <- link
	return nil
}

func (n *linkNotifier) LowBackupCodes(context.Context, string, int) error { return nil }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	*httptest.Server
	router *Router
	client *authsdk.Client
	links  chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Issuer:   "https://auth.shutter.test",
		Audience: []string{"shutter"},
	})
	require.NoError(t, err)

	hasher := &cryptox.PasswordHasher{
		Params: cryptox.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16},
	}
	notifier := &linkNotifier{links: make(chan string, 4)}

	auth := &service.AuthService{
		Store: st,
		Users: &service.UserService{Store: st, Hasher: hasher},
		Tokens: &service.TokenService{
			KeyManager:    km,
			Store:         st,
			Issuer:        "https://auth.shutter.test",
			Audience:      []string{"shutter"},
			RotateRefresh: true,
		},
		TwoFactor: &service.TwoFactorService{Store: st, Issuer: "Shutter", Skew: 1},
		QR:        &service.QRService{Repo: st.QRSessions(), PublicURL: "https://shutter.test"},
		Links:     &service.MagicLinkService{Store: st, PublicURL: "https://shutter.test", RedirectHosts: []string{"shutter.test"}},
		Devices:   &service.DeviceTrustService{Store: st},
		Lockout:   service.DefaultLockoutPolicy(),
		Notifier:  notifier,
	}

	router := NewRouter(km.KeySet, km.Verifier, "test", st, auth, slog.New(slog.DiscardHandler))
	unlimited := httpx.RateLimitConfig{RequestsPerWindow: 10000, Window: time.Second, Burst: 10000}
	router.Limits = RouteLimits{Strict: unlimited, Poll: unlimited, Moderate: unlimited}
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, router: router, client: authsdk.NewClient(srv.URL), links: notifier.links}
}

func (s *testServer) register(t *testing.T, email string) *authsdk.Session {
	t.Helper()
	sess, _, err := s.client.Register(context.Background(), authsdk.RegisterRequest{Email: email, Password: password})
	require.NoError(t, err)
	return sess
}

// post sends a raw JSON body and decodes the error envelope.
func (s *testServer) post(t *testing.T, path, body string) (int, authsdk.ErrorResponse) {
	t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out authsdk.ErrorResponse
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestRouter_RegisterLoginAndProfile(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	sess, res, err := s.client.Register(ctx, authsdk.RegisterRequest{Email: "Alice@Example.com", Password: password, DisplayName: "Alice"})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", res.User.Email)
	require.Equal(t, "Bearer", res.TokenType)
	require.NotEmpty(t, res.RefreshToken)

	_, _, err = s.client.Register(ctx, authsdk.RegisterRequest{Email: "alice@example.com", Password: password})
	require.ErrorIs(t, err, authsdk.ErrConflict)

	_, login, err := s.client.Login(ctx, authsdk.LoginRequest{Email: "ALICE@example.com", Password: password})
	require.NoError(t, err)
	require.False(t, login.Requires2FA)
	require.NotEmpty(t, login.AccessToken)

	me, err := sess.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "Alice", me.DisplayName)

	me, err = sess.UpdateProfile(ctx, "Alice B")
	require.NoError(t, err)
	require.Equal(t, "Alice B", me.DisplayName)
}

func TestRouter_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	code, body := s.post(t, "/v1/auth/register", `{"password":"Str0ngPass!"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, authsdk.ErrorCodeValidation, body.Error)
	require.Equal(t, "is required", body.Details["email"])

	code, body = s.post(t, "/v1/auth/login", `{"email":"a@b.c","password":"x","extra":1}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body.Details["body"], "extra")

	code, body = s.post(t, "/v1/auth/register", `{"email":"a@example.com","password":"short"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body.Details["password"], "at least 8")

	code, body = s.post(t, "/v1/auth/2fa/verify", `{"code":"123456","method":"sms"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "must be one of: totp backup", body.Details["method"])
}

func TestRouter_LoginFailuresAndLockout(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.register(t, "bob@example.com")

	_, _, err := s.client.Login(ctx, authsdk.LoginRequest{Email: "nobody@example.com", Password: password})
	require.ErrorIs(t, err, authsdk.ErrInvalidCredentials)

	for range 4 {
		_, _, err = s.client.Login(ctx, authsdk.LoginRequest{Email: "bob@example.com", Password: "wrong-password"})
		require.ErrorIs(t, err, authsdk.ErrInvalidCredentials)
	}
	_, _, err = s.client.Login(ctx, authsdk.LoginRequest{Email: "bob@example.com", Password: "wrong-password"})
	require.ErrorIs(t, err, authsdk.ErrAccountLocked)

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusLocked, apiErr.StatusCode)
	require.Greater(t, apiErr.RetryAfter, 29*time.Minute)

	_, _, err = s.client.Login(ctx, authsdk.LoginRequest{Email: "bob@example.com", Password: password})
	require.ErrorIs(t, err, authsdk.ErrAccountLocked)
}

func TestRouter_TwoFactorAndTrustedDevices(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	sess := s.register(t, "carol@example.com")

	enr, err := sess.EnrollTwoFactor(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(enr.QRImage, "data:image/png;base64,"))

	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	backup, err := sess.EnableTwoFactor(ctx, code)
	require.NoError(t, err)
	require.Len(t, backup, 10)

	_, err = sess.EnrollTwoFactor(ctx)
	require.ErrorIs(t, err, authsdk.ErrConflict)

	loginSess, login, err := s.client.Login(ctx, authsdk.LoginRequest{Email: "carol@example.com", Password: password})
	require.NoError(t, err)
	require.Nil(t, loginSess)
	require.True(t, login.Requires2FA)
	require.Empty(t, login.AccessToken)

	_, _, err = s.client.VerifyTwoFactor(ctx, authsdk.TwoFactorVerifyRequest{
		SessionToken: login.SessionToken, Code: "AAAAA-AAAAA", Method: "backup",
	})
	require.ErrorIs(t, err, authsdk.ErrInvalid2FACode)

	trusted, verified, err := s.client.VerifyTwoFactor(ctx, authsdk.TwoFactorVerifyRequest{
		SessionToken:   login.SessionToken,
		Code:           backup[0],
		Method:         "backup",
		RememberDevice: true,
		DeviceName:     "Carol's laptop",
	})
	require.NoError(t, err)
	require.NotEmpty(t, verified.DeviceToken)

	// The session is spent.
	_, _, err = s.client.VerifyTwoFactor(ctx, authsdk.TwoFactorVerifyRequest{
		SessionToken: login.SessionToken, Code: backup[1], Method: "backup",
	})
	require.ErrorIs(t, err, authsdk.ErrSessionExpired)

	_, login, err = s.client.Login(ctx, authsdk.LoginRequest{
		Email: "carol@example.com", Password: password, DeviceToken: verified.DeviceToken,
	})
	require.NoError(t, err)
	require.False(t, login.Requires2FA)
	require.NotEmpty(t, login.AccessToken)

	devices, err := trusted.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "Carol's laptop", devices[0].Name)

	require.NoError(t, trusted.RevokeDevice(ctx, devices[0].ID))
	require.ErrorIs(t, trusted.RevokeDevice(ctx, devices[0].ID), authsdk.ErrNotFound)

	_, login, err = s.client.Login(ctx, authsdk.LoginRequest{
		Email: "carol@example.com", Password: password, DeviceToken: verified.DeviceToken,
	})
	require.NoError(t, err)
	require.True(t, login.Requires2FA)
}

func TestRouter_TwoFactorSessionHeader(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	sess := s.register(t, "dave@example.com")

	enr, err := sess.EnrollTwoFactor(ctx)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enr.Secret, time.Now())
	require.NoError(t, err)
	backup, err := sess.EnableTwoFactor(ctx, code)
	require.NoError(t, err)

	_, login, err := s.client.Login(ctx, authsdk.LoginRequest{Email: "dave@example.com", Password: password})
	require.NoError(t, err)

	body, _ := json.Marshal(authsdk.TwoFactorVerifyRequest{Code: backup[0], Method: "backup"})
	req, err := http.NewRequest(http.MethodPost, s.URL+"/v1/auth/2fa/verify", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authsdk.HeaderTwoFactorSession, login.SessionToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out authsdk.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.AccessToken)
	require.Empty(t, out.DeviceToken)

	code2, errBody := s.post(t, "/v1/auth/2fa/verify", `{"code":"123456"}`)
	require.Equal(t, http.StatusBadRequest, code2)
	require.Equal(t, "is required", errBody.Details["sessionToken"])
}

func TestRouter_QRLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	phone := s.register(t, "erin@example.com")

	qr, err := s.client.CreateQRSession(ctx, "Firefox on Linux")
	require.NoError(t, err)
	require.Len(t, qr.SessionID, 36)
	require.True(t, strings.HasPrefix(qr.QRImage, "data:image/png;base64,"))

	st, err := s.client.QRStatus(ctx, qr.SessionID)
	require.NoError(t, err)
	require.Equal(t, authsdk.QRStatusPending, st.Status)
	require.Empty(t, st.AccessToken)

	approved, err := phone.ApproveQRSession(ctx, qr.Token)
	require.NoError(t, err)
	require.Equal(t, authsdk.QRStatusAuthenticated, approved.Status)

	_, err = phone.ApproveQRSession(ctx, qr.Token)
	require.ErrorIs(t, err, authsdk.ErrConflict)

	st, err = s.client.QRStatus(ctx, qr.SessionID)
	require.NoError(t, err)
	require.Equal(t, authsdk.QRStatusAuthenticated, st.Status)
	require.NotEmpty(t, st.AccessToken)
	require.Equal(t, "erin@example.com", st.User.Email)

	st, err = s.client.QRStatus(ctx, qr.SessionID)
	require.NoError(t, err)
	require.Equal(t, authsdk.QRStatusAuthenticated, st.Status)
	require.Empty(t, st.AccessToken)

	st, err = s.client.QRStatus(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	require.Equal(t, authsdk.QRStatusNotFound, st.Status)
}

func TestRouter_QRCancelAndForeignApprove(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	phone := s.register(t, "frank@example.com")

	qr, err := s.client.CreateQRSession(ctx, "")
	require.NoError(t, err)

	// userId must name the bearer.
	body, _ := json.Marshal(authsdk.QRApproveRequest{Token: qr.Token, UserID: "someone-else"})
	req, err := http.NewRequest(http.MethodPost, s.URL+"/v1/auth/qr/authenticate", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+phone.AccessToken())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, err = s.client.CancelQRSession(ctx, qr.SessionID, "wrong-token")
	require.ErrorIs(t, err, authsdk.ErrSessionExpired)

	res, err := s.client.CancelQRSession(ctx, qr.SessionID, qr.Token)
	require.NoError(t, err)
	require.Equal(t, authsdk.QRStatusCancelled, res.Status)

	_, err = phone.ApproveQRSession(ctx, qr.Token)
	require.ErrorIs(t, err, authsdk.ErrConflict)

	st, err := s.client.QRStatus(ctx, qr.SessionID)
	require.NoError(t, err)
	require.Equal(t, authsdk.QRStatusCancelled, st.Status)
}

func TestRouter_MagicLink(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.register(t, "grace@example.com")

	unknown, err := s.client.RequestMagicLink(ctx, authsdk.MagicLinkRequest{Email: "nobody@example.com"})
	require.NoError(t, err)

	res, err := s.client.RequestMagicLink(ctx, authsdk.MagicLinkRequest{
		Email:       "Grace@Example.com",
		RedirectURL: "https://shutter.test/albums",
	})
	require.NoError(t, err)
	require.Equal(t, unknown.Message, res.Message)

	var link string
	select {
	case link = <-s.links:
	case <-time.After(2 * time.Second):
		t.Fatal("no magic link sent")
	}
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)

	_, out, err := s.client.VerifyMagicLink(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "https://shutter.test/albums", out.RedirectURL)
	require.Equal(t, "grace@example.com", out.User.Email)

	_, _, err = s.client.VerifyMagicLink(ctx, token)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	_, err = s.client.RequestMagicLink(ctx, authsdk.MagicLinkRequest{
		Email:       "grace@example.com",
		RedirectURL: "https://evil.example/",
	})
	require.ErrorIs(t, err, authsdk.ErrValidation)
}

func TestRouter_RefreshAndLogout(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	sess := s.register(t, "heidi@example.com")
	original := sess.RefreshToken()

	require.NoError(t, sess.Refresh(ctx))
	require.NotEqual(t, original, sess.RefreshToken())

	_, err := s.client.Refresh(ctx, original)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	_, err = s.client.Refresh(ctx, sess.AccessToken())
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	current := sess.RefreshToken()
	require.NoError(t, sess.Logout(ctx))

	_, err = s.client.Refresh(ctx, current)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
}

func TestRouter_ChangePasswordRevokesSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	sess := s.register(t, "ivan@example.com")
	refresh := sess.RefreshToken()

	require.ErrorIs(t, sess.ChangePassword(ctx, "not-my-password", "An0therPass!"), authsdk.ErrInvalidCredentials)
	require.NoError(t, sess.ChangePassword(ctx, password, "An0therPass!"))

	_, err := s.client.Refresh(ctx, refresh)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	_, _, err = s.client.Login(ctx, authsdk.LoginRequest{Email: "ivan@example.com", Password: "An0therPass!"})
	require.NoError(t, err)
}

func TestRouter_RequiresAccessToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/v1/users/me")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A refresh token is not an access token.
	sess := s.register(t, "judy@example.com")
	req, err := http.NewRequest(http.MethodGet, s.URL+"/v1/users/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sess.RefreshToken())
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_Health(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	live, err := s.client.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	ready, err := s.client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.QRStore)

	jwks, err := s.client.GetJWKS(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, jwks.Keys)
}

func TestReadyz_QRStoreDown(t *testing.T) {
	s := newTestServer(t)
	h := ReadyzHandler(time.Now(), "test", s.router.store, failingPinger{}, s.router.keys)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out authsdk.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "degraded", out.Status)
	require.Equal(t, "ok", out.Checks.Database)
	require.Equal(t, "error: connection refused", out.Checks.QRStore)
}

func TestRouter_RateLimited(t *testing.T) {
	s := newTestServer(t)
	s.router.Limits.Strict = httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Hour, Burst: 1}
	s.router.Mux = http.NewServeMux()
	s.router.ApplyRoutes()

	code, _ := s.post(t, "/v1/auth/magic-link", `{"email":"a@example.com"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := s.post(t, "/v1/auth/magic-link", `{"email":"a@example.com"}`)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, authsdk.ErrorCodeRateLimited, body.Error)
}

func TestAPIError_Mapping(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"locked", &service.LockedError{Until: now.Add(30 * time.Minute)}, http.StatusLocked, authsdk.ErrorCodeAccountLocked},
		{"validation", service.ErrValidation, http.StatusBadRequest, authsdk.ErrorCodeValidation},
		{"credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials},
		{"2fa code", service.ErrInvalidTwoFactorCode, http.StatusUnauthorized, authsdk.ErrorCodeInvalid2FACode},
		{"session expired", service.ErrSessionExpired, http.StatusUnauthorized, authsdk.ErrorCodeSessionExpired},
		{"session not found", service.ErrSessionNotFound, http.StatusUnauthorized, authsdk.ErrorCodeSessionExpired},
		{"token expired", service.ErrTokenExpired, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken},
		{"link used", service.ErrLinkUsed, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken},
		{"not pending", service.ErrQRSessionNotPending, http.StatusConflict, authsdk.ErrorCodeConflict},
		{"2fa enabled", service.ErrTwoFactorAlreadyEnabled, http.StatusConflict, authsdk.ErrorCodeConflict},
		{"not found", service.ErrNotFound, http.StatusNotFound, authsdk.ErrorCodeNotFound},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, authsdk.ErrorCodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := apiError(tt.err, now)
			require.Equal(t, tt.status, got.StatusCode)
			require.Equal(t, tt.code, got.Code)
		})
	}

	locked := apiError(&service.LockedError{Until: now.Add(30 * time.Minute)}, now)
	require.Equal(t, 30*time.Minute, locked.RetryAfter)
}
