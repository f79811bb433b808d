package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://auth.shutter.test"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	Kind      string
	To        string
	Link      string
	Remaining int
}

type fakeNotifier struct {
	sent chan sentMessage
}

func (n *fakeNotifier) MagicLink(_ context.Context, to, link string, _ time.Time) error {
	n.sent <- sentMessage{Kind: "magic_link", To: to, Link: link}
	return nil
}

func (n *fakeNotifier) LowBackupCodes(_ context.Context, to string, remaining int) error {
	n.sent <- sentMessage{Kind: "low_backup_codes", To: to, Remaining: remaining}
	return nil
}

func (n *fakeNotifier) next(t *testing.T) sentMessage {
	t.Helper()
	select {
	case m := <-n.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
		return sentMessage{}
	}
}

func (n *fakeNotifier) none(t *testing.T) {
	t.Helper()
	select {
	case m := <-n.sent:
		t.Fatalf("unexpected notification: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

type testEnv struct {
	store    *sqlite.Store
	clock    *fakeClock
	notifier *fakeNotifier
	km       *jwtx.KeyManager
	auth     *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	clk := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Issuer:   testIssuer,
		Audience: []string{"shutter"},
	})
	require.NoError(t, err)
	km.Verifier.(*jwtx.KeySetVerifier).Now = clk.Now

	hasher := &cryptox.PasswordHasher{
		Pepper: "test-pepper",
		Params: cryptox.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16},
	}

	notifier := &fakeNotifier{sent: make(chan sentMessage, 8)}

	auth := &AuthService{
		Store: st,
		Users: &UserService{Store: st, Hasher: hasher, Now: clk.Now},
		Tokens: &TokenService{
			KeyManager:    km,
			Store:         st,
			Issuer:        testIssuer,
			Audience:      []string{"shutter"},
			RotateRefresh: true,
			Now:           clk.Now,
		},
		TwoFactor: &TwoFactorService{Store: st, Issuer: "Shutter", Skew: 1, Now: clk.Now},
		QR:        &QRService{Repo: st.QRSessions(), PublicURL: "https://shutter.test", Now: clk.Now},
		Links:     &MagicLinkService{Store: st, PublicURL: "https://shutter.test", RedirectHosts: []string{"shutter.test"}, Now: clk.Now},
		Devices:   &DeviceTrustService{Store: st, Now: clk.Now},
		Lockout:   DefaultLockoutPolicy(),
		Notifier:  notifier,
		Now:       clk.Now,
	}

	return &testEnv{store: st, clock: clk, notifier: notifier, km: km, auth: auth}
}

func (e *testEnv) register(t *testing.T, email, password string) domain.User {
	t.Helper()
	res, err := e.auth.Register(context.Background(), email, password, "", RequestMeta{IP: "127.0.0.1"})
	require.NoError(t, err)
	return res.User
}

// enableTwoFactor enrols and enables TOTP and returns the secret and backup codes.
func (e *testEnv) enableTwoFactor(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enr, err := e.auth.TwoFactor.Enroll(ctx, userID)
	require.NoError(t, err)

	codes, err := e.auth.EnableTwoFactor(ctx, userID, e.totp(t, enr.Secret), RequestMeta{})
	require.NoError(t, err)
	return enr.Secret, codes
}

func (e *testEnv) totp(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, e.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}
