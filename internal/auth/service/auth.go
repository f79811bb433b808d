package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/idx"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/aussiebroadwan/shutter/pkg/slogx"
)

const DefaultLowBackupCodes = 2

// RequestMeta is what the audit trail records about the caller.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuthResult is the outcome of every flow that ends in issued tokens.
type AuthResult struct {
	User        domain.User
	Tokens      domain.TokenPair
	DeviceToken string // only when a device was remembered
	RedirectURL string // only for magic links
}

// LoginResult either carries tokens or, when a second factor is due, the
// 2FA session token to answer it with.
type LoginResult struct {
	AuthResult

	Requires2FA      bool
	SessionToken     string
	SessionExpiresAt time.Time
}

type LoginInput struct {
	Email       string
	Password    string
	DeviceToken string
}

type TwoFactorInput struct {
	SessionToken   string
	Code           string
	Method         string
	RememberDevice bool
	DeviceName     string
}

// QRPoll is one answer to the initiator's status poll. Result is set only
// for the single poll that observed AUTHENTICATED first.
type QRPoll struct {
	Status domain.QRStatus
	Result *AuthResult
}

// AuthService ties the credential store, challenge registries, device trust
// and token issuer together into the login flows.
type AuthService struct {
	Store     store.Store
	Users     *UserService
	Tokens    *TokenService
	TwoFactor *TwoFactorService
	QR        *QRService
	Links     *MagicLinkService
	Devices   *DeviceTrustService
	Lockout   LockoutPolicy
	Notifier  Notifier

	// LowBackupCodes is the remaining count at or below which the user is
	// warned after spending a backup code.
	LowBackupCodes int

	Now func() time.Time

	dummyOnce sync.Once
	dummyHash string

	notifications sync.WaitGroup
}

// Register creates the account and logs it straight in.
func (s *AuthService) Register(ctx context.Context, email, password, displayName string, meta RequestMeta) (AuthResult, error) {
	u, err := s.Users.Create(ctx, email, password, displayName)
	if err != nil {
		return AuthResult{}, err
	}

	pair, err := s.Tokens.IssuePair(ctx, nil, u, []string{jwtx.AMRPassword})
	if err != nil {
		return AuthResult{}, err
	}

	s.audit(ctx, domain.EventRegistered, u.ID, meta, "")
	return AuthResult{User: u, Tokens: pair}, nil
}

// Login is the password flow: lock check, password check, then either
// tokens or a 2FA challenge. A valid device token for the same user skips
// the challenge.
func (s *AuthService) Login(ctx context.Context, in LoginInput, meta RequestMeta) (LoginResult, error) {
	l := slogx.FromContext(ctx)
	now := clock(s.Now)

	u, err := s.Store.Users().GetUserByEmail(ctx, domain.NormalizeEmail(in.Email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, err
		}
		// Spend the same hashing time as a real user would cost.
		_ = s.Users.Hasher.Verify(in.Password, s.dummy())
		s.audit(ctx, domain.EventLoginFailed, "", meta, "unknown email")
		return LoginResult{}, ErrInvalidCredentials
	}

	if s.Lockout.IsLocked(&u, now) {
		l.Warn("login attempt on locked account", slog.String("user_id", u.ID), slog.String("ip", meta.IP))
		s.audit(ctx, domain.EventLoginWhileLocked, u.ID, meta, "")
		return LoginResult{}, &LockedError{Until: *u.LockedUntil}
	}

	if err := s.Users.Hasher.Verify(in.Password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("stored password hash is unusable", slog.String("user_id", u.ID), slog.Any("error", err))
		}
		return LoginResult{}, s.recordPasswordFailure(ctx, u, now, meta)
	}

	if err := s.Store.Users().ResetFailedAttempts(ctx, u.ID); err != nil {
		return LoginResult{}, fmt.Errorf("reset failed attempts: %w", err)
	}
	u.FailedAttempts = 0
	u.LockedUntil = nil

	amr := []string{jwtx.AMRPassword}
	if u.TwoFactor {
		trusted, err := s.Devices.Verify(ctx, u.ID, in.DeviceToken)
		if err != nil {
			return LoginResult{}, err
		}
		if !trusted {
			token, exp, err := s.TwoFactor.CreateSession(ctx, u.ID)
			if err != nil {
				return LoginResult{}, err
			}
			l.Info("2fa required", slog.String("user_id", u.ID))
			return LoginResult{
				AuthResult:       AuthResult{User: u},
				Requires2FA:      true,
				SessionToken:     token,
				SessionExpiresAt: exp,
			}, nil
		}
		amr = append(amr, jwtx.AMRDevice)
	}

	pair, err := s.Tokens.IssuePair(ctx, nil, u, amr)
	if err != nil {
		return LoginResult{}, err
	}

	l.Info("login succeeded", slog.String("user_id", u.ID), slog.String("ip", meta.IP))
	s.audit(ctx, domain.EventLoginSucceeded, u.ID, meta, "pwd")
	return LoginResult{AuthResult: AuthResult{User: u, Tokens: pair}}, nil
}

func (s *AuthService) recordPasswordFailure(ctx context.Context, u domain.User, now time.Time, meta RequestMeta) error {
	l := slogx.FromContext(ctx)

	n, err := s.Store.Users().IncrementFailedAttempts(ctx, u.ID, now)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	s.audit(ctx, domain.EventLoginFailed, u.ID, meta, fmt.Sprintf("attempt %d", n))

	if !s.Lockout.ShouldLock(n) {
		return ErrInvalidCredentials
	}

	until := s.Lockout.LockUntil(now)
	switch err := s.Store.Users().LockUntil(ctx, u.ID, until, now); {
	case errors.Is(err, store.ErrConflict):
		// A concurrent failure locked first; its window stands.
		cur, err := s.Store.Users().GetUserByID(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("load locked account: %w", err)
		}
		if cur.LockedUntil != nil {
			return &LockedError{Until: *cur.LockedUntil}
		}
		return &LockedError{Until: until}
	case err != nil:
		return fmt.Errorf("lock account: %w", err)
	}
	l.Warn("account locked", slog.String("user_id", u.ID), slog.Int("attempts", n), slog.Time("until", until))
	s.audit(ctx, domain.EventAccountLocked, u.ID, meta, "")
	return &LockedError{Until: until}
}

// VerifyTwoFactor answers a 2FA challenge. Backup code consumption, session
// deletion, refresh token and device token all commit together.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, in TwoFactorInput, meta RequestMeta) (AuthResult, error) {
	l := slogx.FromContext(ctx)

	method, err := domain.ParseTwoFactorMethod(in.Method)
	if err != nil {
		return AuthResult{}, validationError("%v", err)
	}
	if in.Code == "" {
		return AuthResult{}, validationError("code is required")
	}

	sess, err := s.TwoFactor.ResolveSession(ctx, in.SessionToken)
	if err != nil {
		return AuthResult{}, err
	}

	u, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, ErrSessionNotFound
		}
		return AuthResult{}, err
	}

	if method == domain.TwoFactorTOTP && !s.TwoFactor.ValidateTOTP(u, in.Code) {
		return AuthResult{}, s.twoFactorFailure(ctx, sess, meta, method)
	}

	amr := []string{jwtx.AMRPassword, jwtx.AMROTP, jwtx.AMRMFA}
	if method == domain.TwoFactorBackup {
		amr = []string{jwtx.AMRPassword, jwtx.AMRBackup, jwtx.AMRMFA}
	}

	var (
		res       = AuthResult{User: u}
		remaining = -1
	)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if method == domain.TwoFactorBackup {
			err := tx.BackupCodes().ConsumeBackupCode(ctx, u.ID, backupCodeHash(in.Code))
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidTwoFactorCode
			}
			if err != nil {
				return err
			}
			if remaining, err = tx.BackupCodes().CountBackupCodes(ctx, u.ID); err != nil {
				return err
			}
		}

		if err := tx.TwoFactorSessions().DeleteTwoFactorSession(ctx, sess.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrSessionNotFound
			}
			return err
		}

		var err error
		if res.Tokens, err = s.Tokens.IssuePair(ctx, tx.RefreshTokens(), u, amr); err != nil {
			return err
		}
		if in.RememberDevice {
			res.DeviceToken, err = s.Devices.Save(ctx, tx.TrustedDevices(), u.ID, in.DeviceName)
		}
		return err
	})
	if errors.Is(err, ErrInvalidTwoFactorCode) {
		return AuthResult{}, s.twoFactorFailure(ctx, sess, meta, method)
	}
	if err != nil {
		return AuthResult{}, err
	}

	l.Info("2fa verified", slog.String("user_id", u.ID), slog.String("method", string(method)))
	s.audit(ctx, domain.EventLoginSucceeded, u.ID, meta, string(method))
	if method == domain.TwoFactorBackup {
		s.audit(ctx, domain.EventBackupCodeUsed, u.ID, meta, fmt.Sprintf("%d remaining", remaining))
		if remaining <= s.lowBackupCodes() {
			l.Warn("backup codes running low", slog.String("user_id", u.ID), slog.Int("remaining", remaining))
			s.notify(ctx, "low_backup_codes", func(ctx context.Context) error {
				return s.Notifier.LowBackupCodes(ctx, u.Email, remaining)
			})
		}
	}
	if res.DeviceToken != "" {
		s.audit(ctx, domain.EventDeviceTrusted, u.ID, meta, in.DeviceName)
	}
	return res, nil
}

func (s *AuthService) twoFactorFailure(ctx context.Context, sess domain.TwoFactorSession, meta RequestMeta, method domain.TwoFactorMethod) error {
	slogx.FromContext(ctx).Warn("2fa verification failed",
		slog.String("user_id", sess.UserID), slog.String("method", string(method)))
	if err := s.TwoFactor.RecordFailure(ctx, sess); err != nil {
		return err
	}
	s.audit(ctx, domain.EventTwoFactorFailed, sess.UserID, meta, string(method))
	return ErrInvalidTwoFactorCode
}

// CreateQRSession starts a cross-device login for the calling device.
func (s *AuthService) CreateQRSession(ctx context.Context, deviceInfo string, meta RequestMeta) (QRTicket, error) {
	t, err := s.QR.Create(ctx, deviceInfo)
	if err != nil {
		return QRTicket{}, err
	}
	slogx.FromContext(ctx).Info("qr session created",
		slog.String("session_id", t.SessionID), slog.String("ip", meta.IP))
	return t, nil
}

// ApproveQRSession is called by an already signed-in device that scanned
// the code. The session is bound to that device's user.
func (s *AuthService) ApproveQRSession(ctx context.Context, userID, token string, meta RequestMeta) (domain.QRSession, error) {
	q, err := s.QR.Approve(ctx, token, userID)
	if err != nil {
		return domain.QRSession{}, err
	}
	slogx.FromContext(ctx).Info("qr session approved",
		slog.String("session_id", q.ID), slog.String("user_id", userID))
	s.audit(ctx, domain.EventQRApproved, userID, meta, q.DeviceInfo)
	return q, nil
}

func (s *AuthService) CancelQRSession(ctx context.Context, sessionID, token string) error {
	return s.QR.Cancel(ctx, sessionID, token)
}

// PollQRSession reports the session status. The first poll that sees
// AUTHENTICATED claims the session and gets freshly minted tokens; later
// polls only see the status. Tokens are minted before the claim, so a
// failure on the way leaves the session claimable by the next poll.
func (s *AuthService) PollQRSession(ctx context.Context, sessionID string, meta RequestMeta) (QRPoll, error) {
	q, err := s.QR.Status(ctx, sessionID)
	if err != nil {
		return QRPoll{}, err
	}
	if q.Status != domain.QRAuthenticated || q.ClaimedAt != nil {
		return QRPoll{Status: q.Status}, nil
	}

	u, err := s.Store.Users().GetUserByID(ctx, q.UserID)
	if err != nil {
		return QRPoll{}, fmt.Errorf("load qr user: %w", err)
	}
	pair, err := s.Tokens.IssuePair(ctx, nil, u, []string{jwtx.AMRQR})
	if err != nil {
		return QRPoll{}, err
	}

	if err := s.QR.Claim(ctx, q.ID); err != nil {
		// Another poller won, or the claim could not be stored. The pair
		// minted here must not outlive it.
		if rerr := s.Tokens.Logout(ctx, u.ID, pair.RefreshToken); rerr != nil {
			slogx.FromContext(ctx).Error("failed to revoke unclaimed qr refresh token",
				slog.String("session_id", q.ID), slog.Any("error", rerr))
		}
		if errors.Is(err, ErrConflict) {
			return QRPoll{Status: q.Status}, nil
		}
		return QRPoll{}, err
	}

	s.audit(ctx, domain.EventLoginSucceeded, u.ID, meta, "qr")
	return QRPoll{Status: q.Status, Result: &AuthResult{User: u, Tokens: pair}}, nil
}

// RequestMagicLink always answers with the same acknowledgment. A link is
// only created and sent when the email belongs to a user.
func (s *AuthService) RequestMagicLink(ctx context.Context, email, redirectURL string, meta RequestMeta) (time.Time, error) {
	l := slogx.FromContext(ctx)
	expiresAt := clock(s.Now).Add(s.Links.ttl())

	email = domain.NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return time.Time{}, err
	}
	if err := s.Links.ValidateRedirect(redirectURL); err != nil {
		return time.Time{}, err
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Debug("magic link requested for unknown email")
			return expiresAt, nil
		}
		return time.Time{}, err
	}

	link, exp, err := s.Links.Issue(ctx, u.ID, redirectURL)
	if err != nil {
		return time.Time{}, err
	}

	s.audit(ctx, domain.EventMagicLinkSent, u.ID, meta, "")
	s.notify(ctx, "magic_link", func(ctx context.Context) error {
		return s.Notifier.MagicLink(ctx, u.Email, link, exp)
	})
	return exp, nil
}

// VerifyMagicLink consumes the link and signs its owner in. The link is a
// complete login on its own; no second factor is asked for.
func (s *AuthService) VerifyMagicLink(ctx context.Context, token string, meta RequestMeta) (AuthResult, error) {
	link, err := s.Links.Consume(ctx, token)
	if err != nil {
		return AuthResult{}, err
	}

	u, err := s.Store.Users().GetUserByID(ctx, link.UserID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("load magic link user: %w", err)
	}

	pair, err := s.Tokens.IssuePair(ctx, nil, u, []string{jwtx.AMRMagic})
	if err != nil {
		return AuthResult{}, err
	}

	slogx.FromContext(ctx).Info("magic link consumed", slog.String("user_id", u.ID))
	s.audit(ctx, domain.EventMagicLinkUsed, u.ID, meta, "")
	return AuthResult{User: u, Tokens: pair, RedirectURL: link.RedirectURL}, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	return s.Tokens.Refresh(ctx, refreshToken)
}

func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	return s.Tokens.Logout(ctx, userID, refreshToken)
}

// ChangePassword wraps the credential store so the change lands in the
// audit trail.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string, meta RequestMeta) error {
	if err := s.Users.ChangePassword(ctx, userID, current, next); err != nil {
		return err
	}
	s.audit(ctx, domain.EventPasswordChanged, userID, meta, "")
	return nil
}

func (s *AuthService) EnableTwoFactor(ctx context.Context, userID, code string, meta RequestMeta) ([]string, error) {
	codes, err := s.TwoFactor.Enable(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, domain.EventTwoFactorEnabled, userID, meta, "")
	return codes, nil
}

func (s *AuthService) DisableTwoFactor(ctx context.Context, userID, code string, meta RequestMeta) error {
	if err := s.TwoFactor.Disable(ctx, userID, code); err != nil {
		return err
	}
	s.audit(ctx, domain.EventTwoFactorOff, userID, meta, "")
	return nil
}

func (s *AuthService) lowBackupCodes() int {
	if s.LowBackupCodes <= 0 {
		return DefaultLowBackupCodes
	}
	return s.LowBackupCodes
}

func (s *AuthService) notify(ctx context.Context, what string, send func(ctx context.Context) error) {
	if s.Notifier == nil {
		return
	}
	dispatch(ctx, &s.notifications, what, send)
}

// Drain waits for notifications still being delivered, or until ctx is done.
func (s *AuthService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still in flight: %w", ctx.Err())
	}
}

// audit writes best effort; a failed insert is logged and otherwise ignored.
func (s *AuthService) audit(ctx context.Context, kind domain.AuthEventKind, userID string, meta RequestMeta, detail string) {
	now := clock(s.Now)
	err := s.Store.AuthEvents().RecordAuthEvent(ctx, domain.AuthEvent{
		ID:        idx.NewAt(now).String(),
		UserID:    userID,
		Kind:      kind,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Detail:    detail,
		CreatedAt: now,
	})
	if err != nil {
		slogx.FromContext(ctx).Error("failed to record auth event",
			slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

// dummy is a throwaway hash used to keep unknown-email logins as slow as
// real ones.
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Users.Hasher.Hash("shutter-timing-equaliser")
	})
	return s.dummyHash
}
