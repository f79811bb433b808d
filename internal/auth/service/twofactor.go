package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/idx"
	"github.com/aussiebroadwan/shutter/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultTwoFactorSessionTTL = 10 * time.Minute
	DefaultBackupCodeCount     = 10

	// MaxTwoFactorAttempts wrong codes burn the session.
	MaxTwoFactorAttempts = 5

	totpPeriod = 30
)

// TwoFactorService owns 2FA challenge sessions and the TOTP/backup code
// lifecycle of an account.
type TwoFactorService struct {
	Store      store.Store
	Issuer     string // shown in authenticator apps
	SessionTTL time.Duration
	Skew       uint // accepted TOTP steps either side of now
	CodeCount  int

	Now func() time.Time
}

func (s *TwoFactorService) sessionTTL() time.Duration {
	if s.SessionTTL <= 0 {
		return DefaultTwoFactorSessionTTL
	}
	return s.SessionTTL
}

func (s *TwoFactorService) codeCount() int {
	if s.CodeCount <= 0 {
		return DefaultBackupCodeCount
	}
	return s.CodeCount
}

// CreateSession opens a challenge for userID and returns its opaque token.
func (s *TwoFactorService) CreateSession(ctx context.Context, userID string) (string, time.Time, error) {
	now := clock(s.Now)

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(s.sessionTTL())

	err = s.Store.TwoFactorSessions().CreateTwoFactorSession(ctx, domain.TwoFactorSession{
		ID:        idx.NewAt(now).String(),
		UserID:    userID,
		TokenHash: cryptox.FingerprintToken(token),
		ExpiresAt: exp,
		CreatedAt: now,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create 2fa session: %w", err)
	}
	return token, exp, nil
}

// ResolveSession looks up an unexpired challenge. An expired one reads as
// ErrSessionExpired, an unknown one as ErrSessionNotFound.
func (s *TwoFactorService) ResolveSession(ctx context.Context, token string) (domain.TwoFactorSession, error) {
	if token == "" {
		return domain.TwoFactorSession{}, ErrSessionNotFound
	}
	sess, err := s.Store.TwoFactorSessions().GetTwoFactorSessionByHash(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TwoFactorSession{}, ErrSessionNotFound
		}
		return domain.TwoFactorSession{}, err
	}
	if !clock(s.Now).Before(sess.ExpiresAt) {
		return domain.TwoFactorSession{}, ErrSessionExpired
	}
	return sess, nil
}

// RecordFailure counts a wrong code against sess and deletes the session
// once MaxTwoFactorAttempts is reached.
func (s *TwoFactorService) RecordFailure(ctx context.Context, sess domain.TwoFactorSession) error {
	n, err := s.Store.TwoFactorSessions().IncrementTwoFactorAttempts(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if n < MaxTwoFactorAttempts {
		return nil
	}

	slogx.FromContext(ctx).Warn("2fa session exceeded max attempts",
		slog.String("user_id", sess.UserID), slog.Int("attempts", n))
	if err := s.Store.TwoFactorSessions().DeleteTwoFactorSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	return nil
}

// ValidateTOTP checks code against the user's secret with the configured skew.
func (s *TwoFactorService) ValidateTOTP(u domain.User, code string) bool {
	if u.TwoFactorSecret == nil || *u.TwoFactorSecret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, *u.TwoFactorSecret, clock(s.Now).UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      s.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Enroll creates a fresh TOTP secret for a user who has not enabled 2FA yet.
// Enrolling again before Enable replaces the pending secret.
func (s *TwoFactorService) Enroll(ctx context.Context, userID string) (domain.TwoFactorEnrollment, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.TwoFactorEnrollment{}, fmt.Errorf("load user: %w", err)
	}
	if u.TwoFactor {
		return domain.TwoFactorEnrollment{}, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: u.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.TwoFactorEnrollment{}, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := qrDataURI(key.URL())
	if err != nil {
		return domain.TwoFactorEnrollment{}, err
	}

	if err := s.Store.Users().SetTwoFactorSecret(ctx, userID, key.Secret(), clock(s.Now)); err != nil {
		return domain.TwoFactorEnrollment{}, fmt.Errorf("store totp secret: %w", err)
	}

	return domain.TwoFactorEnrollment{
		Secret:  key.Secret(),
		URI:     key.URL(),
		QRImage: img,
	}, nil
}

// Enable confirms the enrolled secret with a first code, turns 2FA on and
// returns a fresh batch of backup codes.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) ([]string, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.TwoFactor {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if u.TwoFactorSecret == nil {
		return nil, validationError("2fa enrolment has not been started")
	}
	if !s.ValidateTOTP(u, code) {
		return nil, ErrInvalidTwoFactorCode
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}

	now := clock(s.Now)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().ReplaceBackupCodes(ctx, userID, hashes, now); err != nil {
			return fmt.Errorf("store backup codes: %w", err)
		}
		return tx.Users().EnableTwoFactor(ctx, userID, now)
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if _, err := s.requireCode(ctx, userID, code); err != nil {
		return nil, err
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.Store.BackupCodes().ReplaceBackupCodes(ctx, userID, hashes, clock(s.Now)); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	return codes, nil
}

// Disable turns 2FA off. Backup codes and trusted devices go with it since
// they only make sense as part of a second factor.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if _, err := s.requireCode(ctx, userID, code); err != nil {
		return err
	}

	now := clock(s.Now)
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteBackupCodes(ctx, userID); err != nil {
			return err
		}
		if err := tx.TrustedDevices().DeleteUserTrustedDevices(ctx, userID); err != nil {
			return err
		}
		return tx.Users().DisableTwoFactor(ctx, userID, now)
	})
}

func (s *TwoFactorService) requireCode(ctx context.Context, userID, code string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !u.TwoFactor {
		return domain.User{}, ErrTwoFactorNotEnabled
	}
	if !s.ValidateTOTP(u, code) {
		return domain.User{}, ErrInvalidTwoFactorCode
	}
	return u, nil
}

func (s *TwoFactorService) newBackupCodes() (codes, hashes []string, err error) {
	n := s.codeCount()
	codes = make([]string, n)
	hashes = make([]string, n)
	for i := range n {
		code, err := cryptox.GenerateBackupCode()
		if err != nil {
			return nil, nil, err
		}
		codes[i] = code
		hashes[i] = cryptox.FingerprintToken(code)
	}
	return codes, hashes, nil
}

// backupCodeHash is the stored form of a user supplied backup code.
func backupCodeHash(code string) string {
	return cryptox.FingerprintToken(cryptox.NormalizeBackupCode(code))
}
