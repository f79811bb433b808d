package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when a conditional update matched no row,
	// i.e. another request got there first or the record is not in the
	// expected state any more.
	ErrConflict = errors.New("store: conditional update lost")
)

// Store is the root data access interface. Drivers implement it and expose
// sub-repositories so transactions cannot be nested by accident.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	BackupCodes() BackupCodes
	TwoFactorSessions() TwoFactorSessions
	QRSessions() QRSessions
	MagicLinks() MagicLinks
	TrustedDevices() TrustedDevices
	AuthEvents() AuthEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when it returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail expects an already normalised email.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser returns ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	UpdateDisplayName(ctx context.Context, userID, name string, now time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error

	// IncrementFailedAttempts atomically bumps the counter and returns the
	// new value. If a previous lock has already elapsed the count restarts
	// at 1 and the lock is cleared.
	IncrementFailedAttempts(ctx context.Context, userID string, now time.Time) (int, error)

	// LockUntil sets locked_until unless a lock is still running at now,
	// in which case it returns ErrConflict and leaves the lock alone.
	LockUntil(ctx context.Context, userID string, until, now time.Time) error

	// ResetFailedAttempts zeroes the counter and clears any lock.
	ResetFailedAttempts(ctx context.Context, userID string) error

	SetTwoFactorSecret(ctx context.Context, userID, secret string, now time.Time) error
	EnableTwoFactor(ctx context.Context, userID string, now time.Time) error

	// DisableTwoFactor clears the flag and the secret.
	DisableTwoFactor(ctx context.Context, userID string, now time.Time) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// DeleteRefreshToken deletes by id and returns ErrConflict if the row
	// was already gone, which rotation uses to detect a concurrent reuse.
	DeleteRefreshToken(ctx context.Context, id string) error

	// DeleteUserRefreshTokenByHash is idempotent.
	DeleteUserRefreshTokenByHash(ctx context.Context, userID, hash string) error

	DeleteUserRefreshTokens(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type BackupCodes interface {
	// ReplaceBackupCodes drops the user's existing codes and stores hashes.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, now time.Time) error

	// ConsumeBackupCode deletes the matching code in a single statement and
	// returns ErrNotFound if there was none.
	ConsumeBackupCode(ctx context.Context, userID, hash string) error

	CountBackupCodes(ctx context.Context, userID string) (int, error)
	DeleteBackupCodes(ctx context.Context, userID string) error
}

type TwoFactorSessions interface {
	CreateTwoFactorSession(ctx context.Context, s domain.TwoFactorSession) error
	GetTwoFactorSessionByHash(ctx context.Context, hash string) (domain.TwoFactorSession, error)
	IncrementTwoFactorAttempts(ctx context.Context, id string) (int, error)

	// DeleteTwoFactorSession returns ErrConflict when already consumed.
	DeleteTwoFactorSession(ctx context.Context, id string) error

	DeleteExpiredTwoFactorSessions(ctx context.Context, now time.Time) (int64, error)
}

// QRSessions is implemented by the sqlite store and by the Redis driver.
// Every transition is a conditional write that returns ErrConflict when the
// session is not in the expected state.
type QRSessions interface {
	CreateQRSession(ctx context.Context, q domain.QRSession) error
	GetQRSession(ctx context.Context, id string) (domain.QRSession, error)
	GetQRSessionByTokenHash(ctx context.Context, hash string) (domain.QRSession, error)

	// ApproveQRSession moves an unexpired pending session to authenticated.
	ApproveQRSession(ctx context.Context, id, userID string, now time.Time) error

	// CancelQRSession moves an unexpired pending session to cancelled.
	CancelQRSession(ctx context.Context, id string, now time.Time) error

	// ExpireQRSession moves a pending session whose expiry passed to expired.
	ExpireQRSession(ctx context.Context, id string, now time.Time) error

	// ClaimQRSession marks the tokens of an authenticated session as handed
	// out. It succeeds once.
	ClaimQRSession(ctx context.Context, id string, now time.Time) error

	// SweepQRSessions expires stale pending sessions and deletes sessions
	// whose expiry is older than purgeBefore.
	SweepQRSessions(ctx context.Context, now, purgeBefore time.Time) (expired, purged int64, err error)
}

type MagicLinks interface {
	CreateMagicLink(ctx context.Context, l domain.MagicLink) error
	GetMagicLinkByHash(ctx context.Context, hash string) (domain.MagicLink, error)

	// ConsumeMagicLink sets used_at on an unused, unexpired link and returns
	// it, all in one statement. ErrNotFound otherwise.
	ConsumeMagicLink(ctx context.Context, hash string, now time.Time) (domain.MagicLink, error)

	DeleteExpiredMagicLinks(ctx context.Context, before time.Time) (int64, error)
}

type TrustedDevices interface {
	CreateTrustedDevice(ctx context.Context, d domain.TrustedDevice) error

	// TouchTrustedDevice bumps last_used_at if an unexpired device exists for
	// exactly this (userID, hash) pair. ErrNotFound otherwise.
	TouchTrustedDevice(ctx context.Context, userID, hash string, now time.Time) error

	ListTrustedDevices(ctx context.Context, userID string, now time.Time) ([]domain.TrustedDevice, error)

	// DeleteTrustedDevice returns ErrNotFound if the device is not the user's.
	DeleteTrustedDevice(ctx context.Context, userID, id string) error
	DeleteUserTrustedDevices(ctx context.Context, userID string) error
	DeleteExpiredTrustedDevices(ctx context.Context, now time.Time) (int64, error)
}

type AuthEvents interface {
	RecordAuthEvent(ctx context.Context, e domain.AuthEvent) error
	ListAuthEvents(ctx context.Context, userID string, limit int) ([]domain.AuthEvent, error)
}
