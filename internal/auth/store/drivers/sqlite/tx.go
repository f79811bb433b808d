package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/shutter/internal/auth/store"
)

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the caller commits or rolls back and the DB stays open.
func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return nil }

// Nested transactions are not supported.
func (t *txStore) Tx(ctx context.Context) (store.Tx, error) { return nil, sql.ErrTxDone }

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

// Migrations must run before any transaction is opened.
func (t *txStore) ApplyMigrations() error { return nil }

func (t *txStore) Users() store.Users                 { return &usersRepo{db: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{db: t.tx} }
func (t *txStore) BackupCodes() store.BackupCodes     { return &backupCodesRepo{db: t.tx} }
func (t *txStore) TwoFactorSessions() store.TwoFactorSessions {
	return &twoFactorSessionsRepo{db: t.tx}
}
func (t *txStore) QRSessions() store.QRSessions         { return &qrSessionsRepo{db: t.tx} }
func (t *txStore) MagicLinks() store.MagicLinks         { return &magicLinksRepo{db: t.tx} }
func (t *txStore) TrustedDevices() store.TrustedDevices { return &trustedDevicesRepo{db: t.tx} }
func (t *txStore) AuthEvents() store.AuthEvents         { return &authEventsRepo{db: t.tx} }
