package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/store"
)

type backupCodesRepo struct {
	db dbtx
}

// ReplaceBackupCodes runs in the caller's transaction when there is one and
// opens its own otherwise, so a half-written set is never visible.
func (r *backupCodesRepo) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, now time.Time) error {
	return atomically(ctx, r.db, func(db dbtx) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
			return err
		}
		for _, h := range hashes {
			_, err := db.ExecContext(ctx,
				`INSERT INTO backup_codes (user_id, code_hash, created_at) VALUES (?, ?, ?)`,
				userID, h, toMillis(now))
			if err != nil {
				return mapConstraint(err)
			}
		}
		return nil
	})
}

func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, userID, hash string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ? AND code_hash = ?`, userID, hash)
	return expectOne(res, err, store.ErrNotFound)
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (r *backupCodesRepo) DeleteBackupCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}

// atomically runs fn inside a transaction unless db already is one.
func atomically(ctx context.Context, db dbtx, fn func(db dbtx) error) error {
	sqlDB, ok := db.(*sql.DB)
	if !ok {
		return fn(db)
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
