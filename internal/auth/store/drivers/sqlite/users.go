package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, display_name, password_hash, two_factor_secret,
	two_factor_enabled, failed_attempts, locked_until, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u         domain.User
		secret    sql.NullString
		lockedTil sql.NullInt64
		created   int64
		updated   int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &secret,
		&u.TwoFactor, &u.FailedAttempts, &lockedTil, &created, &updated)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	if secret.Valid {
		u.TwoFactorSecret = &secret.String
	}
	u.LockedUntil = fromNullMillis(lockedTil)
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	var secret sql.NullString
	if u.TwoFactorSecret != nil {
		secret = sql.NullString{String: *u.TwoFactorSecret, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, secret,
		u.TwoFactor, u.FailedAttempts, toNullMillis(u.LockedUntil),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *usersRepo) UpdateDisplayName(ctx context.Context, userID, name string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
		name, toMillis(now), userID)
	return expectOne(res, err, store.ErrNotFound)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(now), userID)
	return expectOne(res, err, store.ErrNotFound)
}

func (r *usersRepo) IncrementFailedAttempts(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= ?1 THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= ?1 THEN NULL
				ELSE locked_until
			END,
			updated_at = ?1
		WHERE id = ?2
		RETURNING failed_attempts`,
		toMillis(now), userID,
	).Scan(&n)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return n, nil
}

func (r *usersRepo) LockUntil(ctx context.Context, userID string, until, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET locked_until = ?
		 WHERE id = ? AND (locked_until IS NULL OR locked_until <= ?)`,
		toMillis(until), userID, toMillis(now))
	if err := expectOne(res, err, store.ErrConflict); !errors.Is(err, store.ErrConflict) {
		return err
	}
	if _, err := r.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return store.ErrConflict
}

func (r *usersRepo) ResetFailedAttempts(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET failed_attempts = 0, locked_until = NULL WHERE id = ?`, userID)
	return err
}

func (r *usersRepo) SetTwoFactorSecret(ctx context.Context, userID, secret string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_secret = ?, updated_at = ? WHERE id = ?`,
		secret, toMillis(now), userID)
	return expectOne(res, err, store.ErrNotFound)
}

func (r *usersRepo) EnableTwoFactor(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET two_factor_enabled = 1, updated_at = ?
		WHERE id = ? AND two_factor_secret IS NOT NULL`,
		toMillis(now), userID)
	return expectOne(res, err, store.ErrNotFound)
}

func (r *usersRepo) DisableTwoFactor(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET two_factor_enabled = 0, two_factor_secret = NULL, updated_at = ?
		WHERE id = ?`,
		toMillis(now), userID)
	return expectOne(res, err, store.ErrNotFound)
}
