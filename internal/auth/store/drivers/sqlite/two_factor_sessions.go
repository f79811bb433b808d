package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
)

type twoFactorSessionsRepo struct {
	db dbtx
}

func (r *twoFactorSessionsRepo) CreateTwoFactorSession(ctx context.Context, s domain.TwoFactorSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO two_factor_sessions (id, user_id, token_hash, attempts, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.TokenHash, s.Attempts, toMillis(s.ExpiresAt), toMillis(s.CreatedAt))
	return mapConstraint(err)
}

func (r *twoFactorSessionsRepo) GetTwoFactorSessionByHash(ctx context.Context, hash string) (domain.TwoFactorSession, error) {
	var (
		s       domain.TwoFactorSession
		expires int64
		created int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, attempts, expires_at, created_at
		FROM two_factor_sessions WHERE token_hash = ?`, hash,
	).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.Attempts, &expires, &created)
	if err != nil {
		return domain.TwoFactorSession{}, mapNotFound(err)
	}
	s.ExpiresAt = fromMillis(expires)
	s.CreatedAt = fromMillis(created)
	return s, nil
}

func (r *twoFactorSessionsRepo) IncrementTwoFactorAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`UPDATE two_factor_sessions SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&n)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return n, nil
}

func (r *twoFactorSessionsRepo) DeleteTwoFactorSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM two_factor_sessions WHERE id = ?`, id)
	return expectOne(res, err, store.ErrConflict)
}

func (r *twoFactorSessionsRepo) DeleteExpiredTwoFactorSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
