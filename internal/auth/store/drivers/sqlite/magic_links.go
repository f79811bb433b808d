package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
)

type magicLinksRepo struct {
	db dbtx
}

const magicLinkColumns = `id, user_id, token_hash, redirect_url, expires_at, used_at, created_at`

func scanMagicLink(row interface{ Scan(...any) error }) (domain.MagicLink, error) {
	var (
		l       domain.MagicLink
		expires int64
		usedAt  sql.NullInt64
		created int64
	)
	err := row.Scan(&l.ID, &l.UserID, &l.TokenHash, &l.RedirectURL, &expires, &usedAt, &created)
	if err != nil {
		return domain.MagicLink{}, mapNotFound(err)
	}
	l.ExpiresAt = fromMillis(expires)
	l.UsedAt = fromNullMillis(usedAt)
	l.CreatedAt = fromMillis(created)
	return l, nil
}

func (r *magicLinksRepo) CreateMagicLink(ctx context.Context, l domain.MagicLink) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO magic_links (`+magicLinkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.TokenHash, l.RedirectURL,
		toMillis(l.ExpiresAt), toNullMillis(l.UsedAt), toMillis(l.CreatedAt))
	return mapConstraint(err)
}

func (r *magicLinksRepo) GetMagicLinkByHash(ctx context.Context, hash string) (domain.MagicLink, error) {
	return scanMagicLink(r.db.QueryRowContext(ctx,
		`SELECT `+magicLinkColumns+` FROM magic_links WHERE token_hash = ?`, hash))
}

// ConsumeMagicLink is a single conditional UPDATE so that two concurrent
// verifications cannot both see the link as unused.
func (r *magicLinksRepo) ConsumeMagicLink(ctx context.Context, hash string, now time.Time) (domain.MagicLink, error) {
	return scanMagicLink(r.db.QueryRowContext(ctx, `
		UPDATE magic_links SET used_at = ?1
		WHERE token_hash = ?2 AND used_at IS NULL AND expires_at > ?1
		RETURNING `+magicLinkColumns,
		toMillis(now), hash))
}

func (r *magicLinksRepo) DeleteExpiredMagicLinks(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM magic_links WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
