package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
)

type qrSessionsRepo struct {
	db dbtx
}

const qrColumns = `id, token_hash, device_info, status, user_id,
	authenticated_at, claimed_at, expires_at, created_at`

func scanQRSession(row interface{ Scan(...any) error }) (domain.QRSession, error) {
	var (
		q       domain.QRSession
		status  string
		userID  sql.NullString
		authAt  sql.NullInt64
		claimAt sql.NullInt64
		expires int64
		created int64
	)
	err := row.Scan(&q.ID, &q.TokenHash, &q.DeviceInfo, &status, &userID,
		&authAt, &claimAt, &expires, &created)
	if err != nil {
		return domain.QRSession{}, mapNotFound(err)
	}
	if q.Status, err = domain.ParseQRStatus(status); err != nil {
		return domain.QRSession{}, err
	}
	q.UserID = userID.String
	q.AuthenticatedAt = fromNullMillis(authAt)
	q.ClaimedAt = fromNullMillis(claimAt)
	q.ExpiresAt = fromMillis(expires)
	q.CreatedAt = fromMillis(created)
	return q, nil
}

func (r *qrSessionsRepo) CreateQRSession(ctx context.Context, q domain.QRSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO qr_sessions (`+qrColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.TokenHash, q.DeviceInfo, q.Status.String(), toNullString(q.UserID),
		toNullMillis(q.AuthenticatedAt), toNullMillis(q.ClaimedAt),
		toMillis(q.ExpiresAt), toMillis(q.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *qrSessionsRepo) GetQRSession(ctx context.Context, id string) (domain.QRSession, error) {
	return scanQRSession(r.db.QueryRowContext(ctx,
		`SELECT `+qrColumns+` FROM qr_sessions WHERE id = ?`, id))
}

func (r *qrSessionsRepo) GetQRSessionByTokenHash(ctx context.Context, hash string) (domain.QRSession, error) {
	return scanQRSession(r.db.QueryRowContext(ctx,
		`SELECT `+qrColumns+` FROM qr_sessions WHERE token_hash = ?`, hash))
}

func (r *qrSessionsRepo) ApproveQRSession(ctx context.Context, id, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE qr_sessions SET status = 'authenticated', user_id = ?, authenticated_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		userID, toMillis(now), id, toMillis(now))
	return expectOne(res, err, store.ErrConflict)
}

func (r *qrSessionsRepo) CancelQRSession(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE qr_sessions SET status = 'cancelled'
		WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		id, toMillis(now))
	return expectOne(res, err, store.ErrConflict)
}

func (r *qrSessionsRepo) ExpireQRSession(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE qr_sessions SET status = 'expired'
		WHERE id = ? AND status = 'pending' AND expires_at <= ?`,
		id, toMillis(now))
	return expectOne(res, err, store.ErrConflict)
}

func (r *qrSessionsRepo) ClaimQRSession(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE qr_sessions SET claimed_at = ?
		WHERE id = ? AND status = 'authenticated' AND claimed_at IS NULL`,
		toMillis(now), id)
	return expectOne(res, err, store.ErrConflict)
}

func (r *qrSessionsRepo) SweepQRSessions(ctx context.Context, now, purgeBefore time.Time) (expired, purged int64, err error) {
	err = atomically(ctx, r.db, func(db dbtx) error {
		res, err := db.ExecContext(ctx, `
			UPDATE qr_sessions SET status = 'expired'
			WHERE status = 'pending' AND expires_at <= ?`, toMillis(now))
		if err != nil {
			return err
		}
		if expired, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = db.ExecContext(ctx,
			`DELETE FROM qr_sessions WHERE expires_at < ?`, toMillis(purgeBefore))
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	return expired, purged, err
}
