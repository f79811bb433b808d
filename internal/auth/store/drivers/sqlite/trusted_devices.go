package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
)

type trustedDevicesRepo struct {
	db dbtx
}

func (r *trustedDevicesRepo) CreateTrustedDevice(ctx context.Context, d domain.TrustedDevice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trusted_devices (id, user_id, token_hash, device_name, expires_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.TokenHash, d.DeviceName,
		toMillis(d.ExpiresAt), toMillis(d.LastUsedAt), toMillis(d.CreatedAt))
	return mapConstraint(err)
}

// TouchTrustedDevice never moves expires_at.
func (r *trustedDevicesRepo) TouchTrustedDevice(ctx context.Context, userID, hash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trusted_devices SET last_used_at = ?1
		WHERE user_id = ?2 AND token_hash = ?3 AND expires_at > ?1`,
		toMillis(now), userID, hash)
	return expectOne(res, err, store.ErrNotFound)
}

func (r *trustedDevicesRepo) ListTrustedDevices(ctx context.Context, userID string, now time.Time) ([]domain.TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, token_hash, device_name, expires_at, last_used_at, created_at
		FROM trusted_devices
		WHERE user_id = ? AND expires_at > ?
		ORDER BY last_used_at DESC`,
		userID, toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrustedDevice
	for rows.Next() {
		var (
			d                        domain.TrustedDevice
			expires, lastUsed, creat int64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.TokenHash, &d.DeviceName, &expires, &lastUsed, &creat); err != nil {
			return nil, err
		}
		d.ExpiresAt = fromMillis(expires)
		d.LastUsedAt = fromMillis(lastUsed)
		d.CreatedAt = fromMillis(creat)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *trustedDevicesRepo) DeleteTrustedDevice(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE id = ? AND user_id = ?`, id, userID)
	return expectOne(res, err, store.ErrNotFound)
}

func (r *trustedDevicesRepo) DeleteUserTrustedDevices(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE user_id = ?`, userID)
	return err
}

func (r *trustedDevicesRepo) DeleteExpiredTrustedDevices(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
