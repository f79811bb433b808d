// Package redis keeps QR login sessions in Redis so several auth replicas can
// share them. Everything else stays in the SQL store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "qr"
	pendingKey = keyPrefix + ":pending"
	maxRetries = 4

	// DefaultRetention is how long a session stays readable after it expired.
	DefaultRetention = time.Hour
)

// QRSessions implements store.QRSessions on top of a Redis hash per session,
// a token-hash index key and a sorted set of pending sessions by expiry.
type QRSessions struct {
	rdb       *redis.Client
	retention time.Duration
}

var _ store.QRSessions = (*QRSessions)(nil)

func NewQRSessions(rdb *redis.Client, retention time.Duration) *QRSessions {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &QRSessions{rdb: rdb, retention: retention}
}

// Ping checks the Redis connection.
func (s *QRSessions) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func sessionKey(id string) string { return keyPrefix + ":s:" + id }
func tokenKey(hash string) string { return keyPrefix + ":t:" + hash }

func ms(t time.Time) int64     { return t.UnixMilli() }
func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }

func optMs(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(ms(*t), 10)
}

func (s *QRSessions) CreateQRSession(ctx context.Context, q domain.QRSession) error {
	key := sessionKey(q.ID)
	evictAt := q.ExpiresAt.Add(s.retention)

	// The index key carries its eviction time from the start so a failed
	// write below cannot leave it behind forever.
	err := s.rdb.SetArgs(ctx, tokenKey(q.TokenHash), q.ID, redis.SetArgs{
		Mode:     "NX",
		ExpireAt: evictAt,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("redis: create qr session: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"token_hash":       q.TokenHash,
			"device_info":      q.DeviceInfo,
			"status":           q.Status.String(),
			"user_id":          q.UserID,
			"authenticated_at": optMs(q.AuthenticatedAt),
			"claimed_at":       optMs(q.ClaimedAt),
			"expires_at":       ms(q.ExpiresAt),
			"created_at":       ms(q.CreatedAt),
		})
		pipe.PExpireAt(ctx, key, evictAt)
		pipe.PExpireAt(ctx, tokenKey(q.TokenHash), evictAt)
		if q.Status == domain.QRPending {
			pipe.ZAdd(ctx, pendingKey, redis.Z{Score: float64(ms(q.ExpiresAt)), Member: q.ID})
		}
		return nil
	})
	if err != nil {
		_ = s.rdb.Del(context.WithoutCancel(ctx), tokenKey(q.TokenHash), key).Err()
		return fmt.Errorf("redis: create qr session: %w", err)
	}
	return nil
}

func (s *QRSessions) GetQRSession(ctx context.Context, id string) (domain.QRSession, error) {
	return load(ctx, s.rdb, id)
}

func (s *QRSessions) GetQRSessionByTokenHash(ctx context.Context, hash string) (domain.QRSession, error) {
	id, err := s.rdb.Get(ctx, tokenKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.QRSession{}, store.ErrNotFound
		}
		return domain.QRSession{}, err
	}
	return load(ctx, s.rdb, id)
}

func (s *QRSessions) ApproveQRSession(ctx context.Context, id, userID string, now time.Time) error {
	return s.transition(ctx, id, func(q domain.QRSession) (map[string]any, error) {
		if q.Status != domain.QRPending || !now.Before(q.ExpiresAt) {
			return nil, store.ErrConflict
		}
		return map[string]any{
			"status":           domain.QRAuthenticated.String(),
			"user_id":          userID,
			"authenticated_at": ms(now),
		}, nil
	})
}

func (s *QRSessions) CancelQRSession(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, func(q domain.QRSession) (map[string]any, error) {
		if q.Status != domain.QRPending || !now.Before(q.ExpiresAt) {
			return nil, store.ErrConflict
		}
		return map[string]any{"status": domain.QRCancelled.String()}, nil
	})
}

func (s *QRSessions) ExpireQRSession(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, func(q domain.QRSession) (map[string]any, error) {
		if q.Status != domain.QRPending || now.Before(q.ExpiresAt) {
			return nil, store.ErrConflict
		}
		return map[string]any{"status": domain.QRExpired.String()}, nil
	})
}

func (s *QRSessions) ClaimQRSession(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, func(q domain.QRSession) (map[string]any, error) {
		if q.Status != domain.QRAuthenticated || q.ClaimedAt != nil {
			return nil, store.ErrConflict
		}
		return map[string]any{"claimed_at": ms(now)}, nil
	})
}

// SweepQRSessions expires pending sessions past their expiry. Purging is left
// to key TTLs, so purged is always zero here.
func (s *QRSessions) SweepQRSessions(ctx context.Context, now, _ time.Time) (expired, purged int64, err error) {
	ids, err := s.rdb.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(ms(now), 10),
	}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: sweep qr sessions: %w", err)
	}

	for _, id := range ids {
		switch err := s.ExpireQRSession(ctx, id, now); {
		case err == nil:
			expired++
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
			// Already moved on or evicted; just drop it from the index.
			if err := s.rdb.ZRem(ctx, pendingKey, id).Err(); err != nil {
				return expired, 0, fmt.Errorf("redis: sweep qr sessions: %w", err)
			}
		default:
			return expired, 0, err
		}
	}
	return expired, 0, nil
}

// transition applies a conditional update under WATCH. decide sees the
// current record and returns the fields to write or store.ErrConflict.
func (s *QRSessions) transition(
	ctx context.Context,
	id string,
	decide func(q domain.QRSession) (map[string]any, error),
) error {
	key := sessionKey(id)

	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			q, err := load(ctx, tx, id)
			if err != nil {
				return err
			}

			fields, err := decide(q)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				if _, ok := fields["status"]; ok {
					pipe.ZRem(ctx, pendingKey, id)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return store.ErrConflict
}

// hashGetter is satisfied by *redis.Client and by *redis.Tx inside WATCH.
type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func load(ctx context.Context, c hashGetter, id string) (domain.QRSession, error) {
	fields, err := c.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return domain.QRSession{}, err
	}
	if len(fields) == 0 {
		return domain.QRSession{}, store.ErrNotFound
	}
	return decode(id, fields)
}

func decode(id string, f map[string]string) (domain.QRSession, error) {
	q := domain.QRSession{
		ID:         id,
		TokenHash:  f["token_hash"],
		DeviceInfo: f["device_info"],
		UserID:     f["user_id"],
	}

	var err error
	if q.Status, err = domain.ParseQRStatus(f["status"]); err != nil {
		return domain.QRSession{}, err
	}

	parse := func(name string) (*time.Time, error) {
		v := f[name]
		if v == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: qr session %s field %s: %w", id, name, err)
		}
		t := fromMs(n)
		return &t, nil
	}

	if q.AuthenticatedAt, err = parse("authenticated_at"); err != nil {
		return domain.QRSession{}, err
	}
	if q.ClaimedAt, err = parse("claimed_at"); err != nil {
		return domain.QRSession{}, err
	}
	exp, err := parse("expires_at")
	if err != nil || exp == nil {
		return domain.QRSession{}, fmt.Errorf("redis: qr session %s missing expiry", id)
	}
	q.ExpiresAt = *exp
	created, err := parse("created_at")
	if err != nil || created == nil {
		return domain.QRSession{}, fmt.Errorf("redis: qr session %s missing created_at", id)
	}
	q.CreatedAt = *created
	return q, nil
}
