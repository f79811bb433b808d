package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
)

type authEventsRepo struct {
	db dbtx
}

func (r *authEventsRepo) RecordAuthEvent(ctx context.Context, e domain.AuthEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_events (id, user_id, kind, ip, user_agent, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, toNullString(e.UserID), string(e.Kind), e.IP, e.UserAgent, e.Detail, toMillis(e.CreatedAt))
	return err
}

// ListAuthEvents returns the newest events first.
func (r *authEventsRepo) ListAuthEvents(ctx context.Context, userID string, limit int) ([]domain.AuthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, kind, ip, user_agent, detail, created_at
		FROM auth_events WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuthEvent
	for rows.Next() {
		var (
			e       domain.AuthEvent
			uid     sql.NullString
			kind    string
			created int64
		)
		if err := rows.Scan(&e.ID, &uid, &kind, &e.IP, &e.UserAgent, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.UserID = uid.String
		e.Kind = domain.AuthEventKind(kind)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
