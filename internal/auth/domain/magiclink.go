package domain

import "time"

type MagicLink struct {
	ID          string
	UserID      string
	TokenHash   string
	RedirectURL string
	ExpiresAt   time.Time
	UsedAt      *time.Time
	CreatedAt   time.Time
}
