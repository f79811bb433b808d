package domain

import "time"

// TrustedDevice lets a device skip the 2FA step for a user until ExpiresAt.
// LastUsedAt moves on every successful check, ExpiresAt never does.
type TrustedDevice struct {
	ID         string
	UserID     string
	TokenHash  string
	DeviceName string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}
