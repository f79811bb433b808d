package domain

import (
	"strings"
	"time"
)

type User struct {
	ID              string
	Email           string // always lowercased
	DisplayName     string
	PasswordHash    string  // argon2id PHC string
	TwoFactorSecret *string // base32 TOTP secret, set at enrolment
	TwoFactor       bool    // enabled once the first code was confirmed
	FailedAttempts  int
	LockedUntil     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsLocked reports whether the account is inside a lockout window at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// NormalizeEmail is the only form in which emails are stored or compared.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
