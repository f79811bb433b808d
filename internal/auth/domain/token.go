package domain

import "time"

// TokenPair is what every successful login flow hands back.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string // empty when a refresh did not rotate
	RefreshExpiresAt time.Time
}

// RefreshToken models the stored refresh token record. Only the fingerprint
// of the signed token is kept.
type RefreshToken struct {
	ID        string // jti of the token
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
