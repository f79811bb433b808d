package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenType says what a token may be used for. A token is only accepted in
// the context matching its type.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Authentication Methods Reference values carried in the "amr" claim.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRBackup   = "backup"
	AMRMFA      = "mfa"
	AMRDevice   = "device"
	AMRQR       = "qr"
	AMRMagic    = "magic"
	AMRRefresh  = "refresh"
)

// Claims are the claims shared by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims

	TokenType TokenType `json:"token_type"`

	// AMR lists how the subject authenticated, e.g. ["pwd","otp","mfa"].
	AMR []string `json:"amr,omitempty"`

	// Email and Name are only set on access tokens.
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ClaimsParams is the input for NewClaims.
type ClaimsParams struct {
	Subject   string
	TokenType TokenType
	AMR       []string
	Email     string
	Name      string
	TTL       time.Duration
	Issuer    string
	Audience  []string
	Now       time.Time
}

// NewClaims builds minimally-correct claims with a fresh jti.
func NewClaims(p ClaimsParams) Claims {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
			ID:        NewJTI(),
		},
		TokenType: p.TokenType,
		AMR:       p.AMR,
		Email:     p.Email,
		Name:      p.Name,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// RequireType rejects a token presented in the wrong context, e.g. a refresh
// token sent as a bearer access token.
func (c *Claims) RequireType(want TokenType) error {
	if c.TokenType != want {
		return ErrWrongTokenType
	}
	return nil
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used before
// nbf, allowing leeway for clock skew.
func (c *Claims) ValidateExpiry(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
