package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := jwtx.NewClaims(jwtx.ClaimsParams{
		Subject:   "user-1",
		TokenType: jwtx.TokenTypeAccess,
		AMR:       []string{jwtx.AMRPassword},
		TTL:       jwtx.DefaultAccessTokenTTL,
		Issuer:    "shutter",
		Audience:  []string{"shutter-api"},
		Now:       now,
	})

	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, jwtx.TokenTypeAccess, c.TokenType)
	require.Equal(t, now.Add(15*time.Minute), c.ExpiresAt.Time)
	require.Equal(t, now, c.IssuedAt.Time)
	require.NotEmpty(t, c.ID)
}

func TestRequireType(t *testing.T) {
	c := &jwtx.Claims{TokenType: jwtx.TokenTypeRefresh}

	require.NoError(t, c.RequireType(jwtx.TokenTypeRefresh))
	require.ErrorIs(t, c.RequireType(jwtx.TokenTypeAccess), jwtx.ErrWrongTokenType)

	empty := &jwtx.Claims{}
	require.ErrorIs(t, empty.RequireType(jwtx.TokenTypeAccess), jwtx.ErrWrongTokenType)
}

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "shutter"}}

	require.NoError(t, c.ValidateIssuer("shutter"))
	require.NoError(t, c.ValidateIssuer(""))
	require.ErrorIs(t, c.ValidateIssuer("other"), jwtx.ErrIssuer)
}

func TestValidateAudience(t *testing.T) {
	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Audience: []string{"web", "mobile"}}}

	require.NoError(t, c.ValidateAudience([]string{"mobile"}))
	require.NoError(t, c.ValidateAudience(nil))
	require.ErrorIs(t, c.ValidateAudience([]string{"admin"}), jwtx.ErrAudience)
}

func TestValidateExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *jwt.NumericDate { return jwt.NewNumericDate(now.Add(d)) }

	tests := []struct {
		name   string
		claims jwtx.Claims
		leeway time.Duration
		want   error
	}{
		{"valid", jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: at(time.Minute)}}, 0, nil},
		{"expired", jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: at(-time.Minute)}}, 0, jwtx.ErrExpired},
		{"expires exactly now", jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: at(0)}}, 0, jwtx.ErrExpired},
		{"expired within leeway", jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: at(-10 * time.Second)}}, 30 * time.Second, nil},
		{"not yet valid", jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: at(time.Hour), NotBefore: at(time.Minute)}}, 0, jwtx.ErrNotYetValid},
		{"missing exp", jwtx.Claims{}, 0, jwtx.ErrInvalidClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.claims.ValidateExpiry(now, tt.leeway)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}
