package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/aussiebroadwan/shutter/pkg/slogx"
)

type TokenService struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// RotateRefresh swaps the presented refresh token for a new one on every
	// refresh. When false only a new access token is minted.
	RotateRefresh bool

	Now func() time.Time
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return jwtx.DefaultRefreshTokenTTL
	}
	return s.RefreshTTL
}

// IssuePair signs an access and a refresh token for u and persists the
// refresh token's fingerprint through repo. Pass a transaction's repo to make
// issuance part of a larger atomic step; nil uses the store directly.
func (s *TokenService) IssuePair(
	ctx context.Context,
	repo store.RefreshTokens,
	u domain.User,
	amr []string,
) (domain.TokenPair, error) {
	if repo == nil {
		repo = s.Store.RefreshTokens()
	}
	now := clock(s.Now)
	amr = dedupe(amr)

	access, accessExp, err := s.signAccess(u, amr, now)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, refreshExp, err := s.mintRefresh(ctx, repo, u.ID, amr, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess checks a bearer token and insists it is an access token.
func (s *TokenService) VerifyAccess(raw string) (jwtx.Claims, error) {
	claims, err := s.KeyManager.Verifier.Verify(raw)
	if err != nil {
		return jwtx.Claims{}, mapTokenError(err)
	}
	if err := claims.RequireType(jwtx.TokenTypeAccess); err != nil {
		return jwtx.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new access token. The token must
// verify, be of refresh type and still be present and unexpired in the
// store for the user it names.
func (s *TokenService) Refresh(ctx context.Context, raw string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)
	now := clock(s.Now)

	claims, err := s.KeyManager.Verifier.Verify(raw)
	if err != nil {
		return domain.TokenPair{}, mapTokenError(err)
	}
	if err := claims.RequireType(jwtx.TokenTypeRefresh); err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	fp := cryptox.FingerprintToken(raw)
	row, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidToken
		}
		return domain.TokenPair{}, err
	}
	if row.UserID != claims.Subject {
		l.Warn("refresh token subject mismatch", slog.String("user_id", claims.Subject))
		return domain.TokenPair{}, ErrInvalidToken
	}
	if !now.Before(row.ExpiresAt) {
		return domain.TokenPair{}, ErrTokenExpired
	}

	u, err := s.Store.Users().GetUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidToken
		}
		return domain.TokenPair{}, err
	}

	amr := dedupe(append(slices.Clone(claims.AMR), jwtx.AMRRefresh))
	access, accessExp, err := s.signAccess(u, amr, now)
	if err != nil {
		return domain.TokenPair{}, err
	}
	pair := domain.TokenPair{AccessToken: access, AccessExpiresAt: accessExp}

	if !s.RotateRefresh {
		return pair, nil
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// Losing this delete means a concurrent refresh already rotated
		// the token, so this copy is spent.
		if err := tx.RefreshTokens().DeleteRefreshToken(ctx, row.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrInvalidToken
			}
			return err
		}
		var err error
		pair.RefreshToken, pair.RefreshExpiresAt, err = s.mintRefresh(ctx, tx.RefreshTokens(), u.ID, amr, now)
		return err
	})
	if err != nil {
		return domain.TokenPair{}, err
	}
	return pair, nil
}

// Logout deletes the presented refresh token if it belongs to userID.
// Unknown, foreign or already deleted tokens are not an error.
func (s *TokenService) Logout(ctx context.Context, userID, raw string) error {
	return s.Store.RefreshTokens().DeleteUserRefreshTokenByHash(ctx, userID, cryptox.FingerprintToken(raw))
}

func (s *TokenService) signAccess(u domain.User, amr []string, now time.Time) (string, time.Time, error) {
	claims := jwtx.NewClaims(jwtx.ClaimsParams{
		Subject:   u.ID,
		TokenType: jwtx.TokenTypeAccess,
		AMR:       amr,
		Email:     u.Email,
		Name:      u.DisplayName,
		TTL:       s.accessTTL(),
		Issuer:    s.Issuer,
		Audience:  s.Audience,
		Now:       now,
	})
	token, err := s.KeyManager.GetSigner().Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

func (s *TokenService) mintRefresh(
	ctx context.Context,
	repo store.RefreshTokens,
	userID string,
	amr []string,
	now time.Time,
) (string, time.Time, error) {
	claims := jwtx.NewClaims(jwtx.ClaimsParams{
		Subject:   userID,
		TokenType: jwtx.TokenTypeRefresh,
		AMR:       amr,
		TTL:       s.refreshTTL(),
		Issuer:    s.Issuer,
		Audience:  s.Audience,
		Now:       now,
	})
	token, err := s.KeyManager.GetSigner().Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}

	exp := claims.ExpiresAt.Time
	err = repo.CreateRefreshToken(ctx, domain.RefreshToken{
		ID:        claims.ID,
		UserID:    userID,
		TokenHash: cryptox.FingerprintToken(token),
		ExpiresAt: exp,
		CreatedAt: now,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh token: %w", err)
	}
	return token, exp, nil
}

// mapTokenError collapses verifier failures into the two errors callers see.
func mapTokenError(err error) error {
	if errors.Is(err, jwtx.ErrExpired) {
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidToken, err)
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
