package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/idx"
)

const DefaultMagicLinkTTL = 15 * time.Minute

// MagicLinkService issues and redeems single-use passwordless login links.
type MagicLinkService struct {
	Store     store.Store
	TTL       time.Duration
	PublicURL string

	// RedirectHosts limits where a link may send the browser afterwards.
	// Empty allows any absolute http(s) URL.
	RedirectHosts []string

	Now func() time.Time
}

func (s *MagicLinkService) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultMagicLinkTTL
	}
	return s.TTL
}

// ValidateRedirect accepts an empty redirect or an absolute http(s) URL on
// an allowed host.
func (s *MagicLinkService) ValidateRedirect(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return validationError("redirectUrl must be an absolute URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return validationError("redirectUrl must use http or https")
	}
	if len(s.RedirectHosts) > 0 && !slices.Contains(s.RedirectHosts, strings.ToLower(u.Hostname())) {
		return validationError("redirectUrl host is not allowed")
	}
	return nil
}

// Issue stores a new link for userID and returns the URL to email.
func (s *MagicLinkService) Issue(ctx context.Context, userID, redirectURL string) (string, time.Time, error) {
	now := clock(s.Now)

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(s.ttl())

	err = s.Store.MagicLinks().CreateMagicLink(ctx, domain.MagicLink{
		ID:          idx.NewAt(now).String(),
		UserID:      userID,
		TokenHash:   cryptox.FingerprintToken(token),
		RedirectURL: redirectURL,
		ExpiresAt:   exp,
		CreatedAt:   now,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store magic link: %w", err)
	}

	link := strings.TrimRight(s.PublicURL, "/") + "/auth/magic?token=" + url.QueryEscape(token)
	return link, exp, nil
}

// Consume redeems a link exactly once. The store does the check and the
// mark in one statement; the follow-up read only explains a failure.
func (s *MagicLinkService) Consume(ctx context.Context, token string) (domain.MagicLink, error) {
	if token == "" {
		return domain.MagicLink{}, ErrInvalidToken
	}
	now := clock(s.Now)
	hash := cryptox.FingerprintToken(token)

	l, err := s.Store.MagicLinks().ConsumeMagicLink(ctx, hash, now)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.MagicLink{}, err
	}

	l, err = s.Store.MagicLinks().GetMagicLinkByHash(ctx, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.MagicLink{}, ErrInvalidToken
	case err != nil:
		return domain.MagicLink{}, err
	case l.UsedAt != nil:
		return domain.MagicLink{}, ErrLinkUsed
	case !now.Before(l.ExpiresAt):
		return domain.MagicLink{}, ErrLinkExpired
	default:
		return domain.MagicLink{}, ErrLinkUsed
	}
}
