package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
)

func requestMeta(r *http.Request) service.RequestMeta {
	ua := r.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return service.RequestMeta{IP: httpx.ClientIP(r), UserAgent: ua}
}

// firstNonEmpty picks the body value over the header value.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func toUser(u domain.User) *authsdk.User {
	return &authsdk.User{
		ID:               u.ID,
		Email:            u.Email,
		DisplayName:      u.DisplayName,
		TwoFactorEnabled: u.TwoFactor,
		CreatedAt:        u.CreatedAt,
	}
}

func toAuthResponse(res service.AuthResult) authsdk.AuthResponse {
	return authsdk.AuthResponse{
		User:             toUser(res.User),
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  res.Tokens.AccessExpiresAt,
		RefreshExpiresAt: res.Tokens.RefreshExpiresAt,
		DeviceToken:      res.DeviceToken,
		RedirectURL:      res.RedirectURL,
	}
}

func toDevice(d domain.TrustedDevice) authsdk.Device {
	return authsdk.Device{
		ID:         d.ID,
		Name:       d.DeviceName,
		LastUsedAt: d.LastUsedAt,
		ExpiresAt:  d.ExpiresAt,
		CreatedAt:  d.CreatedAt,
	}
}
