package httpx

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/aussiebroadwan/shutter/pkg/slogx"
)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthnMiddleware only lets requests through that carry a valid access token.
// Refresh tokens are rejected here even though their signature is fine.
func AuthnMiddleware(v jwtx.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				log.Debug("access token rejected", "err", err)
				writeBearerError(w, "the access token is invalid or expired")
				return
			}
			if err := claims.RequireType(jwtx.TokenTypeAccess); err != nil {
				log.Warn("non-access token presented as bearer", "sub", claims.Subject, "typ", claims.TokenType)
				writeBearerError(w, "the access token is invalid or expired")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
		})
	}
}

// RFC 6750 challenge plus the same JSON error body the rest of the API uses.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": desc,
	})
}
