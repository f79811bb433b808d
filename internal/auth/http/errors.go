package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/slogx"
)

// writeError maps a service error onto the API error it is shown as.
// Unexpected errors are logged and hidden behind server_error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apiError(err, time.Now())
	if apiErr.StatusCode == http.StatusInternalServerError {
		slogx.FromContext(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	apiErr.WriteError(w)
}

func apiError(err error, now time.Time) *authsdk.APIError {
	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		return authsdk.ErrAccountLocked.WithRetryAfter(max(locked.Until.Sub(now), time.Second))

	case errors.Is(err, service.ErrValidation):
		return authsdk.ErrValidation.WithDetails(map[string]string{"reason": reason(err)})

	case errors.Is(err, service.ErrInvalidCredentials):
		return authsdk.ErrInvalidCredentials

	case errors.Is(err, service.ErrInvalidTwoFactorCode):
		return authsdk.ErrInvalid2FACode

	case errors.Is(err, service.ErrSessionExpired), errors.Is(err, service.ErrSessionNotFound):
		return authsdk.ErrSessionExpired

	case errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrLinkExpired),
		errors.Is(err, service.ErrLinkUsed):
		return authsdk.ErrInvalidToken

	case errors.Is(err, service.ErrQRSessionNotPending),
		errors.Is(err, service.ErrConflict):
		return authsdk.ErrConflict

	case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
		return authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeConflict, "two-factor authentication is already enabled")

	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		return authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeConflict, "two-factor authentication is not enabled")

	case errors.Is(err, service.ErrNotFound):
		return authsdk.ErrNotFound

	default:
		return authsdk.ErrServerError
	}
}

// reason strips the sentinel prefix off a validation error.
func reason(err error) string {
	msg := err.Error()
	prefix := service.ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
