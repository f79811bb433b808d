package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation         = errors.New("validation_error")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountLocked      = errors.New("account_locked")

	ErrInvalidTwoFactorCode    = errors.New("invalid_2fa_code")
	ErrTwoFactorAlreadyEnabled = errors.New("2fa_already_enabled")
	ErrTwoFactorNotEnabled     = errors.New("2fa_not_enabled")

	// Session errors cover 2FA and QR sessions. The HTTP layer renders both
	// the same way so callers cannot tell "never existed" from "expired".
	ErrSessionExpired  = errors.New("session_expired")
	ErrSessionNotFound = errors.New("session_not_found")

	ErrQRSessionNotPending = errors.New("qr_session_not_pending")

	ErrTokenExpired = errors.New("token_expired")
	ErrInvalidToken = errors.New("invalid_token")

	ErrLinkExpired = errors.New("magic_link_expired")
	ErrLinkUsed    = errors.New("magic_link_used")

	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not_found")
)

// LockedError is returned while an account sits inside its lockout window.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// validationError carries a human readable reason and matches ErrValidation.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}
