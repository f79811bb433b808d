package domain

import (
	"fmt"
	"time"
)

// TwoFactorMethod selects how a 2FA challenge is answered.
type TwoFactorMethod string

const (
	TwoFactorTOTP   TwoFactorMethod = "totp"
	TwoFactorBackup TwoFactorMethod = "backup"
)

func ParseTwoFactorMethod(s string) (TwoFactorMethod, error) {
	switch m := TwoFactorMethod(s); m {
	case TwoFactorTOTP, TwoFactorBackup:
		return m, nil
	case "":
		return TwoFactorTOTP, nil
	default:
		return "", fmt.Errorf("unknown two-factor method %q", s)
	}
}

// TwoFactorSession is the pending challenge created after a correct password
// for an account with 2FA enabled. It is deleted as soon as it is answered.
type TwoFactorSession struct {
	ID        string
	UserID    string
	TokenHash string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TwoFactorEnrollment is returned when a user starts enabling 2FA.
type TwoFactorEnrollment struct {
	Secret  string
	URI     string // otpauth://
	QRImage string // data:image/png;base64,...
}
