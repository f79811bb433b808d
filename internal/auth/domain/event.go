package domain

import "time"

type AuthEventKind string

const (
	EventRegistered       AuthEventKind = "registered"
	EventLoginSucceeded   AuthEventKind = "login_succeeded"
	EventLoginFailed      AuthEventKind = "login_failed"
	EventAccountLocked    AuthEventKind = "account_locked"
	EventLoginWhileLocked AuthEventKind = "login_while_locked"
	EventTwoFactorFailed  AuthEventKind = "2fa_failed"
	EventBackupCodeUsed   AuthEventKind = "backup_code_used"
	EventDeviceTrusted    AuthEventKind = "device_trusted"
	EventQRApproved       AuthEventKind = "qr_approved"
	EventMagicLinkSent    AuthEventKind = "magic_link_sent"
	EventMagicLinkUsed    AuthEventKind = "magic_link_used"
	EventPasswordChanged  AuthEventKind = "password_changed"
	EventTwoFactorEnabled AuthEventKind = "2fa_enabled"
	EventTwoFactorOff     AuthEventKind = "2fa_disabled"
)

// AuthEvent is one row of the audit trail.
type AuthEvent struct {
	ID        string
	UserID    string // empty when the subject is unknown
	Kind      AuthEventKind
	IP        string
	UserAgent string
	Detail    string
	CreatedAt time.Time
}
