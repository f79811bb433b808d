package authsdk

import (
	"time"

	"github.com/aussiebroadwan/shutter/pkg/jwtx"
)

// ============================================================================
// Errors
// ============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error            string `json:"error" example:"invalid_credentials"`
	ErrorDescription string `json:"error_description" example:"invalid email or password"`

	// Details maps request fields to what is wrong with them.
	Details map[string]string `json:"details,omitempty"`
}

// ============================================================================
// Users
// ============================================================================

type User struct {
	ID               string    `json:"id" example:"01JTB8ZK3V8E6Q3M7Y4N2W9XCD"`
	Email            string    `json:"email" example:"alice@example.com"`
	DisplayName      string    `json:"displayName" example:"Alice"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=100"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
}

// ============================================================================
// Authentication
// ============================================================================

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254" example:"alice@example.com"`
	Password    string `json:"password" validate:"required,min=8,max=128" example:"Str0ngPass!"`
	DisplayName string `json:"displayName,omitempty" validate:"max=100" example:"Alice"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254" example:"alice@example.com"`
	Password string `json:"password" validate:"required,max=128" example:"Str0ngPass!"`

	// DeviceToken may also be sent in the X-Device-Token header.
	DeviceToken string `json:"deviceToken,omitempty"`
}

// AuthResponse is returned by every flow that ends in a signed-in user.
type AuthResponse struct {
	User             *User     `json:"user,omitempty"`
	AccessToken      string    `json:"accessToken,omitempty"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	TokenType        string    `json:"tokenType,omitempty" example:"Bearer"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt,omitzero"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt,omitzero"`

	// DeviceToken is set after a 2FA verification that asked to remember
	// the device. Send it on later logins to skip the second factor.
	DeviceToken string `json:"deviceToken,omitempty"`

	// RedirectURL is set when a magic link was requested with one.
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// LoginResponse either carries tokens or asks for a second factor.
type LoginResponse struct {
	AuthResponse

	Requires2FA      bool      `json:"requires2FA,omitempty"`
	SessionToken     string    `json:"sessionToken,omitempty"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt,omitzero"`
}

type TwoFactorVerifyRequest struct {
	// SessionToken may also be sent in the X-2FA-Session header.
	SessionToken   string `json:"sessionToken,omitempty"`
	Code           string `json:"code" validate:"required,max=32" example:"123456"`
	Method         string `json:"method,omitempty" validate:"omitempty,oneof=totp backup" example:"totp"`
	RememberDevice bool   `json:"rememberDevice,omitempty"`
	DeviceName     string `json:"deviceName,omitempty" validate:"max=100" example:"Alice's phone"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// RefreshResponse carries a new refresh token only when the server rotates
// them.
type RefreshResponse struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt,omitzero"`
	TokenType        string    `json:"tokenType" example:"Bearer"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ============================================================================
// QR login
// ============================================================================

// QRStatus is the state of a QR login session as seen by the initiator.
type QRStatus string

const (
	QRStatusPending       QRStatus = "pending"
	QRStatusAuthenticated QRStatus = "authenticated"
	QRStatusExpired       QRStatus = "expired"
	QRStatusCancelled     QRStatus = "cancelled"
	QRStatusNotFound      QRStatus = "not_found"
)

// Terminal reports whether polling can stop.
func (s QRStatus) Terminal() bool {
	return s != QRStatusPending
}

type QRSessionRequest struct {
	DeviceInfo string `json:"deviceInfo,omitempty" validate:"max=255" example:"Firefox on Linux"`
}

type QRSessionResponse struct {
	SessionID string    `json:"sessionId" example:"6f1c7b55-1f0c-4a4e-9b0a-7e3f2b8c9d10"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	LoginURL  string    `json:"loginUrl"`
	QRImage   string    `json:"qrImage" example:"data:image/png;base64,iVBORw0KGgo..."`
}

// QRStatusResponse carries tokens only on the first poll that sees the
// session authenticated.
type QRStatusResponse struct {
	Status QRStatus `json:"status" example:"pending"`
	AuthResponse
}

type QRApproveRequest struct {
	Token string `json:"token" validate:"required"`

	// UserID is optional and must match the bearer token when present.
	UserID string `json:"userId,omitempty"`
}

type QRCancelRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=64"`
	Token     string `json:"token" validate:"required"`
}

type QRActionResponse struct {
	Status QRStatus `json:"status"`
}

// ============================================================================
// Magic links
// ============================================================================

type MagicLinkRequest struct {
	Email       string `json:"email" validate:"required,max=254" example:"alice@example.com"`
	RedirectURL string `json:"redirectUrl,omitempty" validate:"omitempty,url,max=2048" example:"https://shutter.example/albums"`
}

type MagicLinkResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type MagicLinkVerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// ============================================================================
// Two-factor management
// ============================================================================

type TwoFactorEnrollResponse struct {
	Secret  string `json:"secret" example:"JBSWY3DPEHPK3PXP"`
	URI     string `json:"uri" example:"otpauth://totp/Shutter:alice@example.com?secret=JBSWY3DPEHPK3PXP&issuer=Shutter"`
	QRImage string `json:"qrImage"`
}

type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric" example:"123456"`
}

type BackupCodesResponse struct {
	Codes []string `json:"codes" example:"K7Q2M-9XH4D"`
}

// ============================================================================
// Devices
// ============================================================================

type Device struct {
	ID         string    `json:"id"`
	Name       string    `json:"name" example:"Alice's phone"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is returned by /livez and /readyz (readyz adds Checks).
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database string `json:"database"`
	QRStore  string `json:"qrStore"`
	Signer   string `json:"signer"`
}

// ============================================================================
// JWKS
// ============================================================================

// JWKSResponse contains the public keys that verify access tokens.
type JWKSResponse jwtx.JWKS
