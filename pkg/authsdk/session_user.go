package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Me returns the signed-in user.
func (s *Session) Me(ctx context.Context) (*User, error) {
	var u User
	if err := s.do(ctx, http.MethodGet, "/v1/users/me", nil, &u); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	return &u, nil
}

func (s *Session) UpdateProfile(ctx context.Context, displayName string) (*User, error) {
	var u User
	req := UpdateProfileRequest{DisplayName: displayName}
	if err := s.do(ctx, http.MethodPatch, "/v1/users/me", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword signs the user out everywhere, this session included:
// the server drops every refresh token of the account.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	req := ChangePasswordRequest{CurrentPassword: current, NewPassword: next}
	return s.do(ctx, http.MethodPost, "/v1/users/me/password", req, nil)
}

func (s *Session) ListDevices(ctx context.Context) ([]Device, error) {
	var out DevicesResponse
	if err := s.do(ctx, http.MethodGet, "/v1/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (s *Session) RevokeDevice(ctx context.Context, deviceID string) error {
	return s.do(ctx, http.MethodDelete, "/v1/devices/"+url.PathEscape(deviceID), nil, nil)
}

// ApproveQRSession signs in the device that showed the QR code as this
// session's user. token comes from the scanned login URL.
func (s *Session) ApproveQRSession(ctx context.Context, token string) (*QRActionResponse, error) {
	var out QRActionResponse
	if err := s.do(ctx, http.MethodPost, "/v1/auth/qr/authenticate", QRApproveRequest{Token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
