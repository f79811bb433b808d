package authsdk

import (
	"context"
	"net/http"
)

// EnrollTwoFactor creates a TOTP secret. 2FA stays off until EnableTwoFactor
// confirms a code from it.
func (s *Session) EnrollTwoFactor(ctx context.Context) (*TwoFactorEnrollResponse, error) {
	var out TwoFactorEnrollResponse
	if err := s.do(ctx, http.MethodPost, "/v1/2fa/enroll", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableTwoFactor turns 2FA on and returns the backup codes. They are only
// ever shown here.
func (s *Session) EnableTwoFactor(ctx context.Context, code string) ([]string, error) {
	var out BackupCodesResponse
	if err := s.do(ctx, http.MethodPost, "/v1/2fa/enable", TwoFactorCodeRequest{Code: code}, &out); err != nil {
		return nil, err
	}
	return out.Codes, nil
}

func (s *Session) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	var out BackupCodesResponse
	if err := s.do(ctx, http.MethodPost, "/v1/2fa/backup-codes", TwoFactorCodeRequest{Code: code}, &out); err != nil {
		return nil, err
	}
	return out.Codes, nil
}

func (s *Session) DisableTwoFactor(ctx context.Context, code string) error {
	return s.do(ctx, http.MethodPost, "/v1/2fa/disable", TwoFactorCodeRequest{Code: code}, nil)
}
