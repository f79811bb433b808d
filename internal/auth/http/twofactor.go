package http

import (
	"net/http"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
)

// TwoFactorHandler manages TOTP enrolment and backup codes for the
// signed-in user.
type TwoFactorHandler struct {
	Auth *service.AuthService
}

// HandleEnroll handles POST /v1/2fa/enroll
//
//	@Summary		Start TOTP enrolment
//	@Description	Generates a secret and its otpauth URI. Two-factor stays off until confirmed with /v1/2fa/enable.
//	@Tags			Two-factor
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.TwoFactorEnrollResponse	"Secret, URI and QR image"
//	@Failure		401	{object}	authsdk.ErrorResponse			"Invalid or missing access token"
//	@Failure		409	{object}	authsdk.ErrorResponse			"Already enabled"
//	@Router			/v1/2fa/enroll [post].
func (h *TwoFactorHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	e, err := h.Auth.TwoFactor.Enroll(r.Context(), httpx.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.TwoFactorEnrollResponse{
		Secret:  e.Secret,
		URI:     e.URI,
		QRImage: e.QRImage,
	})
}

// HandleEnable handles POST /v1/2fa/enable
//
//	@Summary		Confirm TOTP enrolment
//	@Description	Enables two-factor with a code from the enrolled secret. Returns backup codes, shown only once.
//	@Tags			Two-factor
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.TwoFactorCodeRequest	true	"TOTP code"
//	@Success		200		{object}	authsdk.BackupCodesResponse		"Backup codes"
//	@Failure		400		{object}	authsdk.ErrorResponse			"Not enrolled"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid code"
//	@Failure		409		{object}	authsdk.ErrorResponse			"Already enabled"
//	@Router			/v1/2fa/enable [post].
func (h *TwoFactorHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TwoFactorCodeRequest
	if !decode(w, r, &req) {
		return
	}

	codes, err := h.Auth.EnableTwoFactor(r.Context(), httpx.UserID(r.Context()), req.Code, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.BackupCodesResponse{Codes: codes})
}

// HandleRegenerateBackupCodes handles POST /v1/2fa/backup-codes
//
//	@Summary		Regenerate backup codes
//	@Description	Replaces every backup code. Requires a current TOTP code.
//	@Tags			Two-factor
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.TwoFactorCodeRequest	true	"TOTP code"
//	@Success		200		{object}	authsdk.BackupCodesResponse		"New backup codes"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid code"
//	@Failure		409		{object}	authsdk.ErrorResponse			"Two-factor not enabled"
//	@Router			/v1/2fa/backup-codes [post].
func (h *TwoFactorHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TwoFactorCodeRequest
	if !decode(w, r, &req) {
		return
	}

	codes, err := h.Auth.TwoFactor.RegenerateBackupCodes(r.Context(), httpx.UserID(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.BackupCodesResponse{Codes: codes})
}

// HandleDisable handles POST /v1/2fa/disable
//
//	@Summary		Disable two-factor
//	@Description	Requires a current TOTP code. Backup codes and trusted devices are removed.
//	@Tags			Two-factor
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	authsdk.TwoFactorCodeRequest	true	"TOTP code"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse	"Invalid code"
//	@Failure		409	{object}	authsdk.ErrorResponse	"Two-factor not enabled"
//	@Router			/v1/2fa/disable [post].
func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TwoFactorCodeRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Auth.DisableTwoFactor(r.Context(), httpx.UserID(r.Context()), req.Code, requestMeta(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
