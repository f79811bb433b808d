package http

import (
	"net/http"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
)

// AuthHandler serves password login, the 2FA challenge and the token
// lifecycle.
type AuthHandler struct {
	Auth *service.AuthService
}

// HandleRegister handles POST /v1/auth/register
//
//	@Summary		Register
//	@Description	Creates an account and signs it in.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RegisterRequest	true	"Email, password and optional display name"
//	@Success		201		{object}	authsdk.AuthResponse	"User and tokens"
//	@Failure		400		{object}	authsdk.ErrorResponse	"Invalid email or weak password"
//	@Failure		409		{object}	authsdk.ErrorResponse	"Email already registered"
//	@Failure		429		{object}	authsdk.ErrorResponse	"Rate limited"
//	@Router			/v1/auth/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Auth.Register(r.Context(), req.Email, req.Password, req.DisplayName, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toAuthResponse(res))
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Password login
//	@Description	Checks the password. Users with two-factor enabled get a 2FA session token instead of tokens,
//	@Description	unless a valid device token is sent in the body or the X-Device-Token header.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request			body		authsdk.LoginRequest	true	"Credentials"
//	@Param			X-Device-Token	header		string					false	"Trusted device token"
//	@Success		200				{object}	authsdk.LoginResponse	"Tokens or a 2FA challenge"
//	@Failure		400				{object}	authsdk.ErrorResponse	"Invalid request"
//	@Failure		401				{object}	authsdk.ErrorResponse	"Invalid credentials"
//	@Failure		423				{object}	authsdk.ErrorResponse	"Account locked"
//	@Failure		429				{object}	authsdk.ErrorResponse	"Rate limited"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Auth.Login(r.Context(), service.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		DeviceToken: firstNonEmpty(req.DeviceToken, r.Header.Get(authsdk.HeaderDeviceToken)),
	}, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if res.Requires2FA {
		httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{
			Requires2FA:      true,
			SessionToken:     res.SessionToken,
			SessionExpiresAt: res.SessionExpiresAt,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{AuthResponse: toAuthResponse(res.AuthResult)})
}

// HandleVerifyTwoFactor handles POST /v1/auth/2fa/verify
//
//	@Summary		Answer a 2FA challenge
//	@Description	Completes a login with a TOTP or backup code. The session token comes from the body or the X-2FA-Session header.
//	@Description	With rememberDevice set the response carries a device token that skips 2FA on later logins.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request			body		authsdk.TwoFactorVerifyRequest	true	"Code and method"
//	@Param			X-2FA-Session	header		string							false	"2FA session token"
//	@Success		200				{object}	authsdk.AuthResponse			"User and tokens"
//	@Failure		400				{object}	authsdk.ErrorResponse			"Invalid request"
//	@Failure		401				{object}	authsdk.ErrorResponse			"Invalid code or expired session"
//	@Failure		429				{object}	authsdk.ErrorResponse			"Rate limited"
//	@Router			/v1/auth/2fa/verify [post].
func (h *AuthHandler) HandleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TwoFactorVerifyRequest
	if !decode(w, r, &req) {
		return
	}

	session := firstNonEmpty(req.SessionToken, r.Header.Get(authsdk.HeaderTwoFactorSession))
	if session == "" {
		authsdk.ErrValidation.WithDetails(map[string]string{"sessionToken": "is required"}).WriteError(w)
		return
	}

	method := req.Method
	if method == "" {
		method = "totp"
	}

	res, err := h.Auth.VerifyTwoFactor(r.Context(), service.TwoFactorInput{
		SessionToken:   session,
		Code:           req.Code,
		Method:         method,
		RememberDevice: req.RememberDevice,
		DeviceName:     req.DeviceName,
	}, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAuthResponse(res))
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Refresh tokens
//	@Description	Exchanges a refresh token for a new access token. When rotation is on, the refresh token is replaced
//	@Description	and the old one stops working.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.RefreshResponse	"New tokens"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid, expired or revoked refresh token"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	pair, err := h.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RefreshResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		TokenType:        "Bearer",
	})
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Logout
//	@Description	Revokes the refresh token. Unknown or already revoked tokens are accepted.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	authsdk.LogoutRequest	true	"Refresh token"
//	@Produce		json
//	@Success		200		{object}	authsdk.MessageResponse	"Logged out"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LogoutRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Auth.Logout(r.Context(), httpx.UserID(r.Context()), req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "logged out"})
}
