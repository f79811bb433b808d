package http

import (
	"net/http"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
)

const magicLinkSent = "If the address belongs to an account, a sign-in link is on its way."

type MagicLinkHandler struct {
	Auth *service.AuthService
}

// HandleRequest handles POST /v1/auth/magic-link
//
//	@Summary		Request a magic link
//	@Description	Emails a single-use sign-in link. The answer is the same whether or not the address is registered.
//	@Tags			Magic link
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MagicLinkRequest	true	"Email and optional redirect"
//	@Success		200		{object}	authsdk.MagicLinkResponse	"Acknowledged"
//	@Failure		400		{object}	authsdk.ErrorResponse		"Invalid email or redirect"
//	@Failure		429		{object}	authsdk.ErrorResponse		"Rate limited"
//	@Router			/v1/auth/magic-link [post].
func (h *MagicLinkHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MagicLinkRequest
	if !decode(w, r, &req) {
		return
	}

	exp, err := h.Auth.RequestMagicLink(r.Context(), req.Email, req.RedirectURL, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MagicLinkResponse{
		Message:   magicLinkSent,
		ExpiresAt: exp,
	})
}

// HandleVerify handles POST /v1/auth/magic-link/verify
//
//	@Summary		Sign in with a magic link
//	@Description	Consumes the link token and returns tokens, plus the redirect URL it was requested with.
//	@Tags			Magic link
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MagicLinkVerifyRequest	true	"Link token"
//	@Success		200		{object}	authsdk.AuthResponse			"User and tokens"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid, used or expired link"
//	@Failure		429		{object}	authsdk.ErrorResponse			"Rate limited"
//	@Router			/v1/auth/magic-link/verify [post].
func (h *MagicLinkHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MagicLinkVerifyRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Auth.VerifyMagicLink(r.Context(), req.Token, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAuthResponse(res))
}
