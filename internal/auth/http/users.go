package http

import (
	"net/http"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
)

// UsersHandler serves the signed-in user's own account.
type UsersHandler struct {
	Auth *service.AuthService
}

// HandleGetMe handles GET /v1/users/me
//
//	@Summary		Current user
//	@Tags			Users
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.User			"The user"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/users/me [get].
func (h *UsersHandler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.Auth.Users.GetUserByID(r.Context(), httpx.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUser(u))
}

// HandleUpdateMe handles PATCH /v1/users/me
//
//	@Summary		Update profile
//	@Tags			Users
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.UpdateProfileRequest	true	"New display name"
//	@Success		200		{object}	authsdk.User					"The updated user"
//	@Failure		400		{object}	authsdk.ErrorResponse			"Invalid display name"
//	@Failure		401		{object}	authsdk.ErrorResponse			"Invalid or missing access token"
//	@Router			/v1/users/me [patch].
func (h *UsersHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req authsdk.UpdateProfileRequest
	if !decode(w, r, &req) {
		return
	}

	u, err := h.Auth.Users.UpdateProfile(r.Context(), httpx.UserID(r.Context()), req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUser(u))
}

// HandleChangePassword handles POST /v1/users/me/password
//
//	@Summary		Change password
//	@Description	Requires the current password. Every refresh token of the user is revoked.
//	@Tags			Users
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	authsdk.ChangePasswordRequest	true	"Current and new password"
//	@Success		204
//	@Failure		400	{object}	authsdk.ErrorResponse	"Weak new password"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Wrong current password"
//	@Router			/v1/users/me/password [post].
func (h *UsersHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.Auth.ChangePassword(r.Context(), httpx.UserID(r.Context()), req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
