package http

import (
	"net/http"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
)

// QRHandler serves the cross-device QR login. The initiating device creates,
// polls and may cancel a session; a signed-in device approves it.
type QRHandler struct {
	Auth *service.AuthService
}

// HandleCreate handles POST /v1/auth/qr/session
//
//	@Summary		Start a QR login
//	@Description	Creates a pending session and returns its QR code. The token is the initiator's proof of ownership
//	@Description	and is needed to cancel.
//	@Tags			QR
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.QRSessionRequest	false	"Device description"
//	@Success		200		{object}	authsdk.QRSessionResponse	"Session and QR image"
//	@Failure		429		{object}	authsdk.ErrorResponse		"Rate limited"
//	@Router			/v1/auth/qr/session [post].
func (h *QRHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.QRSessionRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	t, err := h.Auth.CreateQRSession(r.Context(), req.DeviceInfo, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.QRSessionResponse{
		SessionID: t.SessionID,
		Token:     t.Token,
		ExpiresAt: t.ExpiresAt,
		LoginURL:  t.LoginURL,
		QRImage:   t.QRImage,
	})
}

// HandleStatus handles GET /v1/auth/qr/status/{sessionId}
//
//	@Summary		Poll a QR login
//	@Description	Reports the session status. The first poll that sees it authenticated also receives the tokens.
//	@Description	Unknown sessions report not_found.
//	@Tags			QR
//	@Produce		json
//	@Param			sessionId	path		string						true	"Session ID"
//	@Success		200			{object}	authsdk.QRStatusResponse	"Status, plus tokens once"
//	@Failure		429			{object}	authsdk.ErrorResponse		"Rate limited"
//	@Router			/v1/auth/qr/status/{sessionId} [get].
func (h *QRHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	if len(id) > 64 {
		httpx.WriteJSON(w, http.StatusOK, authsdk.QRStatusResponse{Status: authsdk.QRStatusNotFound})
		return
	}

	poll, err := h.Auth.PollQRSession(r.Context(), id, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res := authsdk.QRStatusResponse{Status: qrStatus(poll.Status)}
	if poll.Result != nil {
		res.AuthResponse = toAuthResponse(*poll.Result)
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleApprove handles POST /v1/auth/qr/authenticate
//
//	@Summary		Approve a QR login
//	@Description	Called by a signed-in device after scanning the code. The session is bound to the bearer's user.
//	@Tags			QR
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.QRApproveRequest	true	"Scanned token"
//	@Success		200		{object}	authsdk.QRActionResponse	"Session authenticated"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Invalid access token or expired session"
//	@Failure		403		{object}	authsdk.ErrorResponse		"userId does not match the bearer"
//	@Failure		409		{object}	authsdk.ErrorResponse		"Session is no longer pending"
//	@Router			/v1/auth/qr/authenticate [post].
func (h *QRHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var req authsdk.QRApproveRequest
	if !decode(w, r, &req) {
		return
	}

	userID := httpx.UserID(r.Context())
	if req.UserID != "" && req.UserID != userID {
		authsdk.ErrForbidden.WithDetails(map[string]string{"userId": "does not match the access token"}).WriteError(w)
		return
	}

	q, err := h.Auth.ApproveQRSession(r.Context(), userID, req.Token, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.QRActionResponse{Status: qrStatus(q.Status)})
}

// HandleCancel handles POST /v1/auth/qr/cancel
//
//	@Summary		Cancel a QR login
//	@Description	Called by the initiating device with the token it received at creation.
//	@Tags			QR
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.QRCancelRequest		true	"Session ID and token"
//	@Success		200		{object}	authsdk.QRActionResponse	"Session cancelled"
//	@Failure		401		{object}	authsdk.ErrorResponse		"Unknown or expired session"
//	@Failure		409		{object}	authsdk.ErrorResponse		"Session is no longer pending"
//	@Router			/v1/auth/qr/cancel [post].
func (h *QRHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req authsdk.QRCancelRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Auth.CancelQRSession(r.Context(), req.SessionID, req.Token); err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.QRActionResponse{Status: authsdk.QRStatusCancelled})
}

func qrStatus(s domain.QRStatus) authsdk.QRStatus {
	return authsdk.QRStatus(s.String())
}
