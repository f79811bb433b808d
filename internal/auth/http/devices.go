package http

import (
	"net/http"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
)

// DevicesHandler lists and revokes the devices trusted to skip 2FA.
type DevicesHandler struct {
	Auth *service.AuthService
}

// HandleList handles GET /v1/devices
//
//	@Summary		Trusted devices
//	@Tags			Devices
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.DevicesResponse	"Unexpired trusted devices"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/devices [get].
func (h *DevicesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Auth.Devices.List(r.Context(), httpx.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res := authsdk.DevicesResponse{Devices: make([]authsdk.Device, 0, len(devices))}
	for _, d := range devices {
		res.Devices = append(res.Devices, toDevice(d))
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleRevoke handles DELETE /v1/devices/{id}
//
//	@Summary		Revoke a trusted device
//	@Tags			Devices
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Device ID"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse	"Invalid or missing access token"
//	@Failure		404	{object}	authsdk.ErrorResponse	"No such device for this user"
//	@Router			/v1/devices/{id} [delete].
func (h *DevicesHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Devices.Revoke(r.Context(), httpx.UserID(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
