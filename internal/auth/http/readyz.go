package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/authsdk"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
)

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe returning the status of the database, the QR session store and the token signer.
//	@Description	The QR store reports "ok" when sessions live in the database.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	qr Pinger,
	keys *jwtx.KeySet,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Database: "ok",
			QRStore:  "ok",
			Signer:   "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		degrade := func(field *string, msg string) {
			*field = "error: " + msg
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := st.Ping(r.Context()); err != nil {
			degrade(&checks.Database, err.Error())
		}

		if qr != nil {
			if err := qr.Ping(r.Context()); err != nil {
				degrade(&checks.QRStore, err.Error())
			}
		}

		if !keys.IsReady() {
			degrade(&checks.Signer, "no keys loaded")
		}

		httpx.WriteJSON(w, statusCode, authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
