package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/aussiebroadwan/shutter/pkg/slogx"

	_ "github.com/aussiebroadwan/shutter/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Pinger is anything readiness can check, such as the Redis client behind
// the QR session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouteLimits are the per-IP rate limits applied to route groups.
type RouteLimits struct {
	Strict   httpx.RateLimitConfig // credential checks
	Poll     httpx.RateLimitConfig // QR status polling
	Moderate httpx.RateLimitConfig // everything else
}

func DefaultRouteLimits() RouteLimits {
	return RouteLimits{
		Strict:   httpx.StrictLimit,
		Poll:     httpx.PollLimit,
		Moderate: httpx.ModerateLimit,
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.Store
	QRStore Pinger // optional, checked by /readyz when set
	Limits  RouteLimits

	Auth *service.AuthService
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	auth *service.AuthService,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		Limits:       DefaultRouteLimits(),
		Auth:         auth,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerQR()
	r.registerMagicLinks()
	r.registerUsers()
	r.registerTwoFactor()
	r.registerDevices()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Shutter Authentication Service API
//	@version		0.1.0
//	@description	Password, two-factor, QR cross-device and magic-link login for Shutter.
//	@description
//	@description				Access tokens are JWTs verifiable with the JWKS endpoint. Refresh tokens are rotated on use.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/shutter
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// public wraps h with a per-IP limit.
func (r *Router) public(h http.HandlerFunc, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h, httpx.RateLimitByIP(limit))
}

// secured requires a valid access token before the limit applies.
func (r *Router) secured(h http.HandlerFunc, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h,
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByIP(limit),
	)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Auth: r.Auth}

	r.Mux.Handle("POST /v1/auth/register", r.public(h.HandleRegister, r.Limits.Strict))
	r.Mux.Handle("POST /v1/auth/login", r.public(h.HandleLogin, r.Limits.Strict))
	r.Mux.Handle("POST /v1/auth/2fa/verify", r.public(h.HandleVerifyTwoFactor, r.Limits.Strict))
	r.Mux.Handle("POST /v1/auth/refresh", r.public(h.HandleRefresh, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/auth/logout", r.secured(h.HandleLogout, r.Limits.Moderate))
}

func (r *Router) registerQR() {
	h := &QRHandler{Auth: r.Auth}

	r.Mux.Handle("POST /v1/auth/qr/session", r.public(h.HandleCreate, r.Limits.Moderate))
	r.Mux.Handle("GET /v1/auth/qr/status/{sessionId}", r.public(h.HandleStatus, r.Limits.Poll))
	r.Mux.Handle("POST /v1/auth/qr/authenticate", r.secured(h.HandleApprove, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/auth/qr/cancel", r.public(h.HandleCancel, r.Limits.Moderate))
}

func (r *Router) registerMagicLinks() {
	h := &MagicLinkHandler{Auth: r.Auth}

	r.Mux.Handle("POST /v1/auth/magic-link", r.public(h.HandleRequest, r.Limits.Strict))
	r.Mux.Handle("POST /v1/auth/magic-link/verify", r.public(h.HandleVerify, r.Limits.Strict))
}

func (r *Router) registerUsers() {
	h := &UsersHandler{Auth: r.Auth}

	r.Mux.Handle("GET /v1/users/me", r.secured(h.HandleGetMe, r.Limits.Moderate))
	r.Mux.Handle("PATCH /v1/users/me", r.secured(h.HandleUpdateMe, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/users/me/password", r.secured(h.HandleChangePassword, r.Limits.Strict))
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{Auth: r.Auth}

	r.Mux.Handle("POST /v1/2fa/enroll", r.secured(h.HandleEnroll, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/2fa/enable", r.secured(h.HandleEnable, r.Limits.Strict))
	r.Mux.Handle("POST /v1/2fa/backup-codes", r.secured(h.HandleRegenerateBackupCodes, r.Limits.Strict))
	r.Mux.Handle("POST /v1/2fa/disable", r.secured(h.HandleDisable, r.Limits.Strict))
}

func (r *Router) registerDevices() {
	h := &DevicesHandler{Auth: r.Auth}

	r.Mux.Handle("GET /v1/devices", r.secured(h.HandleList, r.Limits.Moderate))
	r.Mux.Handle("DELETE /v1/devices/{id}", r.secured(h.HandleRevoke, r.Limits.Moderate))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /.well-known/jwks.json", JWKSHandler(r.keys))
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.QRStore, r.keys))
}
