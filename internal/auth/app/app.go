package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/shutter/internal/auth/http"
	"github.com/aussiebroadwan/shutter/internal/auth/notify"
	"github.com/aussiebroadwan/shutter/internal/auth/service"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	redisqr "github.com/aussiebroadwan/shutter/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/shutter/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/httpx"
	"github.com/aussiebroadwan/shutter/pkg/jwtx"
	"github.com/aussiebroadwan/shutter/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         store.Store
	rdb        *redis.Client // only with AUTH_QR_STORE=redis
	qrRepo     store.QRSessions
	keyManager *jwtx.KeyManager
	notifier   service.Notifier

	// Services
	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "shutter-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initQRStore(); err != nil {
		_ = app.closeStores()
		return nil, err
	}
	if err := app.initNotifier(); err != nil {
		_ = app.closeStores()
		return nil, err
	}

	keyManager, err := InitAuthKeys(app.cfg, app.logger)
	if err != nil {
		_ = app.closeStores()
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager

	if err := app.initServices(); err != nil {
		_ = app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting",
		"addr", app.cfg.Addr,
		"version", BuildVersion,
		"qr_store", app.cfg.QRStore,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeepingService.Stop()
			_ = app.closeStores()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGrace)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.authService.Drain(ctx); err != nil {
		app.logger.Error("shutdown before notifications were sent", "error", err)
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeStores() error {
	var errs []error
	if app.rdb != nil {
		if err := app.rdb.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
			errs = append(errs, err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initDatabase opens the SQLite store and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(app.cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		app.db = nil
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initQRStore picks where QR sessions live. Redis keeps the polling traffic
// off the database.
func (app *Application) initQRStore() error {
	if app.cfg.QRStore != QRStoreRedis {
		app.qrRepo = app.db.QRSessions()
		return nil
	}

	app.rdb = redis.NewClient(&redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
	}

	app.qrRepo = redisqr.NewQRSessions(app.rdb, app.cfg.QRRetention)
	app.logger.Info("qr sessions stored in redis", "addr", app.cfg.RedisAddr, "db", app.cfg.RedisDB)
	return nil
}

// initNotifier sends mail when SMTP is configured and logs otherwise.
func (app *Application) initNotifier() error {
	smtpCfg, err := notify.LoadSMTPConfig()
	if err != nil {
		return fmt.Errorf("failed to load SMTP configuration: %w", err)
	}
	if !smtpCfg.Enabled() {
		app.logger.Warn("SMTP_HOST not set, notifications are only logged")
		app.notifier = notify.Log{Logger: app.logger}
		return nil
	}

	mailer, err := notify.NewSMTP(smtpCfg)
	if err != nil {
		return fmt.Errorf("failed to configure SMTP: %w", err)
	}
	app.notifier = mailer
	app.logger.Info("smtp notifier configured", "host", smtpCfg.Host, "port", smtpCfg.Port)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}

	app.authService = &service.AuthService{
		Store: app.db,
		Users: &service.UserService{
			Store:  app.db,
			Hasher: cryptox.NewPasswordHasher(pepper),
		},
		Tokens: &service.TokenService{
			KeyManager:    app.keyManager,
			Store:         app.db,
			Issuer:        app.cfg.Issuer,
			Audience:      app.cfg.Audience,
			AccessTTL:     app.cfg.AccessTTL,
			RefreshTTL:    app.cfg.RefreshTTL,
			RotateRefresh: app.cfg.RotateRefresh,
		},
		TwoFactor: &service.TwoFactorService{
			Store:      app.db,
			Issuer:     "Shutter",
			SessionTTL: app.cfg.TwoFactorTTL,
			Skew:       uint(app.cfg.TOTPSkew), // #nosec G115 -- validated non-negative
			CodeCount:  app.cfg.BackupCodes,
		},
		QR: &service.QRService{
			Repo:      app.qrRepo,
			TTL:       app.cfg.QRTTL,
			PublicURL: app.cfg.PublicURL,
		},
		Links: &service.MagicLinkService{
			Store:         app.db,
			TTL:           app.cfg.MagicLinkTTL,
			PublicURL:     app.cfg.PublicURL,
			RedirectHosts: app.cfg.RedirectHosts,
		},
		Devices: &service.DeviceTrustService{
			Store: app.db,
			TTL:   app.cfg.DeviceTrustTTL,
		},
		Lockout: service.LockoutPolicy{
			Threshold: app.cfg.LockoutThreshold,
			Window:    app.cfg.LockoutWindow,
		},
		Notifier:       app.notifier,
		LowBackupCodes: app.cfg.LowBackupCodes,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.qrRepo,
		app.logger,
		app.cfg.SweepInterval,
	)
	app.housekeepingService.QRRetention = app.cfg.QRRetention

	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet,
		app.keyManager.Verifier,
		BuildVersion,
		app.db,
		app.authService,
		app.logger,
	)

	if repo, ok := app.qrRepo.(*redisqr.QRSessions); ok {
		router.QRStore = repo
	}
	if app.cfg.DisableRateLimits {
		app.logger.Warn("rate limits disabled")
		off := httpx.RateLimitConfig{RequestsPerWindow: math.MaxInt32, Window: time.Second, Burst: math.MaxInt32}
		router.Limits = httpapi.RouteLimits{Strict: off, Poll: off, Moderate: off}
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              app.cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
