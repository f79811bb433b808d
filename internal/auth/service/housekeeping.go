package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/store"
)

// DefaultQRRetention is how long finished QR sessions stay readable after
// expiry.
const DefaultQRRetention = time.Hour

// HousekeepingService periodically expires stale QR sessions and deletes
// expired challenges, links, devices and refresh tokens. Every read path
// checks expiry itself, so this only keeps tables small.
type HousekeepingService struct {
	Store    store.Store
	QR       store.QRSessions
	Logger   *slog.Logger
	Interval time.Duration

	// QRRetention overrides DefaultQRRetention.
	QRRetention time.Duration

	Now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 5 minutes.
func NewHousekeepingService(st store.Store, qr store.QRSessions, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if qr == nil {
		qr = st.QRSessions()
	}

	return &HousekeepingService{
		Store:    st,
		QR:       qr,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until the worker has finished any in-progress sweep.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) qrRetention() time.Duration {
	if s.QRRetention <= 0 {
		return DefaultQRRetention
	}
	return s.QRRetention
}

// SweepResult counts what one sweep touched.
type SweepResult struct {
	QRExpired         int64
	QRPurged          int64
	TwoFactorSessions int64
	MagicLinks        int64
	TrustedDevices    int64
	RefreshTokens     int64
}

// Sweep runs one cleanup pass. Each step is independent; a failure in one
// is logged and the rest still run. Running it twice, or on two instances
// at once, is harmless.
func (s *HousekeepingService) Sweep(ctx context.Context) SweepResult {
	now := clock(s.Now)
	var res SweepResult

	step := func(name string, fn func() (int64, error), into *int64) {
		n, err := fn()
		if err != nil {
			s.Logger.Error("housekeeping step failed", "step", name, "error", err)
			return
		}
		*into = n
	}

	expired, purged, err := s.QR.SweepQRSessions(ctx, now, now.Add(-s.qrRetention()))
	if err != nil {
		s.Logger.Error("housekeeping step failed", "step", "qr_sessions", "error", err)
	} else {
		res.QRExpired, res.QRPurged = expired, purged
	}

	step("two_factor_sessions", func() (int64, error) {
		return s.Store.TwoFactorSessions().DeleteExpiredTwoFactorSessions(ctx, now)
	}, &res.TwoFactorSessions)

	// Used links are kept until expiry so a replay reads as "used".
	step("magic_links", func() (int64, error) {
		return s.Store.MagicLinks().DeleteExpiredMagicLinks(ctx, now)
	}, &res.MagicLinks)

	step("trusted_devices", func() (int64, error) {
		return s.Store.TrustedDevices().DeleteExpiredTrustedDevices(ctx, now)
	}, &res.TrustedDevices)

	step("refresh_tokens", func() (int64, error) {
		return s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
	}, &res.RefreshTokens)

	s.Logger.Debug("housekeeping sweep completed",
		"qr_expired", res.QRExpired,
		"qr_purged", res.QRPurged,
		"two_factor_sessions", res.TwoFactorSessions,
		"magic_links", res.MagicLinks,
		"trusted_devices", res.TrustedDevices,
		"refresh_tokens", res.RefreshTokens,
	)
	return res
}
