package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/slogx"
	"github.com/google/uuid"
)

const (
	DefaultQRSessionTTL = 5 * time.Minute
	maxDeviceInfoLen    = 255
)

// QRTicket is what the initiating device gets back when it opens a QR login.
type QRTicket struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
	LoginURL  string
	QRImage   string
}

// QRService runs the cross-device QR login state machine. Sessions may live
// in the SQL store or in Redis; Repo picks which.
type QRService struct {
	Repo      store.QRSessions
	TTL       time.Duration
	PublicURL string // base of the URL encoded into the QR code
	Now       func() time.Time
}

func (s *QRService) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultQRSessionTTL
	}
	return s.TTL
}

// Create opens a PENDING session for the initiating device.
func (s *QRService) Create(ctx context.Context, deviceInfo string) (QRTicket, error) {
	now := clock(s.Now)

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return QRTicket{}, err
	}

	deviceInfo = strings.TrimSpace(deviceInfo)
	if len(deviceInfo) > maxDeviceInfoLen {
		deviceInfo = deviceInfo[:maxDeviceInfoLen]
	}

	q := domain.QRSession{
		ID:         uuid.NewString(),
		TokenHash:  cryptox.FingerprintToken(token),
		DeviceInfo: deviceInfo,
		Status:     domain.QRPending,
		ExpiresAt:  now.Add(s.ttl()),
		CreatedAt:  now,
	}
	if err := s.Repo.CreateQRSession(ctx, q); err != nil {
		return QRTicket{}, fmt.Errorf("create qr session: %w", err)
	}

	loginURL := s.loginURL(token)
	img, err := qrDataURI(loginURL)
	if err != nil {
		return QRTicket{}, err
	}

	return QRTicket{
		SessionID: q.ID,
		Token:     token,
		ExpiresAt: q.ExpiresAt,
		LoginURL:  loginURL,
		QRImage:   img,
	}, nil
}

func (s *QRService) loginURL(token string) string {
	base := strings.TrimRight(s.PublicURL, "/")
	return base + "/qr?token=" + url.QueryEscape(token)
}

// Approve binds a pending session to userID. Only an unexpired PENDING
// session moves; everything else is rejected without touching it.
func (s *QRService) Approve(ctx context.Context, token, userID string) (domain.QRSession, error) {
	now := clock(s.Now)

	q, err := s.Repo.GetQRSessionByTokenHash(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.QRSession{}, ErrSessionNotFound
		}
		return domain.QRSession{}, err
	}

	if err := s.Repo.ApproveQRSession(ctx, q.ID, userID, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.QRSession{}, s.classify(ctx, q.ID, now)
		}
		return domain.QRSession{}, err
	}

	q.Status = domain.QRAuthenticated
	q.UserID = userID
	q.AuthenticatedAt = &now
	return q, nil
}

// Cancel is called by the initiator, which proves ownership with the token
// it received at creation.
func (s *QRService) Cancel(ctx context.Context, sessionID, token string) error {
	now := clock(s.Now)

	q, err := s.Repo.GetQRSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if subtle.ConstantTimeCompare([]byte(q.TokenHash), []byte(cryptox.FingerprintToken(token))) != 1 {
		return ErrSessionNotFound
	}

	if err := s.Repo.CancelQRSession(ctx, q.ID, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.classify(ctx, q.ID, now)
		}
		return err
	}
	return nil
}

// Status reads a session for polling. A pending session whose expiry has
// passed is moved to EXPIRED on the way out; that is the only write.
// Unknown ids come back with status QRNotFound and no error.
func (s *QRService) Status(ctx context.Context, sessionID string) (domain.QRSession, error) {
	now := clock(s.Now)

	q, err := s.Repo.GetQRSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.QRSession{ID: sessionID, Status: domain.QRNotFound}, nil
		}
		return domain.QRSession{}, err
	}

	if q.Status == domain.QRPending && q.StatusAt(now) == domain.QRExpired {
		switch err := s.Repo.ExpireQRSession(ctx, q.ID, now); {
		case errors.Is(err, store.ErrConflict):
			// Approved, cancelled or expired by someone else in between, or
			// the store gave up under contention. Report what is there now.
			return s.reread(ctx, sessionID, now)
		case err != nil:
			slogx.FromContext(ctx).Error("failed to persist qr expiry",
				slog.String("session_id", q.ID), slog.Any("error", err))
		}
		q.Status = domain.QRExpired
	}
	return q, nil
}

// reread loads a session once more after a lost expiry write. A row still
// PENDING past its expiry is reported as expired without another write.
func (s *QRService) reread(ctx context.Context, sessionID string, now time.Time) (domain.QRSession, error) {
	q, err := s.Repo.GetQRSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.QRSession{ID: sessionID, Status: domain.QRNotFound}, nil
		}
		return domain.QRSession{}, err
	}
	q.Status = q.StatusAt(now)
	return q, nil
}

// Claim marks the tokens of an authenticated session as handed out. It
// succeeds for exactly one caller; everyone else gets ErrConflict.
func (s *QRService) Claim(ctx context.Context, sessionID string) error {
	err := s.Repo.ClaimQRSession(ctx, sessionID, clock(s.Now))
	if errors.Is(err, store.ErrConflict) {
		return ErrConflict
	}
	return err
}

// classify explains why a conditional transition on id did not apply.
func (s *QRService) classify(ctx context.Context, id string, now time.Time) error {
	q, err := s.Repo.GetQRSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if q.StatusAt(now) == domain.QRExpired {
		if q.Status == domain.QRPending {
			_ = s.Repo.ExpireQRSession(ctx, id, now)
		}
		return ErrSessionExpired
	}
	return fmt.Errorf("%w: %s", ErrQRSessionNotPending, q.Status)
}
