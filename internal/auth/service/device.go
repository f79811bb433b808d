package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
	"github.com/aussiebroadwan/shutter/internal/auth/store"
	"github.com/aussiebroadwan/shutter/pkg/cryptox"
	"github.com/aussiebroadwan/shutter/pkg/idx"
)

const (
	DefaultDeviceTrustTTL = 30 * 24 * time.Hour
	maxDeviceNameLen      = 100
)

// DeviceTrustService remembers devices that passed 2FA so later logins from
// them can skip the second factor.
type DeviceTrustService struct {
	Store store.Store
	TTL   time.Duration
	Now   func() time.Time
}

func (s *DeviceTrustService) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultDeviceTrustTTL
	}
	return s.TTL
}

// Save mints a device token for userID through repo (nil uses the store).
func (s *DeviceTrustService) Save(
	ctx context.Context,
	repo store.TrustedDevices,
	userID, deviceName string,
) (string, error) {
	if repo == nil {
		repo = s.Store.TrustedDevices()
	}
	now := clock(s.Now)

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	deviceName = strings.TrimSpace(deviceName)
	if len(deviceName) > maxDeviceNameLen {
		deviceName = deviceName[:maxDeviceNameLen]
	}
	if deviceName == "" {
		deviceName = "Unnamed device"
	}

	err = repo.CreateTrustedDevice(ctx, domain.TrustedDevice{
		ID:         idx.NewAt(now).String(),
		UserID:     userID,
		TokenHash:  cryptox.FingerprintToken(token),
		DeviceName: deviceName,
		ExpiresAt:  now.Add(s.ttl()),
		LastUsedAt: now,
		CreatedAt:  now,
	})
	if err != nil {
		return "", fmt.Errorf("store trusted device: %w", err)
	}
	return token, nil
}

// Verify reports whether token is an unexpired trusted device of exactly
// userID. A match refreshes last-used but never the expiry. Mismatched or
// expired tokens return false without error.
func (s *DeviceTrustService) Verify(ctx context.Context, userID, token string) (bool, error) {
	if userID == "" || token == "" {
		return false, nil
	}
	err := s.Store.TrustedDevices().TouchTrustedDevice(ctx, userID, cryptox.FingerprintToken(token), clock(s.Now))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *DeviceTrustService) List(ctx context.Context, userID string) ([]domain.TrustedDevice, error) {
	return s.Store.TrustedDevices().ListTrustedDevices(ctx, userID, clock(s.Now))
}

// Revoke removes one of the user's devices. Someone else's device id reads
// as not found.
func (s *DeviceTrustService) Revoke(ctx context.Context, userID, deviceID string) error {
	err := s.Store.TrustedDevices().DeleteTrustedDevice(ctx, userID, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
