package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/shutter/pkg/jwtx"
)

// InitAuthKeys creates a KeyManager with the configured algorithm.
//
// Keys are generated on startup and held only in memory. Every token issued
// by a previous process fails verification after a restart, so clients fall
// back to logging in again. Access tokens are short lived and refresh tokens
// are also rows in the store, so nothing else needs to survive.
//
// Supported algorithms: EdDSA, ES256
func InitAuthKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	logger.Info("initializing ephemeral key manager",
		"algorithm", cfg.Algorithm,
		"num_keys", cfg.NumKeys,
	)

	keyManager, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		NumKeys:   cfg.NumKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
	}

	logger.Info("generated ephemeral signing keys",
		"algorithm", keyManager.Algorithm(),
		"num_keys", keyManager.NumSigners(),
		"issuer", cfg.Issuer,
	)
	logger.Warn("tokens issued before this start are no longer valid")

	return keyManager, nil
}
