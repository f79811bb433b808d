package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// QR session stores.
const (
	QRStoreSQLite = "sqlite"
	QRStoreRedis  = "redis"
)

type Config struct {
	Addr      string   // HTTP listen address (default: :8080)
	DBDSN     string   // SQLite DSN (default: file:shutter.db)
	Issuer    string   // iss claim on every token
	Audience  []string // aud claim; empty disables the check
	Algorithm string   // EdDSA or ES256 (default: EdDSA)
	NumKeys   int      // signing keys generated at startup (default: 2)

	PepperFile string // created on first start when missing (default: ./pepper)
	PublicURL  string // base for QR login and magic link URLs

	AccessTTL         time.Duration // default: 15m
	RefreshTTL        time.Duration // default: 168h
	RotateRefresh     bool          // default: true
	TwoFactorTTL      time.Duration // default: 10m
	QRTTL             time.Duration // default: 5m
	MagicLinkTTL      time.Duration // default: 15m
	DeviceTrustTTL    time.Duration // default: 720h
	LockoutThreshold  int           // default: 5
	LockoutWindow     time.Duration // default: 30m
	TOTPSkew          int           // default: 1
	BackupCodes       int           // default: 10
	LowBackupCodes    int           // default: 2
	RedirectHosts     []string      // magic link redirect allowlist; empty allows any
	SweepInterval     time.Duration // housekeeping interval (default: 5m)
	QRRetention       time.Duration // how long finished QR sessions stay readable (default: 1h)
	ShutdownGrace     time.Duration // default: 10s
	DisableRateLimits bool          // for load tests only (default: false)
	QRStore           string        // sqlite or redis (default: sqlite)
	RedisAddr         string        // required when QRStore is redis
	RedisPassword     string
	RedisDB           int
	Env               string // dev, staging, prod (default: dev)
	LogLevel          string // debug, info, warn, error (default: info)
	LogFormat         string // json, text (default: json)
}

func LoadConfig() Config {
	return Config{
		Addr:      getEnvOrDefault("AUTH_ADDR", ":8080"),
		DBDSN:     getEnvOrDefault("AUTH_DB_DSN", "file:shutter.db"),
		Issuer:    getEnvOrDefault("AUTH_ISSUER", "shutter-auth"),
		Audience:  getEnvListOrDefault("AUTH_AUDIENCE", []string{"shutter"}),
		Algorithm: getEnvOrDefault("AUTH_JWT_ALG", "EdDSA"),
		NumKeys:   getEnvIntOrDefault("AUTH_NUM_KEYS", 2),

		PepperFile: getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		PublicURL:  getEnvOrDefault("AUTH_PUBLIC_URL", "http://localhost:8080"),

		AccessTTL:         getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:        getEnvDurationOrDefault("AUTH_REFRESH_TTL", 7*24*time.Hour),
		RotateRefresh:     getEnvBoolOrDefault("AUTH_ROTATE_REFRESH", true),
		TwoFactorTTL:      getEnvDurationOrDefault("AUTH_2FA_SESSION_TTL", 10*time.Minute),
		QRTTL:             getEnvDurationOrDefault("AUTH_QR_TTL", 5*time.Minute),
		MagicLinkTTL:      getEnvDurationOrDefault("AUTH_MAGIC_LINK_TTL", 15*time.Minute),
		DeviceTrustTTL:    getEnvDurationOrDefault("AUTH_DEVICE_TRUST_TTL", 30*24*time.Hour),
		LockoutThreshold:  getEnvIntOrDefault("AUTH_LOCKOUT_THRESHOLD", 5),
		LockoutWindow:     getEnvDurationOrDefault("AUTH_LOCKOUT_WINDOW", 30*time.Minute),
		TOTPSkew:          getEnvIntOrDefault("AUTH_TOTP_SKEW", 1),
		BackupCodes:       getEnvIntOrDefault("AUTH_BACKUP_CODES", 10),
		LowBackupCodes:    getEnvIntOrDefault("AUTH_LOW_BACKUP_CODES", 2),
		RedirectHosts:     getEnvListOrDefault("AUTH_REDIRECT_HOSTS", nil),
		SweepInterval:     getEnvDurationOrDefault("AUTH_SWEEP_INTERVAL", 5*time.Minute),
		QRRetention:       getEnvDurationOrDefault("AUTH_QR_RETENTION", time.Hour),
		ShutdownGrace:     getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		DisableRateLimits: getEnvBoolOrDefault("AUTH_DISABLE_RATE_LIMITS", false),
		QRStore:           strings.ToLower(getEnvOrDefault("AUTH_QR_STORE", QRStoreSQLite)),
		RedisAddr:         os.Getenv("AUTH_REDIS_ADDR"),
		RedisPassword:     os.Getenv("AUTH_REDIS_PASSWORD"),
		RedisDB:           getEnvIntOrDefault("AUTH_REDIS_DB", 0),
		Env:               getEnvOrDefault("ENV", "dev"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// Validate rejects settings the services would silently replace with
// defaults or that cannot work together.
func (c Config) Validate() error {
	switch c.QRStore {
	case QRStoreSQLite:
	case QRStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("AUTH_REDIS_ADDR is required when AUTH_QR_STORE=%s", QRStoreRedis)
		}
	default:
		return fmt.Errorf("AUTH_QR_STORE must be %q or %q, got %q", QRStoreSQLite, QRStoreRedis, c.QRStore)
	}
	if c.TOTPSkew < 0 {
		return fmt.Errorf("AUTH_TOTP_SKEW must not be negative")
	}
	if c.LowBackupCodes >= c.BackupCodes {
		return fmt.Errorf("AUTH_LOW_BACKUP_CODES (%d) must be below AUTH_BACKUP_CODES (%d)", c.LowBackupCodes, c.BackupCodes)
	}
	if !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		return fmt.Errorf("AUTH_PUBLIC_URL must be an http(s) URL")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
