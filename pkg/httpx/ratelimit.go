package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/shutter/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

var (
	// StrictLimit guards the credential endpoints (login, 2FA, magic link).
	StrictLimit = RateLimitConfig{RequestsPerWindow: 10, Window: time.Minute, Burst: 10}

	// PollLimit fits QR status polling at one request per ~5s plus slack.
	PollLimit = RateLimitConfig{RequestsPerWindow: 30, Window: time.Minute, Burst: 10}

	// ModerateLimit for authenticated account operations.
	ModerateLimit = RateLimitConfig{RequestsPerWindow: 60, Window: time.Minute, Burst: 20}
)

// KeyExtractor returns the bucket key of a request.
type KeyExtractor func(*http.Request) string

// ClientIP extracts the client IP, honouring X-Forwarded-For and X-Real-IP.
// Only deploy behind a proxy that overwrites those headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	cfg  RateLimitConfig
	key  KeyExtractor
	rate rate.Limit

	mu          sync.Mutex
	buckets     map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewRateLimiter builds a limiter for the given config and key function.
func NewRateLimiter(cfg RateLimitConfig, key KeyExtractor) *RateLimiter {
	return &RateLimiter{
		cfg:         cfg,
		key:         key,
		rate:        rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		buckets:     make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Full buckets belong to idle clients and can be dropped.
	if time.Since(rl.lastCleanup) > 5*time.Minute {
		for k, l := range rl.buckets {
			if l.Tokens() >= float64(rl.cfg.Burst) {
				delete(rl.buckets, k)
			}
		}
		rl.lastCleanup = time.Now()
	}

	l, ok := rl.buckets[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.cfg.Burst)
		rl.buckets[key] = l
	}
	return l
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		l := rl.limiter(key)
		if l.Allow() {
			next.ServeHTTP(w, r)
			return
		}

		res := l.Reserve()
		retryAfter := max(int(res.Delay().Seconds()), 1)
		res.Cancel()

		slogx.FromContext(r.Context()).Warn("rate limit exceeded",
			"key", key,
			"path", r.URL.Path,
			"retry_after", retryAfter,
		)

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		WriteJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":             "rate_limited",
			"error_description": "too many requests, try again later",
		})
	})
}

// RateLimitByIP creates a rate limiting middleware keyed on client IP.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return NewRateLimiter(cfg, ClientIP).Middleware
}
