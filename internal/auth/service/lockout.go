package service

import (
	"time"

	"github.com/aussiebroadwan/shutter/internal/auth/domain"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 30 * time.Minute
)

// LockoutPolicy decides when repeated password failures lock an account.
// The counter itself lives in the user row; this type holds no state.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Window: DefaultLockoutWindow}
}

func (p LockoutPolicy) threshold() int {
	if p.Threshold <= 0 {
		return DefaultLockoutThreshold
	}
	return p.Threshold
}

func (p LockoutPolicy) window() time.Duration {
	if p.Window <= 0 {
		return DefaultLockoutWindow
	}
	return p.Window
}

// IsLocked reports whether u is inside a lock window at now.
func (p LockoutPolicy) IsLocked(u *domain.User, now time.Time) bool {
	return u.IsLocked(now)
}

// ShouldLock reports whether failedAttempts consecutive failures lock the account.
func (p LockoutPolicy) ShouldLock(failedAttempts int) bool {
	return failedAttempts >= p.threshold()
}

// LockUntil is the end of a lock that starts at now.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.window())
}
