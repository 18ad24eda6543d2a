package limiters

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/guestauth/ratecounter"
)

// LockoutConfig holds configuration for the account lockout tracker.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
	// FailureWindow bounds how long an unlocked failure streak is remembered.
	FailureWindow time.Duration
}

// LockStatus is the result of CheckLocked.
type LockStatus struct {
	Locked      bool
	LockedUntil time.Time
}

// Lockout counts consecutive failed logins per normalized email and locks the
// identity for Duration once Threshold is reached.
type Lockout struct {
	counter ratecounter.Counter
	config  LockoutConfig
}

// NewLockout creates a lockout tracker over counter.
func NewLockout(counter ratecounter.Counter, cfg LockoutConfig) *Lockout {
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 24 * time.Hour
	}
	return &Lockout{counter: counter, config: cfg}
}

// NormalizeIdentity trims and case-folds an email so equivalent spellings share
// one counter.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func failKey(identity string) string { return "lockout:fail:" + identity }
func lockKey(identity string) string { return "lockout:lock:" + identity }

func (l *Lockout) active(identity string) bool {
	return l != nil && l.config.Enabled && identity != ""
}

// CheckLocked reports whether identity is currently locked. An expired lock is
// purged by the counter and reported unlocked.
func (l *Lockout) CheckLocked(ctx context.Context, identity string) (LockStatus, error) {
	identity = NormalizeIdentity(identity)
	if !l.active(identity) {
		return LockStatus{}, nil
	}

	entry, ok, err := l.counter.Get(ctx, lockKey(identity))
	if err != nil {
		return LockStatus{}, err
	}
	if !ok {
		return LockStatus{}, nil
	}
	return LockStatus{Locked: true, LockedUntil: entry.ExpiresAt}, nil
}

// RecordFailure counts one failure. When the threshold is reached the identity
// is locked and the streak restarts.
func (l *Lockout) RecordFailure(ctx context.Context, identity string) (LockStatus, error) {
	identity = NormalizeIdentity(identity)
	if !l.active(identity) {
		return LockStatus{}, nil
	}

	entry, err := l.counter.Incr(ctx, failKey(identity), l.config.FailureWindow)
	if err != nil {
		return LockStatus{}, err
	}
	if entry.Count < int64(l.config.Threshold) {
		return LockStatus{}, nil
	}

	if err := l.counter.Set(ctx, lockKey(identity), entry.Count, l.config.Duration); err != nil {
		return LockStatus{}, err
	}
	if err := l.counter.Delete(ctx, failKey(identity)); err != nil {
		return LockStatus{}, err
	}

	locked, err := l.CheckLocked(ctx, identity)
	if err != nil {
		return LockStatus{}, err
	}
	return locked, nil
}

// RecordSuccess clears the failure streak and any lock.
func (l *Lockout) RecordSuccess(ctx context.Context, identity string) error {
	identity = NormalizeIdentity(identity)
	if !l.active(identity) {
		return nil
	}
	return l.counter.Delete(ctx, failKey(identity), lockKey(identity))
}

// Failures returns the current unlocked failure streak.
func (l *Lockout) Failures(ctx context.Context, identity string) (int, error) {
	identity = NormalizeIdentity(identity)
	if !l.active(identity) {
		return 0, nil
	}
	entry, ok, err := l.counter.Get(ctx, failKey(identity))
	if err != nil || !ok {
		return 0, err
	}
	return int(entry.Count), nil
}
