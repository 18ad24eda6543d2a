package ratecounter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("rate counter backend unavailable")

// Entry is a counter snapshot.
type Entry struct {
	Count     int64
	ExpiresAt time.Time
}

// Counter is an atomic counter keyed by string with per-key expiry.
type Counter interface {
	// Incr adds one to key. A missing or expired key starts at one with a
	// fresh ttl; an existing key keeps its expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (Entry, error)
	// Get returns the live entry for key. Expired entries are reported absent.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set overwrites key with value and a fresh ttl.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
