package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/guestauth/ratecounter"
)

// ErrThrottled is returned when a key has spent its attempt budget.
var ErrThrottled = errors.New("rate limited")

// ThrottleConfig holds a fixed-window attempt budget.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// Throttle enforces a fixed-window attempt budget per key.
type Throttle struct {
	counter ratecounter.Counter
	prefix  string
	config  ThrottleConfig
}

// NewThrottle creates a throttle whose keys are namespaced by prefix.
func NewThrottle(counter ratecounter.Counter, prefix string, cfg ThrottleConfig) *Throttle {
	return &Throttle{counter: counter, prefix: prefix, config: cfg}
}

// Hit counts one attempt for key and returns ErrThrottled with the window end
// once the budget is exceeded. An empty key is never throttled.
func (t *Throttle) Hit(ctx context.Context, key string) (time.Time, error) {
	if t == nil || !t.config.Enabled || key == "" {
		return time.Time{}, nil
	}
	entry, err := t.counter.Incr(ctx, t.prefix+":"+key, t.config.Window)
	if err != nil {
		return time.Time{}, err
	}
	if entry.Count > int64(t.config.MaxAttempts) {
		return entry.ExpiresAt, ErrThrottled
	}
	return time.Time{}, nil
}
