package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/guestauth/ratecounter"
)

// ErrResendLimit is returned once the resend cap for an outstanding code is spent.
var ErrResendLimit = errors.New("resend limit reached")

// Resend caps how many times a one-time code may be re-sent before it is used
// or expires.
type Resend struct {
	counter ratecounter.Counter
	max     int
	window  time.Duration
}

// NewResend creates a resend cap of max per outstanding code. window should
// match the code lifetime.
func NewResend(counter ratecounter.Counter, max int, window time.Duration) *Resend {
	return &Resend{counter: counter, max: max, window: window}
}

func resendKey(purpose, subject string) string {
	return "resend:" + purpose + ":" + subject
}

// Allow consumes one resend. It returns ErrResendLimit when the cap is exceeded
// together with the time the cap resets.
func (r *Resend) Allow(ctx context.Context, purpose, subject string) (time.Time, error) {
	if r == nil || r.max <= 0 {
		return time.Time{}, nil
	}
	entry, err := r.counter.Incr(ctx, resendKey(purpose, subject), r.window)
	if err != nil {
		return time.Time{}, err
	}
	if entry.Count > int64(r.max) {
		return entry.ExpiresAt, ErrResendLimit
	}
	return time.Time{}, nil
}

// Reset starts a new allowance, called whenever a new code is minted or used.
func (r *Resend) Reset(ctx context.Context, purpose, subject string) error {
	if r == nil {
		return nil
	}
	return r.counter.Delete(ctx, resendKey(purpose, subject))
}
