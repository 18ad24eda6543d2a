package twofactor

import (
	"context"
	"sync"
)

// Sender delivers emailed one-time codes. Delivery is owned by the caller's
// mail pipeline; the engine only supplies the plaintext code.
type Sender interface {
	SendCode(ctx context.Context, email string, purpose Purpose, code string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, email string, purpose Purpose, code string) error

func (f SenderFunc) SendCode(ctx context.Context, email string, purpose Purpose, code string) error {
	return f(ctx, email, purpose, code)
}

// Outbox is a Sender that keeps the last code per email. It backs tests and
// the daemon's development mode.
type Outbox struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

// NewOutbox returns an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{codes: make(map[string]string)}
}

func (o *Outbox) SendCode(_ context.Context, email string, purpose Purpose, code string) error {
	o.mu.Lock()
	o.codes[string(purpose)+":"+email] = code
	o.sent++
	o.mu.Unlock()
	return nil
}

// Last returns the most recent code sent to email for purpose.
func (o *Outbox) Last(email string, purpose Purpose) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	code, ok := o.codes[string(purpose)+":"+email]
	return code, ok
}

// Sent returns how many codes were delivered.
func (o *Outbox) Sent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}
