package guestauth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPublicMessage(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wrong password", authErr("login", ErrInvalidCredentials), "invalid credentials"},
		{"bad token", authErr("refresh", ErrInvalidToken), "invalid or expired token"},
		{"no caller", authErr("require_scope", ErrUnauthenticated), "authentication required"},
		{"locked", rateErr("login", ErrAccountLocked, now.Add(90*time.Second), now), "account temporarily locked, retry in 90s"},
		{"throttled rounds up", rateErr("login", ErrTooManyAttempts, now.Add(1500*time.Millisecond), now), "too many attempts, retry in 2s"},
		{"resend without retry", rateErr("resend", ErrResendLimit, time.Time{}, now), "code resend limit reached"},
		{"validation field", validationErr("register", "email", ErrEmailTaken), "email: email already registered"},
		{"scope", scopeErr("require_scope", "entries:write", []string{"entries:read", "tenant:read"}), `missing required scope "entries:write" (granted: entries:read, tenant:read)`},
		{"infra hidden", infraErr("login", errors.New("dial tcp 10.0.0.1:6379: refused")), "internal error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AsError(tc.err).PublicMessage(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestInfraErrWrapsUnavailable(t *testing.T) {
	cause := errors.New("connection reset")
	err := infraErr("refresh", cause)

	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable in chain")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected cause in server-side text, got %q", err.Error())
	}
	if KindOf(err) != KindInfrastructure {
		t.Fatalf("expected infrastructure kind")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != 0 {
		t.Fatalf("nil must have no kind")
	}
	if KindOf(errors.New("plain")) != KindInfrastructure {
		t.Fatalf("plain errors are infrastructure failures")
	}
	if KindOf(authErr("x", ErrInvalidToken)) != KindAuthentication {
		t.Fatalf("expected authentication")
	}
	if AsError(nil) != nil {
		t.Fatalf("AsError(nil) must be nil")
	}
	if KindRateLimited.String() != "rate_limited" {
		t.Fatalf("unexpected kind name %q", KindRateLimited.String())
	}
}
