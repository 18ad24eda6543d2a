package guestauth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is the single answer for unknown emails, wrong
	// passwords and wrong second factors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers bad, expired, rotated and revoked tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidCode is returned by two-factor setup verification.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrAccountLocked is returned while the lockout window is active.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrTooManyAttempts is returned by the per-IP throttles.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrResendLimit is returned once a code has been resent three times.
	ErrResendLimit = errors.New("code resend limit reached")
	// ErrTwoFactorEnabled rejects a setup request while two-factor is on.
	ErrTwoFactorEnabled = errors.New("two-factor authentication is already enabled")
	// ErrTwoFactorNotPending rejects verification without a pending setup.
	ErrTwoFactorNotPending = errors.New("no pending two-factor setup")
	// ErrTwoFactorNotEnabled rejects disable when nothing is configured.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication is not enabled")
	// ErrEmailTaken is returned by Register for an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInsufficientScope is wrapped by authorization failures.
	ErrInsufficientScope = errors.New("insufficient scope")
	// ErrUnauthenticated means no caller is attached to the request.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrNotFound is returned for unknown users, apps and tokens.
	ErrNotFound = errors.New("not found")
	// ErrEngineNotReady is returned by methods on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidInput is the generic validation failure; Error.Field names
	// the offending input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable wraps storage and redis failures.
	ErrUnavailable = errors.New("service unavailable")
)

// Kind classifies an error for transport mapping.
type Kind uint8

const (
	KindAuthentication Kind = iota + 1
	KindAuthorization
	KindRateLimited
	KindValidation
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every Engine operation.
type Error struct {
	Kind Kind
	Op   string

	// Field is set for validation failures.
	Field string
	// RetryAfter is set for rate-limited failures.
	RetryAfter time.Duration
	// Required and Granted are set for scope failures.
	Required string
	Granted  []string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// PublicMessage is the text safe to return to clients. Infrastructure detail
// and the reason for an authentication failure are never included.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindAuthentication:
		if errors.Is(e.Err, ErrUnauthenticated) {
			return ErrUnauthenticated.Error()
		}
		if errors.Is(e.Err, ErrInvalidToken) {
			return ErrInvalidToken.Error()
		}
		return ErrInvalidCredentials.Error()
	case KindAuthorization:
		if e.Required != "" {
			return fmt.Sprintf("missing required scope %q (granted: %s)", e.Required, strings.Join(e.Granted, ", "))
		}
		return "forbidden"
	case KindRateLimited:
		msg := ErrTooManyAttempts.Error()
		switch {
		case errors.Is(e.Err, ErrAccountLocked):
			msg = ErrAccountLocked.Error()
		case errors.Is(e.Err, ErrResendLimit):
			msg = ErrResendLimit.Error()
		}
		if secs := retrySeconds(e.RetryAfter); secs > 0 {
			msg += ", retry in " + strconv.Itoa(secs) + "s"
		}
		return msg
	case KindValidation:
		msg := ErrInvalidInput.Error()
		if e.Err != nil {
			msg = rootCause(e.Err).Error()
		}
		if e.Field != "" {
			return e.Field + ": " + msg
		}
		return msg
	default:
		return "internal error"
	}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (e *Error) RetryAfterSeconds() int {
	return retrySeconds(e.RetryAfter)
}

func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// KindOf classifies err. Errors that are not *Error are infrastructure
// failures; nil yields zero.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// AsError extracts the *Error from err, wrapping unknown errors as
// infrastructure failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInfrastructure, Err: err}
}

func authErr(op string, err error) error {
	return &Error{Kind: KindAuthentication, Op: op, Err: err}
}

func rateErr(op string, err error, retryAt, now time.Time) error {
	var after time.Duration
	if !retryAt.IsZero() {
		after = retryAt.Sub(now)
	}
	return &Error{Kind: KindRateLimited, Op: op, RetryAfter: after, Err: err}
}

func validationErr(op, field string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Err: err}
}

func scopeErr(op, required string, granted []string) error {
	return &Error{
		Kind:     KindAuthorization,
		Op:       op,
		Required: required,
		Granted:  append([]string(nil), granted...),
		Err:      ErrInsufficientScope,
	}
}

func infraErr(op string, err error) error {
	if err == nil {
		err = ErrUnavailable
	}
	return &Error{Kind: KindInfrastructure, Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}
