package twofactor

import (
	"errors"
	"time"
)

// Method is the primary second factor.
type Method string

const (
	MethodTOTP  Method = "totp"
	MethodEmail Method = "email"
)

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	return m == MethodTOTP || m == MethodEmail
}

// ParseMethod maps user input to a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", ErrInvalidMethod
	}
	return m, nil
}

// State is the tagged variant of a user's two-factor configuration.
// Implementations are None, Pending and Enabled.
type State interface {
	isState()
	// Name is the stable storage label of the state.
	Name() string
}

// None means no configuration exists.
type None struct{}

// Pending is an unverified setup. Secret is empty for the email method.
type Pending struct {
	Method    Method
	Secret    string
	CreatedAt time.Time
}

// Enabled is a verified configuration.
type Enabled struct {
	Method           Method
	Secret           string
	BackupCodeHashes []string
	VerifiedAt       time.Time
}

func (None) isState()    {}
func (Pending) isState() {}
func (Enabled) isState() {}

func (None) Name() string    { return "none" }
func (Pending) Name() string { return "pending" }
func (Enabled) Name() string { return "enabled" }

// Record binds a State to a user.
type Record struct {
	UserID string
	State  State
}

// Status is the caller-facing summary of a Record.
type Status struct {
	State           string
	Method          Method
	BackupCodesLeft int
	VerifiedAt      time.Time
}

// StatusOf summarizes a state without exposing secrets.
func StatusOf(s State) Status {
	switch st := s.(type) {
	case Pending:
		return Status{State: st.Name(), Method: st.Method}
	case Enabled:
		return Status{
			State:           st.Name(),
			Method:          st.Method,
			BackupCodesLeft: len(st.BackupCodeHashes),
			VerifiedAt:      st.VerifiedAt,
		}
	default:
		return Status{State: None{}.Name()}
	}
}

var (
	ErrInvalidMethod      = errors.New("unsupported two-factor method")
	ErrAlreadyEnabled     = errors.New("two-factor already enabled")
	ErrNotPending         = errors.New("no pending two-factor setup")
	ErrNotEnabled         = errors.New("two-factor not enabled")
	ErrBackendUnavailable = errors.New("two-factor backend unavailable")
)

// ErrInvalidCode is the uniform failure for any rejected code.
var ErrInvalidCode = errors.New("invalid verification code")

// ErrChallengeInvalid covers missing, expired and exhausted challenges.
var ErrChallengeInvalid = errors.New("invalid two-factor challenge")
