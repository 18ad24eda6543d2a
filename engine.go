package guestauth

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/csrf"
	internalaudit "github.com/MrEthical07/guestauth/internal/audit"
	"github.com/MrEthical07/guestauth/internal/limiters"
	"github.com/MrEthical07/guestauth/internal/logging"
	"github.com/MrEthical07/guestauth/password"
	"github.com/MrEthical07/guestauth/ratecounter"
	"github.com/MrEthical07/guestauth/session"
	"github.com/MrEthical07/guestauth/twofactor"
)

// Engine orchestrates logins, sessions, two-factor and API tokens. Build one
// with New().WithConfig(...).Build(). All methods are safe for concurrent
// use.
type Engine struct {
	config Config
	log    logging.Logger

	users     UserStore
	passwords *password.Scrypt
	dummyHash string

	sessions  *session.Manager
	twoFactor *twofactor.Engine
	tokens    *apitoken.Authority
	csrf      *csrf.Guard

	counter          ratecounter.Counter
	lockout          *limiters.Lockout
	loginThrottle    *limiters.Throttle
	registerThrottle *limiters.Throttle
	refreshThrottle  *limiters.Throttle

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	redis   redis.UniversalClient

	stopSweep context.CancelFunc
	closed    atomic.Bool
	now       func() time.Time
}

// Close stops background work and flushes the audit and last-used queues.
// It does not close the redis client.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.stopSweep != nil {
		e.stopSweep()
	}
	if e.tokens != nil {
		e.tokens.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByEvent breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByEvent() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByEvent()
}

// MetricsSnapshot returns a copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Scopes returns the API token scopes known to the engine.
func (e *Engine) Scopes() []string {
	return e.tokens.Registry().All()
}

// Health pings redis.
func (e *Engine) Health(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return infraErr("health", err)
	}
	return nil
}

// IssueCSRFToken mints a double-submit token for the csrf_token cookie.
func (e *Engine) IssueCSRFToken() (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	token, err := e.csrf.Issue()
	if err != nil {
		return "", infraErr("issue_csrf", err)
	}
	return token, nil
}

// ValidateCSRFToken checks the HMAC of a double-submit token.
func (e *Engine) ValidateCSRFToken(token string) bool {
	if e.ready() != nil {
		return false
	}
	if !e.csrf.Validate(token) {
		e.metricInc(MetricCSRFRejected)
		return false
	}
	return true
}

// VerifyPassword checks password for userID. Wrong passwords and unknown
// users both yield ErrInvalidCredentials. Failures count toward a per-user
// re-authentication lock, kept apart from the login lockout, so a stolen
// session cannot guess the password behind it.
func (e *Engine) VerifyPassword(ctx context.Context, userID, password string) error {
	const op = "verify_password"
	if err := e.ready(); err != nil {
		return err
	}
	now := e.now()
	key := reauthIdentity(userID)

	status, err := e.lockout.CheckLocked(ctx, key)
	if err != nil {
		e.counterUnavailable(ctx, "reauth check", err)
	} else if status.Locked {
		e.metricInc(MetricLockoutRejected)
		return rateErr(op, ErrAccountLocked, status.LockedUntil, now)
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = e.passwords.Verify(password, e.dummyHash)
			return authErr(op, ErrInvalidCredentials)
		}
		return infraErr(op, err)
	}
	ok, err := e.passwords.Verify(password, user.PasswordHash)
	if err != nil {
		return infraErr(op, err)
	}
	if !ok {
		status, err := e.lockout.RecordFailure(ctx, key)
		if err != nil {
			e.counterUnavailable(ctx, "reauth record", err)
		} else if status.Locked {
			e.metricInc(MetricLockoutTriggered)
			e.emitAudit(ctx, auditEventReauthLocked, true, userID, user.TenantID, "", nil, func() map[string]string {
				return map[string]string{"locked_until": status.LockedUntil.UTC().Format(time.RFC3339)}
			})
		}
		return authErr(op, ErrInvalidCredentials)
	}
	e.resetLockout(ctx, key)
	return nil
}

func reauthIdentity(userID string) string {
	if userID == "" {
		return ""
	}
	return "reauth:" + userID
}

func (e *Engine) checkPasswordPolicy(op, pw string) error {
	if len(pw) < e.config.PasswordPolicy.MinLength {
		return validationErr(op, "password", errPasswordTooShort)
	}
	if len(pw) > e.config.PasswordPolicy.MaxLength {
		return validationErr(op, "password", errPasswordTooLong)
	}
	return nil
}

var (
	errPasswordTooShort = errors.New("password is too short")
	errPasswordTooLong  = errors.New("password is too long")
	errInvalidEmail     = errors.New("must be a valid email address")
	errRequired         = errors.New("is required")
)
