package guestauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/guestauth/internal/limiters"
	"github.com/MrEthical07/guestauth/session"
	"github.com/MrEthical07/guestauth/twofactor"
)

// Login runs the password step. The order is per-IP throttle, lockout check,
// user lookup, password verification and then either a two-factor challenge
// or a new session. Unknown emails and wrong passwords are indistinguishable
// in both the error and the time taken.
func (e *Engine) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	const op = "login"
	if err := e.ready(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	now := e.now()

	if err := e.throttle(ctx, op, e.loginThrottle, now); err != nil {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", "", err, nil)
		return nil, err
	}

	status, err := e.lockout.CheckLocked(ctx, email)
	if err != nil {
		e.counterUnavailable(ctx, "lockout check", err)
	} else if status.Locked {
		e.metricInc(MetricLockoutRejected)
		err := rateErr(op, ErrAccountLocked, status.LockedUntil, now)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", "", err, nil)
		return nil, err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, infraErr(op, err)
	}

	hash := e.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := e.passwords.Verify(pw, hash)
	if err != nil {
		return nil, infraErr(op, err)
	}
	if user == nil || !ok {
		return nil, e.loginFailed(ctx, op, email, user)
	}

	challenge, err := e.twoFactor.StartLogin(ctx, user.ID, user.Email)
	switch {
	case err == nil:
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, auditEventTwoFactorRequired, true, user.ID, user.TenantID, "", nil, func() map[string]string {
			return map[string]string{"method": string(challenge.Method)}
		})
		return &LoginResult{
			UserID: user.ID,
			Challenge: &TwoFactorChallenge{
				Token:     challenge.Token,
				Method:    challenge.Method,
				ExpiresAt: challenge.ExpiresAt,
			},
		}, nil
	case !errors.Is(err, twofactor.ErrNotEnabled):
		return nil, e.twoFactorErr(op, err)
	}

	e.resetLockout(ctx, email)
	tokens, err := e.createSession(ctx, op, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, user.TenantID, tokens.SessionID, nil, nil)
	return &LoginResult{UserID: user.ID, Session: tokens}, nil
}

// VerifyTwoFactorLogin completes a challenged login with a TOTP, email or
// backup code. Every rejection is ErrInvalidCredentials.
func (e *Engine) VerifyTwoFactorLogin(ctx context.Context, challengeToken, code string) (*SessionTokens, error) {
	const op = "verify_two_factor_login"
	if err := e.ready(); err != nil {
		return nil, err
	}

	userID, err := e.twoFactor.VerifyLogin(ctx, challengeToken, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, twofactor.ErrInvalidCode) || errors.Is(err, twofactor.ErrChallengeInvalid) {
			e.metricInc(MetricTwoFactorFailure)
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, "", "", "", ErrInvalidCredentials, nil)
			return nil, authErr(op, ErrInvalidCredentials)
		}
		return nil, e.twoFactorErr(op, err)
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, authErr(op, ErrInvalidCredentials)
		}
		return nil, infraErr(op, err)
	}

	e.resetLockout(ctx, user.Email)
	tokens, err := e.createSession(ctx, op, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, user.ID, user.TenantID, tokens.SessionID, nil, nil)
	return tokens, nil
}

// ResendLoginCode sends a fresh code for an email-method challenge, at most
// MaxResends times per challenge.
func (e *Engine) ResendLoginCode(ctx context.Context, challengeToken string) error {
	const op = "resend_login_code"
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.twoFactor.ResendLoginCode(ctx, challengeToken); err != nil {
		if errors.Is(err, twofactor.ErrChallengeInvalid) {
			return authErr(op, ErrInvalidToken)
		}
		return e.twoFactorErr(op, err)
	}
	e.metricInc(MetricCodeResent)
	e.emitAudit(ctx, auditEventCodeResent, true, "", "", "", nil, func() map[string]string {
		return map[string]string{"purpose": string(twofactor.PurposeLogin)}
	})
	return nil
}

// Refresh rotates the session behind refreshToken. The presented token is
// dead afterwards whether or not the caller receives the new pair.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	const op = "refresh"
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.throttle(ctx, op, e.refreshThrottle, e.now()); err != nil {
		return nil, err
	}

	tokens, err := e.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, session.ErrInvalid) {
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrInvalidToken, nil)
			return nil, authErr(op, ErrInvalidToken)
		}
		return nil, infraErr(op, err)
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, "", "", tokens.SessionID, nil, nil)
	return sessionTokens(tokens), nil
}

// Logout ends the session of refreshToken. Invalid or already-ended tokens
// succeed.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	const op = "logout"
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Delete(ctx, refreshToken); err != nil {
		return infraErr(op, err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, "", "", "", nil, nil)
	return nil
}

// RevokeSession ends a session by id, used when only the access token is
// at hand.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	const op = "revoke_session"
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		return infraErr(op, err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, "", "", sessionID, nil, nil)
	return nil
}

// LogoutAll ends every session of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	const op = "logout_all"
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return infraErr(op, err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", "", nil, nil)
	return nil
}

// ValidateAccess verifies an access token and that its session is still
// live.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessIdentity, error) {
	const op = "validate_access"
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	sess, err := e.sessions.ValidateAccess(ctx, accessToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalid) {
			return nil, authErr(op, ErrInvalidToken)
		}
		return nil, infraErr(op, err)
	}
	return &AccessIdentity{
		UserID:    sess.UserID,
		TenantID:  sess.TenantID,
		Email:     sess.Email,
		SessionID: sess.SessionID,
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, op, email string, user *UserRecord) error {
	var userID, tenantID string
	if user != nil {
		userID, tenantID = user.ID, user.TenantID
	}

	status, err := e.lockout.RecordFailure(ctx, email)
	if err != nil {
		e.counterUnavailable(ctx, "lockout record", err)
	} else if status.Locked {
		e.metricInc(MetricLockoutTriggered)
		e.emitAudit(ctx, auditEventAccountLocked, true, userID, tenantID, "", nil, func() map[string]string {
			return map[string]string{"locked_until": status.LockedUntil.UTC().Format(time.RFC3339)}
		})
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, tenantID, "", ErrInvalidCredentials, nil)
	return authErr(op, ErrInvalidCredentials)
}

func (e *Engine) resetLockout(ctx context.Context, email string) {
	if err := e.lockout.RecordSuccess(ctx, email); err != nil {
		e.counterUnavailable(ctx, "lockout reset", err)
	}
}

// throttle counts one attempt against the caller's IP. Counter outages fail
// open.
func (e *Engine) throttle(ctx context.Context, op string, t *limiters.Throttle, now time.Time) error {
	retryAt, err := t.Hit(ctx, clientIPFromContext(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrThrottled) {
		return rateErr(op, ErrTooManyAttempts, retryAt, now)
	}
	e.counterUnavailable(ctx, op+" throttle", err)
	return nil
}

func (e *Engine) counterUnavailable(ctx context.Context, what string, err error) {
	e.metricInc(MetricCounterUnavailable)
	e.log.Error(ctx, "rate counter unavailable, failing open", "check", what, "err", err)
}

func (e *Engine) createSession(ctx context.Context, op string, user *UserRecord) (*SessionTokens, error) {
	tokens, err := e.sessions.Create(ctx, session.Identity{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Email:    user.Email,
	})
	if err != nil {
		return nil, infraErr(op, err)
	}
	e.metricInc(MetricSessionCreated)
	return sessionTokens(tokens), nil
}

// twoFactorErr maps two-factor engine errors onto the taxonomy.
func (e *Engine) twoFactorErr(op string, err error) error {
	var resend *twofactor.ResendLimitError
	switch {
	case errors.As(err, &resend):
		e.metricInc(MetricResendLimited)
		return rateErr(op, ErrResendLimit, resend.RetryAt, e.now())
	case errors.Is(err, twofactor.ErrResendLimit):
		e.metricInc(MetricResendLimited)
		return rateErr(op, ErrResendLimit, time.Time{}, e.now())
	case errors.Is(err, twofactor.ErrAlreadyEnabled):
		return validationErr(op, "", ErrTwoFactorEnabled)
	case errors.Is(err, twofactor.ErrNotPending):
		return validationErr(op, "", ErrTwoFactorNotPending)
	case errors.Is(err, twofactor.ErrNotEnabled):
		return validationErr(op, "", ErrTwoFactorNotEnabled)
	case errors.Is(err, twofactor.ErrInvalidMethod):
		return validationErr(op, "method", err)
	case errors.Is(err, twofactor.ErrInvalidCode):
		return validationErr(op, "code", ErrInvalidCode)
	case errors.Is(err, twofactor.ErrChallengeInvalid):
		return authErr(op, ErrInvalidToken)
	default:
		return infraErr(op, err)
	}
}

func sessionTokens(t *session.Tokens) *SessionTokens {
	return &SessionTokens{
		SessionID:        t.SessionID,
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  time.Unix(t.AccessExpiresAt, 0),
		RefreshExpiresAt: time.Unix(t.RefreshExpiresAt, 0),
	}
}

func normalizeEmail(email string) string {
	return limiters.NormalizeIdentity(email)
}
