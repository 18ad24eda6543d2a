package guestauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/guestauth/twofactor"
)

// SetupTwoFactor starts enrollment with method "totp" or "email". An
// enabled configuration is rejected with ErrTwoFactorEnabled and left as is.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID, method string) (*TwoFactorSetup, error) {
	const op = "setup_two_factor"
	if err := e.ready(); err != nil {
		return nil, err
	}
	m, err := twofactor.ParseMethod(strings.ToLower(strings.TrimSpace(method)))
	if err != nil {
		return nil, validationErr(op, "method", err)
	}
	user, err := e.lookupUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	setup, err := e.twoFactor.InitiateSetup(ctx, user.ID, user.Email, m)
	if err != nil {
		return nil, e.twoFactorErr(op, err)
	}
	e.emitAudit(ctx, auditEventTwoFactorSetup, true, user.ID, user.TenantID, "", nil, func() map[string]string {
		return map[string]string{"method": string(m)}
	})
	return &TwoFactorSetup{Method: setup.Method, Secret: setup.Secret, URI: setup.URI}, nil
}

// VerifyTwoFactorSetup confirms enrollment and returns the ten backup codes.
// They are shown once; only their hashes are stored.
func (e *Engine) VerifyTwoFactorSetup(ctx context.Context, userID, code string) ([]string, error) {
	const op = "verify_two_factor_setup"
	if err := e.ready(); err != nil {
		return nil, err
	}
	codes, err := e.twoFactor.VerifySetup(ctx, userID, strings.TrimSpace(code))
	if err != nil {
		return nil, e.twoFactorErr(op, err)
	}
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", "", nil, nil)
	return codes, nil
}

// ResendTwoFactorCode re-sends the code of a pending email enrollment.
func (e *Engine) ResendTwoFactorCode(ctx context.Context, userID string) error {
	const op = "resend_two_factor_code"
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.lookupUser(ctx, op, userID)
	if err != nil {
		return err
	}
	if err := e.twoFactor.ResendCode(ctx, user.ID, user.Email); err != nil {
		return e.twoFactorErr(op, err)
	}
	e.metricInc(MetricCodeResent)
	e.emitAudit(ctx, auditEventCodeResent, true, user.ID, user.TenantID, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(twofactor.PurposeSetup)}
	})
	return nil
}

// DisableTwoFactor removes the configuration after re-verifying the
// password.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password string) error {
	const op = "disable_two_factor"
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.VerifyPassword(ctx, userID, password); err != nil {
		return err
	}
	if err := e.twoFactor.Disable(ctx, userID); err != nil {
		return e.twoFactorErr(op, err)
	}
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", "", nil, nil)
	return nil
}

// TwoFactorStatus summarizes the user's configuration without secrets.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (twofactor.Status, error) {
	const op = "two_factor_status"
	if err := e.ready(); err != nil {
		return twofactor.Status{}, err
	}
	status, err := e.twoFactor.Status(ctx, userID)
	if err != nil {
		return twofactor.Status{}, e.twoFactorErr(op, err)
	}
	return status, nil
}

func (e *Engine) lookupUser(ctx context.Context, op, userID string) (*UserRecord, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, authErr(op, ErrUnauthenticated)
		}
		return nil, infraErr(op, err)
	}
	return user, nil
}
