package guestauth

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

const maxEmailLength = 254

// Register creates an account. A fresh tenant is minted unless
// in.TenantID is set. The returned record has no password hash.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*UserRecord, error) {
	const op = "register"
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.throttle(ctx, op, e.registerThrottle, e.now()); err != nil {
		return nil, err
	}

	email := normalizeEmail(in.Email)
	if err := validateEmail(op, email); err != nil {
		return nil, err
	}
	if err := e.checkPasswordPolicy(op, in.Password); err != nil {
		return nil, err
	}

	hash, err := e.passwords.Hash(in.Password)
	if err != nil {
		return nil, infraErr(op, err)
	}

	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		tenantID = uuid.NewString()
	}
	user := UserRecord{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    e.now().UTC(),
	}

	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", "", ErrEmailTaken, nil)
			return nil, validationErr(op, "email", ErrEmailTaken)
		}
		return nil, infraErr(op, err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, user.ID, user.TenantID, "", nil, nil)
	user.PasswordHash = ""
	return &user, nil
}

// GetUser returns the account of userID without its password hash.
func (e *Engine) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	const op = "get_user"
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, validationErr(op, "", ErrNotFound)
		}
		return nil, infraErr(op, err)
	}
	out := *user
	out.PasswordHash = ""
	return &out, nil
}

// ChangePassword replaces the password after re-verifying the current one
// and ends every session of the user.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	const op = "change_password"
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.VerifyPassword(ctx, userID, oldPassword); err != nil {
		if KindOf(err) == KindAuthentication {
			e.metricInc(MetricPasswordChangeInvalidOld)
			e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", "", ErrInvalidCredentials, nil)
			return authErr(op, ErrInvalidCredentials)
		}
		return err
	}
	if err := e.checkPasswordPolicy(op, newPassword); err != nil {
		return err
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return infraErr(op, err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return infraErr(op, err)
	}
	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return infraErr(op, err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", "", nil, nil)
	return nil
}

// DeleteAccount removes the user after re-verifying the password. Sessions,
// two-factor state and lockout counters go with it.
func (e *Engine) DeleteAccount(ctx context.Context, userID, password string) error {
	const op = "delete_account"
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.VerifyPassword(ctx, userID, password); err != nil {
		return err
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return infraErr(op, err)
	}

	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return infraErr(op, err)
	}
	if err := e.twoFactor.Purge(ctx, userID); err != nil {
		return infraErr(op, err)
	}
	if err := e.users.DeleteUser(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return infraErr(op, err)
	}
	e.resetLockout(ctx, user.Email)
	e.resetLockout(ctx, reauthIdentity(userID))

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, userID, user.TenantID, "", nil, nil)
	return nil
}

func validateEmail(op, email string) error {
	if email == "" {
		return validationErr(op, "email", errRequired)
	}
	if len(email) > maxEmailLength {
		return validationErr(op, "email", errInvalidEmail)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationErr(op, "email", errInvalidEmail)
	}
	return nil
}
