package guestauth

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventAccountLocked         = "account_locked"
	auditEventReauthLocked          = "reauth_locked"
	auditEventTwoFactorRequired     = "two_factor_required"
	auditEventTwoFactorSuccess      = "two_factor_success"
	auditEventTwoFactorFailure      = "two_factor_failure"
	auditEventTwoFactorSetup        = "two_factor_setup_requested"
	auditEventTwoFactorEnabled      = "two_factor_enabled"
	auditEventTwoFactorDisabled     = "two_factor_disabled"
	auditEventCodeResent            = "two_factor_code_resent"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventAccountDeleted        = "account_deleted"
	auditEventAppCreated            = "api_app_created"
	auditEventAppDeleted            = "api_app_deleted"
	auditEventTokenIssued           = "api_token_issued"
	auditEventTokenRevoked          = "api_token_revoked"
	auditEventScopeDenied           = "scope_denied"
)

// criticalAuditEvents change account or credential state and are delivered
// even when the audit buffer sheds routine events.
var criticalAuditEvents = []string{
	auditEventAccountLocked,
	auditEventReauthLocked,
	auditEventTwoFactorDisabled,
	auditEventPasswordChangeSuccess,
	auditEventAccountDeleted,
	auditEventLogoutAll,
	auditEventTokenRevoked,
}

// AuditErrorCode is the stable error label recorded on failed events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrResendLimit        AuditErrorCode = "resend_limit"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInsufficientScope  AuditErrorCode = "insufficient_scope"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrResendLimit):
		return auditErrResendLimit
	case errors.Is(err, ErrTooManyAttempts):
		return auditErrRateLimited
	case errors.Is(err, ErrTwoFactorEnabled),
		errors.Is(err, ErrTwoFactorNotPending),
		errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrConflict
	case errors.Is(err, ErrEmailTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrInsufficientScope):
		return auditErrInsufficientScope
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	case KindOf(err) == KindValidation:
		return auditErrValidation
	default:
		return auditErrInternal
	}
}
