package guestauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/guestauth/apitoken"
)

// CreateApp registers an API app in the caller's tenant.
func (e *Engine) CreateApp(ctx context.Context, tenantID, ownerUserID, name string) (*apitoken.App, error) {
	const op = "create_app"
	if err := e.ready(); err != nil {
		return nil, err
	}
	app, err := e.tokens.CreateApp(ctx, tenantID, ownerUserID, name)
	if err != nil {
		return nil, tokenErr(op, err)
	}
	e.emitAudit(ctx, auditEventAppCreated, true, ownerUserID, tenantID, "", nil, func() map[string]string {
		return map[string]string{"app_id": app.ID}
	})
	return app, nil
}

// DeleteApp removes an app of tenantID together with all of its tokens.
func (e *Engine) DeleteApp(ctx context.Context, tenantID, appID string) error {
	const op = "delete_app"
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.appInTenant(ctx, op, tenantID, appID); err != nil {
		return err
	}
	if err := e.tokens.DeleteApp(ctx, appID); err != nil {
		return tokenErr(op, err)
	}
	e.emitAudit(ctx, auditEventAppDeleted, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{"app_id": appID}
	})
	return nil
}

// IssueAPIToken mints a token for an app of tenantID. The plaintext in the
// result is never retrievable again.
func (e *Engine) IssueAPIToken(ctx context.Context, tenantID, appID, name string, scopes []string, expiresInDays int) (*IssuedToken, error) {
	const op = "issue_api_token"
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.appInTenant(ctx, op, tenantID, appID); err != nil {
		return nil, err
	}
	issued, err := e.tokens.Issue(ctx, appID, name, scopes, expiresInDays)
	if err != nil {
		return nil, tokenErr(op, err)
	}
	e.metricInc(MetricAPITokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"app_id":     appID,
			"token_id":   issued.Token.ID,
			"prefix":     issued.Prefix,
			"scopes":     strconv.Itoa(len(issued.Scopes)),
			"expires_in": strconv.Itoa(expiresInDays),
		}
	})
	return issued, nil
}

// RevokeAPIToken soft-revokes a token of an app of tenantID.
func (e *Engine) RevokeAPIToken(ctx context.Context, tenantID, appID, tokenID string) error {
	const op = "revoke_api_token"
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.appInTenant(ctx, op, tenantID, appID); err != nil {
		return err
	}
	if err := e.tokens.Revoke(ctx, appID, tokenID); err != nil {
		return tokenErr(op, err)
	}
	e.metricInc(MetricAPITokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{"app_id": appID, "token_id": tokenID}
	})
	return nil
}

// ListAPITokens returns the tokens of an app of tenantID, revoked ones
// included.
func (e *Engine) ListAPITokens(ctx context.Context, tenantID, appID string) ([]apitoken.Token, error) {
	const op = "list_api_tokens"
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.appInTenant(ctx, op, tenantID, appID); err != nil {
		return nil, err
	}
	tokens, err := e.tokens.ListTokens(ctx, appID)
	if err != nil {
		return nil, tokenErr(op, err)
	}
	return tokens, nil
}

// AuthenticateAPIToken resolves a bearer value to its principal.
func (e *Engine) AuthenticateAPIToken(ctx context.Context, token string) (*apitoken.Principal, error) {
	const op = "authenticate_api_token"
	if err := e.ready(); err != nil {
		return nil, err
	}
	p, err := e.tokens.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, apitoken.ErrInvalidToken) {
			e.metricInc(MetricAPITokenInvalid)
			return nil, authErr(op, ErrInvalidToken)
		}
		return nil, infraErr(op, err)
	}
	e.metricInc(MetricAPITokenValid)
	return p, nil
}

// CheckScope is RequireScope with metrics and an audit event on denial.
func (e *Engine) CheckScope(ctx context.Context, scope string) error {
	err := RequireScope(ctx, scope)
	if err != nil && KindOf(err) == KindAuthorization {
		e.metricInc(MetricScopeDenied)
		c, _ := CallerFrom(ctx)
		e.emitAudit(ctx, auditEventScopeDenied, false, c.UserID(), c.TenantID(), "", err, func() map[string]string {
			return map[string]string{"required": scope}
		})
	}
	return err
}

func (e *Engine) appInTenant(ctx context.Context, op, tenantID, appID string) (*apitoken.App, error) {
	app, err := e.tokens.GetApp(ctx, appID)
	if err != nil {
		return nil, tokenErr(op, err)
	}
	if app.TenantID != tenantID {
		return nil, validationErr(op, "", ErrNotFound)
	}
	return app, nil
}

func tokenErr(op string, err error) error {
	var field *apitoken.FieldError
	switch {
	case errors.As(err, &field):
		return validationErr(op, field.Field, field.Err)
	case errors.Is(err, apitoken.ErrNotFound):
		return validationErr(op, "", ErrNotFound)
	case errors.Is(err, apitoken.ErrInvalidToken):
		return authErr(op, ErrInvalidToken)
	default:
		return infraErr(op, err)
	}
}
