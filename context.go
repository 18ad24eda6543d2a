package guestauth

import (
	"context"

	"github.com/MrEthical07/guestauth/apitoken"
)

type clientIPContextKey struct{}
type callerContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for the per-IP throttles and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// Caller is the authenticated party of a request: a cookie session or an
// API token. Exactly one of Session and Token is set.
type Caller struct {
	Session *AccessIdentity
	Token   *apitoken.Principal
}

// UserID is the acting user; for API tokens it is the app owner.
func (c *Caller) UserID() string {
	switch {
	case c == nil:
		return ""
	case c.Session != nil:
		return c.Session.UserID
	case c.Token != nil:
		return c.Token.OwnerUserID
	}
	return ""
}

// TenantID is the tenant the caller acts within.
func (c *Caller) TenantID() string {
	switch {
	case c == nil:
		return ""
	case c.Session != nil:
		return c.Session.TenantID
	case c.Token != nil:
		return c.Token.TenantID
	}
	return ""
}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, c)
}

// CallerFrom returns the caller attached by WithCaller.
func CallerFrom(ctx context.Context) (*Caller, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(callerContextKey{}).(*Caller)
	return c, ok && c != nil
}

// RequireScope authorizes the request's caller for scope. Cookie sessions
// hold every scope; API tokens need it granted explicitly. A request with no
// caller fails with ErrUnauthenticated.
func RequireScope(ctx context.Context, scope string) error {
	c, ok := CallerFrom(ctx)
	if !ok {
		return authErr("require_scope", ErrUnauthenticated)
	}
	if c.Session != nil || c.Token == nil {
		return nil
	}
	if err := apitoken.Check(c.Token, scope); err != nil {
		return scopeErr("require_scope", scope, c.Token.Scopes)
	}
	return nil
}
