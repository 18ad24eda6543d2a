package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/internal/logging"
)

const (
	AccessCookie  = "auth_token"
	RefreshCookie = "refresh_token"
	CSRFCookie    = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"
)

// Authenticator resolves request credentials. *guestauth.Engine satisfies it.
type Authenticator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*guestauth.AccessIdentity, error)
	AuthenticateAPIToken(ctx context.Context, token string) (*apitoken.Principal, error)
}

// ClientIP attaches the peer address to the request context for the login
// throttles and audit events. With trustProxy the first X-Forwarded-For hop
// wins.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r, trustProxy)
			next.ServeHTTP(w, r.WithContext(guestauth.WithClientIP(r.Context(), ip)))
		})
	}
}

func remoteIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Authenticate requires a caller. An Authorization bearer header is treated
// as an API token; otherwise the auth_token cookie must hold a live access
// token. The resolved caller is attached with guestauth.WithCaller.
func Authenticate(a Authenticator, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				WriteError(w, r, log, guestauth.ErrEngineNotReady)
				return
			}

			caller, err := resolveCaller(r, a)
			if err != nil {
				WriteError(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(guestauth.WithCaller(r.Context(), caller)))
		})
	}
}

func resolveCaller(r *http.Request, a Authenticator) (*guestauth.Caller, error) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		p, err := a.AuthenticateAPIToken(r.Context(), token)
		if err != nil {
			return nil, err
		}
		return &guestauth.Caller{Token: p}, nil
	}

	c, err := r.Cookie(AccessCookie)
	if err != nil || c.Value == "" {
		return nil, &guestauth.Error{Kind: guestauth.KindAuthentication, Op: "authenticate", Err: guestauth.ErrUnauthenticated}
	}
	id, err := a.ValidateAccess(r.Context(), c.Value)
	if err != nil {
		return nil, err
	}
	return &guestauth.Caller{Session: id}, nil
}

// RequireScope rejects API token callers that were not granted scope.
// Cookie sessions always pass.
func RequireScope(scope string, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := guestauth.RequireScope(r.Context(), scope); err != nil {
				WriteError(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects API token callers on account routes that only a
// signed-in user may reach.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := guestauth.CallerFrom(r.Context())
		if !ok || c.Session == nil {
			WriteMessage(w, http.StatusForbidden, "session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
