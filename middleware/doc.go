// Package middleware adapts guestauth.Engine to net/http.
//
// Authenticate resolves the caller from the auth_token cookie or an API
// token bearer header. CSRF enforces the double-submit check on mutating
// cookie-authenticated requests. RequireScope gates a route on an API token
// scope. WriteError turns engine errors into status codes and JSON bodies.
//
// Handlers never see raw credentials; all decisions are delegated to the
// Engine.
package middleware
