package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/middleware"
)

const refreshCookiePath = "/auth"

func (s *Server) setSessionCookies(w http.ResponseWriter, t *guestauth.SessionTokens, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    t.AccessToken,
		Path:     "/",
		MaxAge:   maxAge(t.AccessExpiresAt, now),
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.RefreshCookie,
		Value:    t.RefreshToken,
		Path:     refreshCookiePath,
		MaxAge:   maxAge(t.RefreshExpiresAt, now),
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.RefreshCookie,
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// the csrf cookie is read by client script and echoed in X-CSRF-Token
func (s *Server) setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CSRFCookie,
		Value:    token,
		Path:     "/",
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func maxAge(expires, now time.Time) int {
	secs := int(expires.Sub(now) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
