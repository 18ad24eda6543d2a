// Package httpapi serves the guestauth Engine over HTTP with chi.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/internal/logging"
	"github.com/MrEthical07/guestauth/middleware"
)

// Options tune the HTTP surface.
type Options struct {
	// SecureCookies marks every cookie Secure. Set in production.
	SecureCookies bool
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy     bool
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server holds the handlers.
type Server struct {
	engine *guestauth.Engine
	log    logging.Logger
	opts   Options
}

// New returns a Server for engine.
func New(engine *guestauth.Engine, log logging.Logger, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{engine: engine, log: logging.OrNop(log).With("component", "httpapi"), opts: opts}
}

// csrfExempt are the unauthenticated entry points.
var csrfExempt = []string{
	"/auth/register",
	"/auth/login",
	"/auth/2fa/verify",
	"/auth/2fa/resend",
	"/auth/refresh",
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(s.opts.RequestTimeout))
	r.Use(middleware.ClientIP(s.opts.TrustProxy))
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.CSRFHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.CSRF(s.engine, s.log, csrfExempt...))

	r.Get("/healthz", s.health)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/2fa/verify", s.verifyLogin)
		r.Post("/2fa/resend", s.resendLoginCode)
		r.Post("/refresh", s.refresh)
		r.Post("/logout", s.logout)
		r.Get("/csrf", s.issueCSRF)
	})

	authed := middleware.Authenticate(s.engine, s.log)

	r.Route("/account", func(r chi.Router) {
		r.Use(authed)

		r.With(middleware.RequireScope(apitoken.ScopeTenantRead, s.log)).Get("/me", s.me)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)
			r.Get("/2fa", s.twoFactorStatus)
			r.Post("/2fa/setup", s.setupTwoFactor)
			r.Post("/2fa/verify", s.verifyTwoFactorSetup)
			r.Post("/2fa/resend", s.resendSetupCode)
			r.Post("/2fa/disable", s.disableTwoFactor)
			r.Post("/password", s.changePassword)
			r.Post("/logout-all", s.logoutAll)
		})
	})

	r.Route("/apps", func(r chi.Router) {
		r.Use(authed)
		r.Use(middleware.RequireSession)

		r.Get("/scopes", s.listScopes)
		r.Post("/", s.createApp)
		r.Route("/{appID}", func(r chi.Router) {
			r.Delete("/", s.deleteApp)
			r.Get("/tokens", s.listTokens)
			r.Post("/tokens", s.issueToken)
			r.Delete("/tokens/{tokenID}", s.revokeToken)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Health(r.Context()); err != nil {
		middleware.WriteError(w, r, s.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, s.log, err)
}

func caller(r *http.Request) *guestauth.Caller {
	c, _ := guestauth.CallerFrom(r.Context())
	return c
}
