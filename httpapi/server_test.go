package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/internal/logging"
	"github.com/MrEthical07/guestauth/middleware"
	"github.com/MrEthical07/guestauth/storage/memory"
	"github.com/MrEthical07/guestauth/twofactor"
)

const (
	email    = "owner@example.com"
	password = "correct-password-123"
)

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	outbox *twofactor.Outbox
	engine *guestauth.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := guestauth.DefaultConfig()
	cfg.Tokens.PrivateKey = bytes.Repeat([]byte("k"), 32)
	cfg.CSRF.Secret = bytes.Repeat([]byte("c"), 32)
	cfg.TwoFactor.CodePepper = bytes.Repeat([]byte("p"), 32)
	cfg.RateLimit = guestauth.RateLimitConfig{}

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	outbox := twofactor.NewOutbox()
	engine, err := guestauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.NewUserStore()).
		WithCodeSender(outbox).
		WithLogger(discard).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(New(engine, logging.NewSlogLogger(discard), Options{}).Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{t: t, srv: srv, client: &http.Client{Jar: jar}, outbox: outbox, engine: engine}
}

type reply struct {
	code   int
	header http.Header
	body   middleware.Response
	raw    json.RawMessage
}

func (h *harness) do(method, path string, body any, headers map[string]string) reply {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	out := reply{code: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	if len(raw) > 0 {
		var env struct {
			middleware.Response
			Data json.RawMessage `json:"data"`
		}
		require.NoError(h.t, json.Unmarshal(raw, &env))
		out.body = env.Response
		out.raw = env.Data
	}
	return out
}

// mutate sends the csrf cookie value back in the header.
func (h *harness) mutate(method, path string, body any) reply {
	h.t.Helper()
	return h.do(method, path, body, map[string]string{middleware.CSRFHeader: h.cookie(middleware.CSRFCookie, "/")})
}

func (h *harness) cookie(name, path string) string {
	u, err := url.Parse(h.srv.URL + path)
	require.NoError(h.t, err)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (h *harness) data(r reply, dst any) {
	h.t.Helper()
	require.NoError(h.t, json.Unmarshal(r.raw, dst))
}

func (h *harness) registerAndLogin() {
	h.t.Helper()
	r := h.do(http.MethodPost, "/auth/register", credentialsRequest{Email: email, Password: password}, nil)
	require.Equal(h.t, http.StatusCreated, r.code)
	r = h.do(http.MethodPost, "/auth/login", credentialsRequest{Email: email, Password: password}, nil)
	require.Equal(h.t, http.StatusOK, r.code)
}

func TestSessionLifecycleWithTOTP(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin()

	require.NotEmpty(t, h.cookie(middleware.AccessCookie, "/"))
	require.NotEmpty(t, h.cookie(middleware.RefreshCookie, "/auth"))
	require.Empty(t, h.cookie(middleware.RefreshCookie, "/account"), "refresh cookie must stay under /auth")

	r := h.do(http.MethodGet, "/account/me", nil, nil)
	require.Equal(t, http.StatusOK, r.code)
	var me meResponse
	h.data(r, &me)
	assert.Equal(t, email, me.User.Email)
	assert.Equal(t, "session", me.Via)

	r = h.do(http.MethodPost, "/account/2fa/setup", map[string]string{"method": "totp"}, nil)
	require.Equal(t, http.StatusForbidden, r.code, "csrf header is required")

	r = h.mutate(http.MethodPost, "/account/2fa/setup", map[string]string{"method": "totp"})
	require.Equal(t, http.StatusOK, r.code)
	var setup map[string]string
	h.data(r, &setup)
	require.NotEmpty(t, setup["secret"])

	totp := twofactor.NewTOTP(twofactor.DefaultConfig().TOTP)
	code, err := totp.CodeAt(setup["secret"], time.Now())
	require.NoError(t, err)
	r = h.mutate(http.MethodPost, "/account/2fa/verify", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, r.code)
	var enrolled map[string][]string
	h.data(r, &enrolled)
	backups := enrolled["backup_codes"]
	require.Len(t, backups, 10)

	r = h.mutate(http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, r.code)
	require.Empty(t, h.cookie(middleware.AccessCookie, "/"))
	require.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/account/me", nil, nil).code)

	r = h.do(http.MethodPost, "/auth/login", credentialsRequest{Email: email, Password: password}, nil)
	require.Equal(t, http.StatusOK, r.code)
	var ch challengeResponse
	h.data(r, &ch)
	require.True(t, ch.TwoFactorRequired)
	require.Empty(t, h.cookie(middleware.AccessCookie, "/"), "no session before the second factor")

	code, err = totp.CodeAt(setup["secret"], time.Now())
	require.NoError(t, err)
	r = h.do(http.MethodPost, "/auth/2fa/verify", challengeRequest{ChallengeToken: ch.ChallengeToken, Code: code}, nil)
	require.Equal(t, http.StatusOK, r.code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/account/me", nil, nil).code)

	for i, want := range []int{http.StatusOK, http.StatusUnauthorized} {
		r = h.do(http.MethodPost, "/auth/login", credentialsRequest{Email: email, Password: password}, nil)
		require.Equal(t, http.StatusOK, r.code)
		h.data(r, &ch)
		r = h.do(http.MethodPost, "/auth/2fa/verify", challengeRequest{ChallengeToken: ch.ChallengeToken, Code: backups[0]}, nil)
		require.Equal(t, want, r.code, "backup code use %d", i+1)
	}
}

func TestRefreshRotationAndReuse(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin()
	old := h.cookie(middleware.RefreshCookie, "/auth")

	r := h.do(http.MethodPost, "/auth/refresh", nil, nil)
	require.Equal(t, http.StatusOK, r.code)
	require.NotEqual(t, old, h.cookie(middleware.RefreshCookie, "/auth"))

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/auth/refresh", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookie, Value: old})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	cleared := map[string]bool{}
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared[middleware.AccessCookie] && cleared[middleware.RefreshCookie], "both cookies cleared")
}

func TestAPITokenScopes(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin()

	r := h.mutate(http.MethodPost, "/apps", map[string]string{"name": "Moderation bot"})
	require.Equal(t, http.StatusCreated, r.code)
	var app appResponse
	h.data(r, &app)

	issue := func(scopes ...string) issuedResponse {
		r := h.mutate(http.MethodPost, "/apps/"+app.ID+"/tokens", map[string]any{"name": "ci", "scopes": scopes, "expires_in_days": 30})
		require.Equal(t, http.StatusCreated, r.code)
		var out issuedResponse
		h.data(r, &out)
		return out
	}
	reader := issue("entries:read")
	tenant := issue("tenant:read")

	bearer := func(token string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + token}
	}

	anon := &harness{t: t, srv: h.srv, client: http.DefaultClient}
	r = anon.do(http.MethodGet, "/account/me", nil, bearer(reader.Token))
	require.Equal(t, http.StatusForbidden, r.code)
	assert.Equal(t, "tenant:read", r.body.RequiredScope)
	assert.Equal(t, []string{"entries:read"}, r.body.GrantedScopes)

	r = anon.do(http.MethodGet, "/account/me", nil, bearer(tenant.Token))
	require.Equal(t, http.StatusOK, r.code)
	var me meResponse
	anon.data(r, &me)
	assert.Equal(t, "api_token", me.Via)

	r = anon.do(http.MethodPost, "/account/password", map[string]string{"current_password": password, "new_password": "another-password-1"}, bearer(tenant.Token))
	assert.Equal(t, http.StatusForbidden, r.code, "api tokens cannot manage the account")

	r = h.do(http.MethodGet, "/apps/"+app.ID+"/tokens", nil, nil)
	require.Equal(t, http.StatusOK, r.code)
	var listed []tokenResponse
	h.data(r, &listed)
	require.Len(t, listed, 2)

	r = h.mutate(http.MethodDelete, "/apps/"+app.ID+"/tokens/"+tenant.ID, nil)
	require.Equal(t, http.StatusNoContent, r.code)
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/account/me", nil, bearer(tenant.Token)).code)

	r = h.mutate(http.MethodDelete, "/apps/unknown-app", nil)
	assert.Equal(t, http.StatusNotFound, r.code)
}

func TestLoginLockoutSetsRetryAfter(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin()

	for i := 0; i < 10; i++ {
		r := h.do(http.MethodPost, "/auth/login", credentialsRequest{Email: email, Password: "wrong-password"}, nil)
		require.Equal(t, http.StatusUnauthorized, r.code)
		assert.Equal(t, "invalid credentials", r.body.Message)
	}
	r := h.do(http.MethodPost, "/auth/login", credentialsRequest{Email: email, Password: password}, nil)
	require.Equal(t, http.StatusTooManyRequests, r.code)
	assert.Equal(t, "1800", r.header.Get("Retry-After"))
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	h.registerAndLogin()

	r := h.do(http.MethodPost, "/auth/register", credentialsRequest{Email: email, Password: password}, nil)
	assert.Equal(t, http.StatusConflict, r.code)

	r = h.do(http.MethodPost, "/auth/register", map[string]string{"email": email, "pw": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, r.code)
	assert.Equal(t, "body", r.body.Field)

	r = h.do(http.MethodPost, "/auth/register", credentialsRequest{Email: "bob@example.com", Password: "short"}, nil)
	require.Equal(t, http.StatusBadRequest, r.code)
	assert.Equal(t, "password", r.body.Field)
}

func TestCSRFEndpointAndHealth(t *testing.T) {
	h := newHarness(t)

	r := h.do(http.MethodGet, "/auth/csrf", nil, nil)
	require.Equal(t, http.StatusOK, r.code)
	var out map[string]string
	h.data(r, &out)
	assert.Equal(t, out["csrf_token"], h.cookie(middleware.CSRFCookie, "/"))
	assert.True(t, h.engine.ValidateCSRFToken(out["csrf_token"]))

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", nil, nil).code)
}
