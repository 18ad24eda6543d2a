package apitoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrEthical07/guestauth/internal/logging"
)

const (
	// Marker starts every plaintext token and lets Validate reject foreign
	// bearer values without a store lookup.
	Marker = "gbk_"
	// PrefixLength is how much of the plaintext is kept for display.
	PrefixLength = 12

	tokenEntropyBytes = 32
	maxNameLength     = 100
)

var tokenLength = len(Marker) + base64.RawURLEncoding.EncodedLen(tokenEntropyBytes)

var (
	// ErrInvalidToken covers unknown, malformed, revoked and expired tokens.
	ErrInvalidToken = errors.New("invalid api token")
	// ErrInsufficientScope is wrapped by *ScopeError.
	ErrInsufficientScope = errors.New("insufficient scope")
	// ErrUnavailable wraps store failures during validation.
	ErrUnavailable = errors.New("api token store unavailable")

	ErrInvalidName   = errors.New("name must be 1-100 characters")
	ErrNoScopes      = errors.New("at least one scope is required")
	ErrInvalidExpiry = errors.New("expiry out of range")
)

// FieldError reports which input field was rejected.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

// ScopeError names the missing scope and what the token was granted.
type ScopeError struct {
	Required string
	Granted  []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("insufficient scope: requires %q, granted [%s]", e.Required, strings.Join(e.Granted, " "))
}

func (e *ScopeError) Unwrap() error { return ErrInsufficientScope }

// Config tunes the authority.
type Config struct {
	// MaxExpiryDays caps expiresInDays at issuance. Zero days means no expiry.
	MaxExpiryDays int
	// UsageBuffer sizes the last-used queue.
	UsageBuffer int
}

// DefaultConfig allows tokens up to a year and buffers 1024 usage stamps.
func DefaultConfig() Config {
	return Config{MaxExpiryDays: 365, UsageBuffer: 1024}
}

// Authority issues, validates and authorizes API tokens.
type Authority struct {
	config   Config
	store    Store
	registry *Registry
	usage    *UsageRecorder
	log      logging.Logger
	now      func() time.Time
}

// NewAuthority starts an Authority. Close stops its usage recorder.
func NewAuthority(cfg Config, store Store, registry *Registry, log logging.Logger) *Authority {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if cfg.MaxExpiryDays <= 0 {
		cfg.MaxExpiryDays = DefaultConfig().MaxExpiryDays
	}
	log = logging.OrNop(log).With("component", "apitoken")
	return &Authority{
		config:   cfg,
		store:    store,
		registry: registry,
		usage:    NewUsageRecorder(store, cfg.UsageBuffer, log),
		log:      log,
		now:      time.Now,
	}
}

// Registry returns the scope registry.
func (a *Authority) Registry() *Registry { return a.registry }

// Close flushes pending usage stamps.
func (a *Authority) Close() { a.usage.Close() }

// CreateApp registers a new app under tenantID.
func (a *Authority) CreateApp(ctx context.Context, tenantID, ownerUserID, name string) (*App, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return nil, &FieldError{Field: "name", Err: ErrInvalidName}
	}
	now := a.now()
	app := App{
		ID:          newID(now),
		TenantID:    tenantID,
		OwnerUserID: ownerUserID,
		Name:        name,
		CreatedAt:   now,
	}
	if err := a.store.CreateApp(ctx, app); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetApp returns the app or ErrNotFound.
func (a *Authority) GetApp(ctx context.Context, appID string) (*App, error) {
	return a.store.GetApp(ctx, appID)
}

// DeleteApp deletes the app and cascades to its tokens.
func (a *Authority) DeleteApp(ctx context.Context, appID string) error {
	return a.store.DeleteApp(ctx, appID)
}

// Issue mints a token for appID. The plaintext in the result is the only copy.
// expiresInDays of zero issues a non-expiring token.
func (a *Authority) Issue(ctx context.Context, appID, name string, scopes []string, expiresInDays int) (*Issued, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return nil, &FieldError{Field: "name", Err: ErrInvalidName}
	}
	if len(scopes) == 0 {
		return nil, &FieldError{Field: "scopes", Err: ErrNoScopes}
	}
	mask, err := a.registry.MaskOf(scopes)
	if err != nil {
		return nil, &FieldError{Field: "scopes", Err: err}
	}
	if expiresInDays < 0 || expiresInDays > a.config.MaxExpiryDays {
		return nil, &FieldError{Field: "expires_in_days", Err: ErrInvalidExpiry}
	}

	if _, err := a.store.GetApp(ctx, appID); err != nil {
		return nil, err
	}

	plaintext, err := newPlaintext()
	if err != nil {
		return nil, err
	}

	now := a.now()
	token := Token{
		ID:        newID(now),
		AppID:     appID,
		Name:      name,
		Hash:      HashToken(plaintext),
		Prefix:    plaintext[:PrefixLength],
		Scopes:    a.registry.Names(mask),
		CreatedAt: now,
	}
	if expiresInDays > 0 {
		exp := now.Add(time.Duration(expiresInDays) * 24 * time.Hour)
		token.ExpiresAt = &exp
	}

	if err := a.store.CreateToken(ctx, token); err != nil {
		return nil, err
	}

	return &Issued{
		Plaintext: plaintext,
		Prefix:    token.Prefix,
		Hash:      token.Hash,
		Scopes:    token.Scopes,
		ExpiresAt: token.ExpiresAt,
		Token:     token,
	}, nil
}

// Validate resolves a presented bearer value to its Principal.
func (a *Authority) Validate(ctx context.Context, presented string) (*Principal, error) {
	if !LooksLikeToken(presented) {
		return nil, ErrInvalidToken
	}

	token, app, err := a.store.FindByHash(ctx, HashToken(presented))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := a.now()
	if !token.Active(now) {
		return nil, ErrInvalidToken
	}

	a.usage.Record(token.ID, now)

	return &Principal{
		TokenID:     token.ID,
		AppID:       app.ID,
		TenantID:    app.TenantID,
		OwnerUserID: app.OwnerUserID,
		Scopes:      token.Scopes,
	}, nil
}

// Check authorizes p for scope. A nil principal is a cookie session and holds
// every scope.
func (a *Authority) Check(p *Principal, scope string) error {
	return Check(p, scope)
}

// Check is the registry-independent form of Authority.Check.
func Check(p *Principal, scope string) error {
	if p == nil || p.HasScope(scope) {
		return nil
	}
	granted := append([]string(nil), p.Scopes...)
	return &ScopeError{Required: scope, Granted: granted}
}

// Revoke soft-deletes a token. The record stays for audit.
func (a *Authority) Revoke(ctx context.Context, appID, tokenID string) error {
	return a.store.RevokeToken(ctx, appID, tokenID, a.now())
}

// ListTokens returns the stored tokens of appID. Plaintexts are never included.
func (a *Authority) ListTokens(ctx context.Context, appID string) ([]Token, error) {
	return a.store.ListTokens(ctx, appID)
}

// LooksLikeToken is the cheap syntactic pre-filter used before any lookup.
func LooksLikeToken(s string) bool {
	return len(s) == tokenLength && strings.HasPrefix(s, Marker)
}

// HashToken returns hex(SHA-256(plaintext)). Tokens carry full entropy so no
// salt is needed.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func newPlaintext() (string, error) {
	raw := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return Marker + base64.RawURLEncoding.EncodeToString(raw), nil
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0)).String()
}
