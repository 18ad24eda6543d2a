package apitoken

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestAuthority(t *testing.T) (*Authority, *App) {
	t.Helper()
	a := NewAuthority(DefaultConfig(), NewMemoryStore(), nil, nil)
	t.Cleanup(a.Close)
	app, err := a.CreateApp(context.Background(), "tenant-1", "user-1", "Kiosk")
	if err != nil {
		t.Fatalf("CreateApp failed: %v", err)
	}
	return a, app
}

func TestIssueFormatAndStorage(t *testing.T) {
	a, app := newTestAuthority(t)
	ctx := context.Background()

	issued, err := a.Issue(ctx, app.ID, "ci", []string{ScopeEntriesWrite, ScopeEntriesRead, ScopeEntriesRead}, 30)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !strings.HasPrefix(issued.Plaintext, Marker) || len(issued.Plaintext) != tokenLength {
		t.Fatalf("unexpected plaintext shape %q", issued.Plaintext)
	}
	if issued.Prefix != issued.Plaintext[:PrefixLength] {
		t.Fatalf("prefix mismatch")
	}
	if issued.Hash != HashToken(issued.Plaintext) || len(issued.Hash) != 64 {
		t.Fatalf("unexpected hash %q", issued.Hash)
	}
	if got := strings.Join(issued.Scopes, ","); got != "entries:read,entries:write" {
		t.Fatalf("scopes not canonicalized: %s", got)
	}
	if issued.ExpiresAt == nil || issued.ExpiresAt.Sub(time.Now()) < 29*24*time.Hour {
		t.Fatalf("unexpected expiry %v", issued.ExpiresAt)
	}

	tokens, err := a.ListTokens(ctx, app.ID)
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected one token, got %d", len(tokens))
	}
	if strings.Contains(tokens[0].Hash, issued.Plaintext) || tokens[0].Hash == issued.Plaintext {
		t.Fatalf("plaintext must not be stored")
	}
}

func TestIssueValidation(t *testing.T) {
	a, app := newTestAuthority(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		scopes  []string
		days    int
		field   string
		wantErr error
	}{
		{"empty name", " ", []string{ScopeEntriesRead}, 0, "name", ErrInvalidName},
		{"no scopes", "x", nil, 0, "scopes", ErrNoScopes},
		{"unknown scope", "x", []string{"entries:delete"}, 0, "scopes", ErrUnknownScope},
		{"negative expiry", "x", []string{ScopeEntriesRead}, -1, "expires_in_days", ErrInvalidExpiry},
		{"expiry too far", "x", []string{ScopeEntriesRead}, 366, "expires_in_days", ErrInvalidExpiry},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Issue(ctx, app.ID, tc.token, tc.scopes, tc.days)
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tc.field || !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected field error on %s wrapping %v, got %v", tc.field, tc.wantErr, err)
			}
		})
	}

	if _, err := a.Issue(ctx, "missing", "x", []string{ScopeEntriesRead}, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown app, got %v", err)
	}
}

func TestValidateResolvesPrincipal(t *testing.T) {
	a, app := newTestAuthority(t)
	ctx := context.Background()
	issued, _ := a.Issue(ctx, app.ID, "ci", []string{ScopeEntriesRead}, 0)

	p, err := a.Validate(ctx, issued.Plaintext)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if p.AppID != app.ID || p.TenantID != "tenant-1" || p.OwnerUserID != "user-1" || p.TokenID != issued.Token.ID {
		t.Fatalf("unexpected principal %+v", p)
	}

	a.Close()
	tokens, _ := a.ListTokens(ctx, app.ID)
	if tokens[0].LastUsedAt == nil {
		t.Fatalf("expected LastUsedAt to be recorded")
	}
}

func TestValidateRejects(t *testing.T) {
	a, app := newTestAuthority(t)
	ctx := context.Background()
	issued, _ := a.Issue(ctx, app.ID, "ci", []string{ScopeEntriesRead}, 1)

	for _, bad := range []string{"", "Bearer x", "xyz_" + issued.Plaintext[4:], issued.Plaintext + "a", Marker + strings.Repeat("A", 43)} {
		if _, err := a.Validate(ctx, bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", bad, err)
		}
	}

	a.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := a.Validate(ctx, issued.Plaintext); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestRevokeIsSoft(t *testing.T) {
	a, app := newTestAuthority(t)
	ctx := context.Background()
	issued, _ := a.Issue(ctx, app.ID, "ci", []string{ScopeEntriesRead}, 0)

	if err := a.Revoke(ctx, app.ID, issued.Token.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := a.Validate(ctx, issued.Plaintext); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
	tokens, _ := a.ListTokens(ctx, app.ID)
	if len(tokens) != 1 || tokens[0].RevokedAt == nil {
		t.Fatalf("revoked token must be retained with RevokedAt")
	}
	if err := a.Revoke(ctx, "other-app", issued.Token.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign app, got %v", err)
	}
}

func TestDeleteAppCascades(t *testing.T) {
	a, app := newTestAuthority(t)
	ctx := context.Background()
	first, _ := a.Issue(ctx, app.ID, "one", []string{ScopeEntriesRead}, 0)
	second, _ := a.Issue(ctx, app.ID, "two", []string{ScopeEntriesWrite}, 0)

	if err := a.DeleteApp(ctx, app.ID); err != nil {
		t.Fatalf("DeleteApp failed: %v", err)
	}
	for _, issued := range []*Issued{first, second} {
		if _, err := a.Validate(ctx, issued.Plaintext); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken after cascade, got %v", err)
		}
	}
	if _, err := a.ListTokens(ctx, app.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckScopes(t *testing.T) {
	p := &Principal{Scopes: []string{ScopeEntriesRead}}

	if err := Check(p, ScopeEntriesRead); err != nil {
		t.Fatalf("expected granted scope to pass, got %v", err)
	}

	err := Check(p, ScopeEntriesWrite)
	var se *ScopeError
	if !errors.As(err, &se) || !errors.Is(err, ErrInsufficientScope) {
		t.Fatalf("expected ScopeError, got %v", err)
	}
	if se.Required != ScopeEntriesWrite || len(se.Granted) != 1 || se.Granted[0] != ScopeEntriesRead {
		t.Fatalf("unexpected scope error %+v", se)
	}

	if err := Check(nil, ScopeEntriesWrite); err != nil {
		t.Fatalf("cookie sessions must pass every scope, got %v", err)
	}
}

type failingTouchStore struct {
	*MemoryStore
}

func (failingTouchStore) TouchLastUsed(context.Context, string, time.Time) error {
	return errors.New("db down")
}

func TestUsageFailureDoesNotFailValidation(t *testing.T) {
	store := failingTouchStore{NewMemoryStore()}
	a := NewAuthority(DefaultConfig(), store, nil, nil)
	ctx := context.Background()
	app, _ := a.CreateApp(ctx, "t", "u", "app")
	issued, _ := a.Issue(ctx, app.ID, "ci", []string{ScopeEntriesRead}, 0)

	if _, err := a.Validate(ctx, issued.Plaintext); err != nil {
		t.Fatalf("Validate must succeed when usage write fails: %v", err)
	}
	a.Close()
	if a.usage.Failed() != 1 {
		t.Fatalf("expected one failed usage write, got %d", a.usage.Failed())
	}
}
