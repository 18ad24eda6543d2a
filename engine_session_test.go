package guestauth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefresh_RotatesAndKillsOldToken(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.register(t)
	ctx := context.Background()
	first := te.login(t)

	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.SessionID == first.SessionID || second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a rotated session")
	}

	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused refresh token to fail, got %v", err)
	}
	requireKind(t, func() error { _, err := te.Refresh(ctx, first.RefreshToken); return err }(), KindAuthentication)

	if _, err := te.ValidateAccess(ctx, first.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old access token to be dead, got %v", err)
	}
	if _, err := te.ValidateAccess(ctx, second.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
}

func TestRefresh_ConcurrentReuseHasOneWinner(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.register(t)
	tokens := te.login(t)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := te.Refresh(context.Background(), tokens.RefreshToken); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", winners)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.register(t)
	tokens := te.login(t)

	if _, err := te.Refresh(context.Background(), tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token to be refused for refresh, got %v", err)
	}
	if _, err := te.ValidateAccess(context.Background(), tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token to be refused as access, got %v", err)
	}
}

func TestLogout_IsIdempotent(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.register(t)
	ctx := context.Background()
	tokens := te.login(t)

	if err := te.Logout(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := te.Logout(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}
	if err := te.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("Logout with garbage failed: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token dead after logout, got %v", err)
	}
	if _, err := te.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token dead after logout, got %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.register(t)
	ctx := context.Background()
	tokens := te.login(t)

	if err := te.RevokeSession(ctx, tokens.SessionID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestLogoutAll_EndsEverySession(t *testing.T) {
	te := newTestEngine(t, testConfig())
	user := te.register(t)
	ctx := context.Background()
	a := te.login(t)
	b := te.login(t)

	if err := te.LogoutAll(ctx, user.ID); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	for _, tok := range []*SessionTokens{a, b} {
		if _, err := te.ValidateAccess(ctx, tok.AccessToken); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected session %s to be dead, got %v", tok.SessionID, err)
		}
	}
}

func TestValidateAccess_ObservesLatency(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	te := newTestEngine(t, cfg)
	te.register(t)
	tokens := te.login(t)

	before := te.users.lookupCount()
	if _, err := te.ValidateAccess(context.Background(), tokens.AccessToken); err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if te.users.lookupCount() != before {
		t.Fatalf("expected access validation to skip the user store")
	}

	var total uint64
	for _, v := range te.MetricsSnapshot().Histograms[MetricValidateLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
}
