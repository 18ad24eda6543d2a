package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/guestauth/jwt"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, _ := newSessionStoreTest(t)
	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "guestauth",
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	return NewManager(store, signer)
}

var testIdentity = Identity{UserID: "u-1", TenantID: "t-1", Email: "owner@example.com"}

func TestCreateAndValidateAccess(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tokens, err := m.Create(ctx, testIdentity)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.SessionID == "" {
		t.Fatalf("incomplete tokens %+v", tokens)
	}

	sess, err := m.ValidateAccess(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sess.UserID != "u-1" || sess.TenantID != "t-1" {
		t.Fatalf("unexpected session %+v", sess)
	}

	if _, err := m.ValidateAccess(ctx, tokens.RefreshToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("refresh token must not pass as access, got %v", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, _ := m.Create(ctx, testIdentity)
	second, err := m.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.SessionID == first.SessionID || second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new session and refresh token")
	}

	if _, err := m.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("old refresh token must be rejected, got %v", err)
	}
	if _, err := m.ValidateAccess(ctx, first.AccessToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("old access token must be rejected, got %v", err)
	}
	if _, err := m.ValidateAccess(ctx, second.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	m := newTestManager(t)
	tokens, _ := m.Create(context.Background(), testIdentity)
	if _, err := m.Refresh(context.Background(), tokens.AccessToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	tokens, _ := m.Create(ctx, testIdentity)

	const workers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Refresh(ctx, tokens.RefreshToken)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	ids, _ := m.Store().ActiveSessionIDs(ctx, testIdentity.UserID)
	if len(ids) != 1 {
		t.Fatalf("expected one live session, got %v", ids)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	tokens, _ := m.Create(ctx, testIdentity)

	for i := 0; i < 2; i++ {
		if err := m.Delete(ctx, tokens.RefreshToken); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if err := m.Delete(ctx, "garbage"); err != nil {
		t.Fatalf("delete garbage: %v", err)
	}
	if _, err := m.ValidateAccess(ctx, tokens.AccessToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid after logout, got %v", err)
	}
}

func TestDeleteAllForUserEndsEverySession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	a, _ := m.Create(ctx, testIdentity)
	b, _ := m.Create(ctx, testIdentity)

	if err := m.DeleteAllForUser(ctx, testIdentity.UserID); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	for _, tok := range []*Tokens{a, b} {
		if _, err := m.Refresh(ctx, tok.RefreshToken); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	}
}
