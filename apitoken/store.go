package apitoken

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned for missing apps and tokens.
var ErrNotFound = errors.New("api token record not found")

// Store persists apps and tokens. Implementations look tokens up by hash
// through a unique index.
type Store interface {
	CreateApp(ctx context.Context, app App) error
	GetApp(ctx context.Context, appID string) (*App, error)
	// DeleteApp removes the app and every token it holds.
	DeleteApp(ctx context.Context, appID string) error
	CreateToken(ctx context.Context, token Token) error
	// FindByHash returns the token with the given hash and its app.
	FindByHash(ctx context.Context, hash string) (*Token, *App, error)
	ListTokens(ctx context.Context, appID string) ([]Token, error)
	// RevokeToken stamps RevokedAt once. Revoking again keeps the first stamp.
	RevokeToken(ctx context.Context, appID, tokenID string, at time.Time) error
	TouchLastUsed(ctx context.Context, tokenID string, at time.Time) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	apps   map[string]App
	tokens map[string]Token
	byHash map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:   make(map[string]App),
		tokens: make(map[string]Token),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) CreateApp(_ context.Context, app App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apps[app.ID]; exists {
		return errors.New("app already exists")
	}
	s.apps[app.ID] = app
	return nil
}

func (s *MemoryStore) GetApp(_ context.Context, appID string) (*App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appID]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (s *MemoryStore) DeleteApp(_ context.Context, appID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[appID]; !ok {
		return ErrNotFound
	}
	delete(s.apps, appID)
	for id, t := range s.tokens {
		if t.AppID == appID {
			delete(s.byHash, t.Hash)
			delete(s.tokens, id)
		}
	}
	return nil
}

func (s *MemoryStore) CreateToken(_ context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[token.AppID]; !ok {
		return ErrNotFound
	}
	if _, dup := s.byHash[token.Hash]; dup {
		return errors.New("token hash collision")
	}
	token.Scopes = append([]string(nil), token.Scopes...)
	s.tokens[token.ID] = token
	s.byHash[token.Hash] = token.ID
	return nil
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*Token, *App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, nil, ErrNotFound
	}
	t := cloneToken(s.tokens[id])
	app, ok := s.apps[t.AppID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return &t, &app, nil
}

func (s *MemoryStore) ListTokens(_ context.Context, appID string) ([]Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.apps[appID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Token, 0)
	for _, t := range s.tokens {
		if t.AppID == appID {
			out = append(out, cloneToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RevokeToken(_ context.Context, appID, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok || t.AppID != appID {
		return ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		s.tokens[tokenID] = t
	}
	return nil
}

func (s *MemoryStore) TouchLastUsed(_ context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	t.LastUsedAt = &at
	s.tokens[tokenID] = t
	return nil
}

func cloneToken(t Token) Token {
	t.Scopes = append([]string(nil), t.Scopes...)
	return t
}
