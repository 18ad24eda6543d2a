// Package memory provides an in-process guestauth.UserStore for
// development mode and tests. State is lost on restart.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/MrEthical07/guestauth"
)

// UserStore keeps credential records in maps guarded by one RWMutex.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]guestauth.UserRecord
	byEmail map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]guestauth.UserRecord),
		byEmail: make(map[string]string),
	}
}

func (s *UserStore) CreateUser(_ context.Context, u guestauth.UserRecord) error {
	email := strings.ToLower(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return guestauth.ErrEmailTaken
	}
	u.Email = email
	s.byID[u.ID] = u
	s.byEmail[email] = u.ID
	return nil
}

func (s *UserStore) GetUserByEmail(_ context.Context, email string) (*guestauth.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, guestauth.ErrNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *UserStore) GetUserByID(_ context.Context, userID string) (*guestauth.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, guestauth.ErrNotFound
	}
	return &u, nil
}

func (s *UserStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return guestauth.ErrNotFound
	}
	u.PasswordHash = hash
	s.byID[userID] = u
	return nil
}

func (s *UserStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return guestauth.ErrNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byID, userID)
	return nil
}

// Len returns the number of stored users.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
