package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/guestauth/jwt"
)

// ErrInvalid is the single failure for any refresh or access token that does
// not map to a live session: bad signature, wrong type, expired, deleted or
// already rotated.
var ErrInvalid = errors.New("invalid session")

// Manager issues and rotates token pairs backed by a [Store].
type Manager struct {
	store  *Store
	signer *jwt.Manager
	now    func() time.Time
}

// NewManager combines store and signer. The refresh token lifetime is the
// session lifetime.
func NewManager(store *Store, signer *jwt.Manager) *Manager {
	return &Manager{store: store, signer: signer, now: time.Now}
}

// Store returns the underlying store.
func (m *Manager) Store() *Store { return m.store }

// Create starts a session for id and returns its token pair.
func (m *Manager) Create(ctx context.Context, id Identity) (*Tokens, error) {
	sess, refresh, refreshExp, err := m.mint(id, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, sess, m.signer.RefreshTTL()); err != nil {
		return nil, err
	}
	return m.finish(sess, refresh, refreshExp)
}

// Refresh rotates the session named by refreshToken. The presented token
// stops working whether or not the caller receives the new pair.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	claims, err := m.signer.Verify(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return nil, ErrInvalid
	}

	old, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if old.UserID != claims.Subject {
		return nil, ErrInvalid
	}

	next, refresh, refreshExp, err := m.mint(Identity{
		UserID:   old.UserID,
		TenantID: old.TenantID,
		Email:    old.Email,
	}, m.now())
	if err != nil {
		return nil, err
	}

	if err := m.store.Rotate(ctx, old.SessionID, sha256.Sum256([]byte(refreshToken)), next, m.signer.RefreshTTL()); err != nil {
		return nil, mapStoreErr(err)
	}
	return m.finish(next, refresh, refreshExp)
}

// Delete ends the session named by refreshToken. Unknown, expired or invalid
// tokens are ignored.
func (m *Manager) Delete(ctx context.Context, refreshToken string) error {
	claims, err := m.signer.Verify(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return nil
	}
	return m.store.Delete(ctx, claims.SessionID)
}

// Revoke ends a session by id.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// DeleteAllForUser ends every session of userID.
func (m *Manager) DeleteAllForUser(ctx context.Context, userID string) error {
	return m.store.DeleteAllForUser(ctx, userID)
}

// ValidateAccess verifies accessToken and confirms its session still exists,
// so logout takes effect before the access token expires.
func (m *Manager) ValidateAccess(ctx context.Context, accessToken string) (*Session, error) {
	claims, err := m.signer.Verify(accessToken, jwt.TypeAccess)
	if err != nil || claims.SessionID == "" {
		return nil, ErrInvalid
	}

	sess, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if sess.UserID != claims.Subject {
		return nil, ErrInvalid
	}
	return sess, nil
}

func (m *Manager) mint(id Identity, now time.Time) (*Session, string, time.Time, error) {
	sid, err := NewID()
	if err != nil {
		return nil, "", time.Time{}, err
	}

	refresh, refreshExp, err := m.signer.SignRefresh(id.UserID, id.Email, sid.String())
	if err != nil {
		return nil, "", time.Time{}, err
	}

	sess := &Session{
		SessionID:   sid.String(),
		UserID:      id.UserID,
		TenantID:    id.TenantID,
		Email:       id.Email,
		RefreshHash: sha256.Sum256([]byte(refresh)),
		CreatedAt:   now.Unix(),
		ExpiresAt:   refreshExp.Unix(),
	}
	return sess, refresh, refreshExp, nil
}

func (m *Manager) finish(sess *Session, refresh string, refreshExp time.Time) (*Tokens, error) {
	access, accessExp, err := m.signer.SignAccess(sess.UserID, sess.Email, sess.SessionID)
	if err != nil {
		return nil, err
	}
	return &Tokens{
		SessionID:        sess.SessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp.Unix(),
		RefreshExpiresAt: refreshExp.Unix(),
	}, nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRefreshHashMismatch):
		return ErrInvalid
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
