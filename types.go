package guestauth

import (
	"context"
	"time"

	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/twofactor"
)

// UserRecord is the credential record of one account. Email is stored
// case-folded and is unique across tenants.
type UserRecord struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// UserStore persists credential records. Implementations return ErrNotFound
// for unknown users and ErrEmailTaken on a duplicate email.
type UserStore interface {
	CreateUser(ctx context.Context, user UserRecord) error
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	DeleteUser(ctx context.Context, userID string) error
}

// SessionTokens is the credential pair of a session.
type SessionTokens struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TwoFactorChallenge is handed out when the password step succeeds for a
// user with two-factor enabled.
type TwoFactorChallenge struct {
	Token     string
	Method    twofactor.Method
	ExpiresAt time.Time
}

// LoginResult carries either the session or a pending second-factor
// challenge; exactly one is set.
type LoginResult struct {
	UserID    string
	Session   *SessionTokens
	Challenge *TwoFactorChallenge
}

// RequiresTwoFactor reports whether the client must complete a challenge.
func (r *LoginResult) RequiresTwoFactor() bool {
	return r != nil && r.Challenge != nil
}

// RegisterInput creates a new account.
type RegisterInput struct {
	Email    string
	Password string
	// TenantID is minted when empty.
	TenantID string
}

// TwoFactorSetup is the enrollment data shown once to the user.
type TwoFactorSetup struct {
	Method twofactor.Method
	Secret string
	URI    string
}

// AccessIdentity is the subject behind a validated access token.
type AccessIdentity struct {
	UserID    string
	TenantID  string
	Email     string
	SessionID string
}

// IssuedToken is returned by IssueAPIToken; Plaintext is never shown again.
type IssuedToken = apitoken.Issued
