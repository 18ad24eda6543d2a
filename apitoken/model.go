package apitoken

import "time"

// App groups tokens under a tenant. Deleting an app deletes its tokens.
type App struct {
	ID          string
	TenantID    string
	OwnerUserID string
	Name        string
	CreatedAt   time.Time
}

// Token is the stored form of an API token. The plaintext is never stored.
type Token struct {
	ID         string
	AppID      string
	Name       string
	Hash       string
	Prefix     string
	Scopes     []string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// Active reports whether t may authenticate at now.
func (t *Token) Active(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// Issued is returned exactly once, at issuance.
type Issued struct {
	Plaintext string
	Prefix    string
	Hash      string
	Scopes    []string
	ExpiresAt *time.Time
	Token     Token
}

// Principal is the capability context of a validated token.
type Principal struct {
	TokenID     string
	AppID       string
	TenantID    string
	OwnerUserID string
	Scopes      []string
}

// HasScope reports whether scope was granted.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
