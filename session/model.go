package session

// Session is the server-side record of one login. It is keyed by SessionID and
// holds the SHA-256 of the current refresh token, never the token itself.
type Session struct {
	SessionID   string
	UserID      string
	TenantID    string
	Email       string
	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}

// Identity is the subject a session is created for.
type Identity struct {
	UserID   string
	TenantID string
	Email    string
}

// Tokens is the credential pair handed to the client.
type Tokens struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  int64
	RefreshExpiresAt int64
}
