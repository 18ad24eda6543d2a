package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

const (
	// CookieName is the cookie carrying the token to client script.
	CookieName = "csrf_token"
	// HeaderName is the request header echoing the token on mutating requests.
	HeaderName = "X-CSRF-Token"

	randomBytes  = 32
	minSecretLen = 32
)

// ErrWeakSecret is returned by New when the HMAC secret is shorter than 32 bytes.
var ErrWeakSecret = errors.New("csrf secret must be at least 32 bytes")

// Guard issues and validates tokens under one secret.
type Guard struct {
	secret []byte
	rand   io.Reader
}

// New returns a Guard keyed by secret. The slice is copied.
func New(secret []byte) (*Guard, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Guard{secret: key, rand: rand.Reader}, nil
}

// Issue returns a fresh token.
func (g *Guard) Issue() (string, error) {
	raw := make([]byte, randomBytes)
	if _, err := io.ReadFull(g.rand, raw); err != nil {
		return "", err
	}
	random := hex.EncodeToString(raw)
	return random + "." + g.sign(random), nil
}

// Validate reports whether token was issued under this guard's secret.
// Empty or malformed input returns false.
func (g *Guard) Validate(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}

	want := g.sign(parts[0])
	if len(want) != len(parts[1]) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(parts[1])) == 1
}

func (g *Guard) sign(random string) string {
	mac := hmac.New(sha256.New, g.secret)
	_, _ = mac.Write([]byte(random))
	return hex.EncodeToString(mac.Sum(nil))
}
