package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	// BackupCodeCount is how many backup codes are minted on enablement.
	BackupCodeCount = 10
	backupCodeBytes = 5
)

// CodeHasher derives keyed digests for short one-time codes. Codes are bound to
// a user and a purpose so a digest cannot be replayed across either.
type CodeHasher struct {
	pepper []byte
}

// NewCodeHasher returns a hasher keyed by pepper (at least 32 bytes).
func NewCodeHasher(pepper []byte) (*CodeHasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("code pepper must be at least 32 bytes")
	}
	key := make([]byte, len(pepper))
	copy(key, pepper)
	return &CodeHasher{pepper: key}, nil
}

// Hash returns hex(HMAC-SHA256(pepper, purpose || 0 || userID || 0 || code)).
func (h *CodeHasher) Hash(purpose, userID, code string) string {
	mac := hmac.New(sha256.New, h.pepper)
	_, _ = mac.Write([]byte(purpose))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(userID))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateBackupCodes returns n codes formatted as "xxxxx-xxxxx".
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		raw := make([]byte, backupCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		code := hex.EncodeToString(raw)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code[:5]+"-"+code[5:])
	}
	return codes, nil
}

// CanonicalizeBackupCode lowercases and strips separators so "ABCDE-12345",
// "abcde 12345" and "abcde12345" hash identically.
func CanonicalizeBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToLower(code) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewNumericCode returns a random decimal code of the given length.
func NewNumericCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
