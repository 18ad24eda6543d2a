package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	minCost       = 1 << 10
	minSaltLength = 16
	minKeyLength  = 16
	separator     = ":"
)

// Config holds the scrypt cost parameters.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	N          int
	R          int
	P          int
	SaltLength int
	KeyLength  int
}

// DefaultConfig returns the interactive-login cost profile (N=16384, r=8, p=1).
func DefaultConfig() Config {
	return Config{
		N:          1 << 14,
		R:          8,
		P:          1,
		SaltLength: 16,
		KeyLength:  64,
	}
}

// Scrypt hashes and verifies passwords with golang.org/x/crypto/scrypt.
type Scrypt struct {
	config Config
	rand   io.Reader
}

// NewScrypt validates cfg and returns a hasher bound to it.
func NewScrypt(cfg Config) (*Scrypt, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Scrypt{config: cfg, rand: rand.Reader}, nil
}

// Hash derives a key from password with a fresh random salt and returns
// "saltHex:keyHex". An error means the randomness source or the KDF failed.
func (s *Scrypt) Hash(password string) (string, error) {
	salt := make([]byte, s.config.SaltLength)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key, err := s.derive(password, salt)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(salt) + separator + hex.EncodeToString(key), nil
}

// Verify reports whether password matches the encoded hash.
//
// Malformed encodings (missing separator, empty or non-hex parts) return
// false with a nil error so callers treat them exactly like a wrong password.
// A non-nil error is returned only when the KDF itself fails.
func (s *Scrypt) Verify(password, encoded string) (bool, error) {
	salt, want, ok := parse(encoded)
	if !ok {
		return false, nil
	}

	got, err := scrypt.Key([]byte(password), salt, s.config.N, s.config.R, s.config.P, len(want))
	if err != nil {
		return false, fmt.Errorf("scrypt: %w", err)
	}

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (s *Scrypt) derive(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, s.config.N, s.config.R, s.config.P, s.config.KeyLength)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return key, nil
}

func parse(encoded string) (salt, key []byte, ok bool) {
	saltHex, keyHex, found := strings.Cut(encoded, separator)
	if !found || saltHex == "" || keyHex == "" {
		return nil, nil, false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, nil, false
	}
	key, err = hex.DecodeString(keyHex)
	if err != nil {
		return nil, nil, false
	}

	return salt, key, true
}

func validateConfig(cfg Config) error {
	if cfg.N < minCost || cfg.N&(cfg.N-1) != 0 {
		return errors.New("password N must be a power of two >= 1024")
	}
	if cfg.R < 1 {
		return errors.New("password r must be >= 1")
	}
	if cfg.P < 1 {
		return errors.New("password p must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
