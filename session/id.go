package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ID is a random 128-bit session identifier.
type ID [16]byte

// NewID returns a fresh random ID.
func NewID() (ID, error) {
	var sid ID
	_, err := rand.Read(sid[:])
	return sid, err
}

// String is the compact base64url form used in keys and token claims.
func (s ID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseID decodes the String form.
func ParseID(sessionID string) (ID, error) {
	var sid ID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}
