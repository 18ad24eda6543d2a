package twofactor

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

// Challenge binds a login-in-progress to a user after the password step.
type Challenge struct {
	UserID    string
	Email     string
	Method    Method
	ExpiresAt int64
	Attempts  uint16
}

// ChallengeStore keeps challenges in Redis keyed by the SHA-256 of the token,
// so a Redis dump does not yield usable tokens.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewChallengeStore returns a store namespaced by prefix (default "gtc").
func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "gtc"
	}
	return &ChallengeStore{redis: client, prefix: prefix, now: time.Now}
}

// NewChallengeToken returns 32 random bytes in base64url.
func NewChallengeToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ChallengeID is the stable identifier of a challenge token: hex(SHA-256).
// Login codes are bound to it so concurrent challenges never share a code.
func ChallengeID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *ChallengeStore) key(token string) string {
	return s.prefix + ":" + ChallengeID(token)
}

// Save stores record under token for ttl.
func (s *ChallengeStore) Save(ctx context.Context, token string, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get returns the live challenge for token or ErrChallengeInvalid.
func (s *ChallengeStore) Get(ctx context.Context, token string) (*Challenge, error) {
	if token == "" {
		return nil, ErrChallengeInvalid
	}
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, ErrChallengeInvalid
	}
	if s.now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(token)).Result()
		return nil, ErrChallengeInvalid
	}
	return record, nil
}

// Consume deletes the challenge. Only one concurrent caller observes true.
func (s *ChallengeStore) Consume(ctx context.Context, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure counts a failed verification and deletes the challenge once
// maxAttempts is reached. It reports whether the challenge was burned.
func (s *ChallengeStore) RecordFailure(ctx context.Context, token string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(token)

	for i := 0; i < maxRetries; i++ {
		var burned bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			record.Attempts++
			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if int(record.Attempts) >= maxAttempts || ttl <= 0 {
				burned = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return true, nil
			}
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return burned, nil
	}

	return false, fmt.Errorf("%w: challenge update contention", ErrBackendUnavailable)
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.UserID, record.Email, string(record.Method)} {
		if len(field) > 65535 {
			return nil, errors.New("challenge field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge version")
	}

	record := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	fields := make([]string, 3)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.UserID, record.Email, record.Method = fields[0], fields[1], Method(fields[2])
	return record, nil
}
