package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const compareAndDeleteScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return -1
`

var compareAndDeleteLua = redis.NewScript(compareAndDeleteScript)

// Purpose scopes an emailed code to the flow that requested it.
type Purpose string

const (
	PurposeSetup Purpose = "setup"
	PurposeLogin Purpose = "login"
)

// CodeStore keeps the keyed digest of the outstanding email code per purpose
// and subject. The subject is the user id for setup and the challenge id for
// login. Only one code per subject is outstanding at a time.
type CodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCodeStore returns a store namespaced by prefix (default "gto").
func NewCodeStore(client redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "gto"
	}
	return &CodeStore{redis: client, prefix: prefix}
}

func (s *CodeStore) key(purpose Purpose, subject string) string {
	return s.prefix + ":" + string(purpose) + ":" + subject
}

// Put replaces the outstanding digest.
func (s *CodeStore) Put(ctx context.Context, purpose Purpose, subject, digest string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(purpose, subject), digest, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Outstanding reports whether a live code exists.
func (s *CodeStore) Outstanding(ctx context.Context, purpose Purpose, subject string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(purpose, subject)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

// Redeem deletes the outstanding code if digest matches it. A matched code can
// be redeemed exactly once.
func (s *CodeStore) Redeem(ctx context.Context, purpose Purpose, subject, digest string) (bool, error) {
	res, err := compareAndDeleteLua.Run(ctx, s.redis, []string{s.key(purpose, subject)}, digest).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res == 1, nil
}

// Clear drops the outstanding code.
func (s *CodeStore) Clear(ctx context.Context, purpose Purpose, subject string) error {
	if err := s.redis.Del(ctx, s.key(purpose, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
