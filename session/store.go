package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("session store unavailable")

// ErrNotFound is returned for missing, expired or unreadable sessions.
var ErrNotFound = errors.New("session not found")

// ErrRefreshHashMismatch is returned when the presented refresh token is not
// the session's current one. The session is deleted.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

// parseSessionLua reads the v1 layout written by Encode.
const parseSessionLua = `
local function read_be64(s, i)
  local b1, b2, b3, b4, b5, b6, b7, b8 = string.byte(s, i, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function parse_session(data)
  if string.byte(data, 1) ~= 1 then
    return nil
  end

  local idx = 2
  local user_len = string.byte(data, idx)
  if not user_len then
    return nil
  end
  local user_id = string.sub(data, idx + 1, idx + user_len)
  idx = idx + 1 + user_len

  local tenant_len = string.byte(data, idx)
  if not tenant_len then
    return nil
  end
  idx = idx + 1 + tenant_len

  local email_len = string.byte(data, idx)
  if not email_len then
    return nil
  end
  idx = idx + 1 + email_len

  if #data ~= idx + 31 + 16 then
    return nil
  end
  local refresh_hash = string.sub(data, idx, idx + 31)
  idx = idx + 32 + 8

  return {
    user_id = user_id,
    refresh_hash = refresh_hash,
    expires_at = read_be64(data, idx)
  }
end
`

const deleteSessionScript = parseSessionLua + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
local parsed = parse_session(data)
if parsed then
  redis.call("SREM", ARGV[1] .. parsed.user_id, ARGV[2])
end
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const rotateSessionScript = parseSessionLua + `
local old_key = KEYS[1]
local new_key = KEYS[2]
local user_key = KEYS[3]
local user_id = ARGV[1]
local old_sid = ARGV[2]
local new_sid = ARGV[3]
local provided_hash = ARGV[4]
local next_blob = ARGV[5]
local ttl_ms = tonumber(ARGV[6])
local now_unix = tonumber(ARGV[7])

local data = redis.call("GET", old_key)
if not data then
  return 0
end

local parsed = parse_session(data)
if not parsed or not parsed.expires_at or parsed.user_id ~= user_id then
  return 4
end

if parsed.expires_at <= now_unix then
  redis.call("DEL", old_key)
  redis.call("SREM", user_key, old_sid)
  return 1
end

if parsed.refresh_hash ~= provided_hash then
  redis.call("DEL", old_key)
  redis.call("SREM", user_key, old_sid)
  return 2
end

redis.call("DEL", old_key)
redis.call("SREM", user_key, old_sid)
redis.call("SET", new_key, next_blob, "PX", ttl_ms)
redis.call("SADD", user_key, new_sid)
redis.call("PEXPIRE", user_key, ttl_ms)
return 3
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

// Store is a Redis-backed session store. Each session lives under its own key
// with a TTL equal to its remaining lifetime; a per-user set indexes live
// session ids for logout-everywhere.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store]. prefix sets the key namespace and
// defaults to "gs".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gs"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

// Save persists sess for ttl and adds it to the user's index.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	userKey := s.userKey(sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.PExpire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the live session or ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, ErrNotFound
	}
	sess.SessionID = sessionID
	if s.now().Unix() >= sess.ExpiresAt {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes a session and its index entry. Deleting a missing session is
// not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, s.userPrefix(), sessionID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session of userID.
//
// The index is read and then deleted in a transaction, so a session created
// between the two steps survives until the next call or its own expiry.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, sid := range sessionIDs {
		keys = append(keys, s.key(sid))
	}
	keys = append(keys, userKey)

	if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ActiveSessionIDs returns the indexed session ids of userID.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Rotate atomically replaces the session oldSessionID with next, provided the
// stored refresh hash equals providedHash. next must belong to the same user.
//
// A missing or expired session yields ErrNotFound. A hash mismatch deletes the
// old session and yields ErrRefreshHashMismatch.
func (s *Store) Rotate(ctx context.Context, oldSessionID string, providedHash [32]byte, next *Session, ttl time.Duration) error {
	blob, err := Encode(next)
	if err != nil {
		return err
	}

	code, err := rotateSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(oldSessionID), s.key(next.SessionID), s.userKey(next.UserID)},
		next.UserID,
		oldSessionID,
		next.SessionID,
		providedHash[:],
		blob,
		ttl.Milliseconds(),
		s.now().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound, rotateStatusExpired, rotateStatusInvalidBlob:
		return ErrNotFound
	case rotateStatusMismatch:
		return ErrRefreshHashMismatch
	default:
		return fmt.Errorf("%w: unknown rotate status %d", ErrUnavailable, code)
	}
}

// Ping reports Redis availability and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
