package ratecounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const incrScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var incrLua = redis.NewScript(incrScript)

// Redis is a Counter backed by Redis INCR/PEXPIRE. Expiry is enforced by Redis.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis returns a Redis-backed counter whose keys are namespaced by prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "grc"
	}
	return &Redis{redis: client, prefix: prefix, now: time.Now}
}

func (r *Redis) key(key string) string {
	return r.prefix + ":" + key
}

// Incr implements Counter.
func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (Entry, error) {
	ttlMillis := ttl.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = 1
	}

	res, err := incrLua.Run(ctx, r.redis, []string{r.key(key)}, ttlMillis).Int64Slice()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return Entry{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	return Entry{
		Count:     res[0],
		ExpiresAt: r.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Get implements Counter.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	k := r.key(key)

	pipe := r.redis.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Entry{Count: count}, true, nil
	}
	return Entry{Count: count, ExpiresAt: r.now().Add(ttl)}, true, nil
}

// Set implements Counter.
func (r *Redis) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := r.redis.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete implements Counter.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
