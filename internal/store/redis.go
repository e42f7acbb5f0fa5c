package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/ratelimit-go/internal/ratelimit"
)

const defaultRateLimitPrefix = "ratelimit:"

// casScript runs the compare half of compare-and-swap server-side, so one
// CAS attempt costs a single round trip and is all-or-nothing even when
// many application instances share the backend. An empty expected argument
// means "the key must not exist".
var casScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local expected = ARGV[1]
if current == false then
	if expected ~= '' then
		return 0
	end
elseif current ~= expected then
	return 0
end
local px = tonumber(ARGV[3])
if px > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', px)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// RedisStore is a Redis implementation of ratelimit.Store, for enforcing a
// single global budget per key across many application instances. Redis
// owns key expiry, so idle keys do not leak memory.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed rate limit store with the default
// "ratelimit:" key prefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return NewRedisStoreWithPrefix(client, defaultRateLimitPrefix)
}

// NewRedisStoreWithPrefix creates a Redis-backed rate limit store with a
// custom key prefix. An empty prefix falls back to the default.
func NewRedisStoreWithPrefix(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

// Get returns the stored value for key, or nil when the key is absent.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, err
	}

	return val, nil
}

// CompareAndSwap atomically replaces the value for key via a Lua script.
// The caller-supplied context bounds the round trip.
func (r *RedisStore) CompareAndSwap(
	ctx context.Context, key string, expected, next []byte, ttl time.Duration,
) (bool, error) {
	px := ttl.Milliseconds()
	if ttl > 0 && px == 0 {
		px = 1
	}

	res, err := casScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		string(expected), // nil becomes "", the "must not exist" sentinel
		string(next),
		px,
	).Int()
	if err != nil {
		return false, err
	}

	return res == 1, nil
}

// Compile-time check.
var _ ratelimit.Store = (*RedisStore)(nil)
