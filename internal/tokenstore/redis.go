package tokenstore

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// INCR and set the expiry only on the first increment.
const incrementScript = `
local v = redis.call("INCR", KEYS[1])
if v == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`

type RedisStore struct {
	client    *redis.Client
	increment *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, increment: redis.NewScript(incrementScript)}
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return raw, err
}

// Take uses GETDEL so redemption is a single server-side step.
func (r *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return r.increment.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
}

var _ Store = (*RedisStore)(nil)
