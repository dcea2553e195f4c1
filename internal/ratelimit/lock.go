package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockHeld = errors.New("lock_held")

// Locker hands out Redis leases so only one replica runs a piece of work.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// Lease is owned by whoever acquired it until it is released or expires.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire returns ErrLockHeld when another owner holds key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("lock key and positive ttl are required")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release deletes the key only if this lease still owns it.
func (s *Lease) Release(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.locker.script.Run(ctx, s.locker.client, []string{s.key}, s.token).Err()
}
