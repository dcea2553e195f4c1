package ratelimit

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// MemoryBucket keeps limiters in process. Limits are per replica.
type MemoryBucket struct {
	limiters *gocache.Cache
	now      func() time.Time
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{
		limiters: gocache.New(10*time.Minute, time.Minute),
		now:      time.Now,
	}
}

func (m *MemoryBucket) Allow(_ context.Context, key string, r float64, burst int) (*Result, error) {
	if err := validateLimit(key, r, burst); err != nil {
		return nil, err
	}
	lim := m.limiter(key, r, burst)
	now := m.now()

	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return &Result{Allowed: false, Limit: burst, RetryAfter: delay}, nil
	}
	return newResult(true, lim.TokensAt(now), r, burst), nil
}

func (m *MemoryBucket) limiter(key string, r float64, burst int) *rate.Limiter {
	ttl := bucketTTL(r, burst)
	if v, ok := m.limiters.Get(key); ok {
		m.limiters.Set(key, v, ttl)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(r), burst)
	if err := m.limiters.Add(key, lim, ttl); err != nil {
		// lost the race to another request
		if v, ok := m.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

var (
	_ Bucket = (*TokenBucket)(nil)
	_ Bucket = (*MemoryBucket)(nil)
)
