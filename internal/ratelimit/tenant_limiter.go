package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/walue/internal/config"
	"go.uber.org/zap"
)

const keyTenantScope = "walue:ratelimit:tenant:%s:%s"

// Reasons reported in X-Rate-Limited-Reason.
const (
	ReasonTenantRate = "tenant_rate"
)

// TenantLimiter applies one token bucket per tenant and endpoint group.
// A nil limiter allows everything.
type TenantLimiter struct {
	bucket Bucket
	rate   float64
	burst  int
}

func NewTenantLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *TenantLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		log.Warn("rate limiting disabled: rate and burst must be positive",
			zap.Float64("rate", limitCfg.Rate),
			zap.Int("burst", limitCfg.Burst),
		)
		return nil
	}

	var bucket Bucket = NewTokenBucket(client)
	if client == nil {
		log.Warn("rate limiter running in memory; limits are per replica")
		bucket = NewMemoryBucket()
	}
	return NewTenantLimiterWithBucket(bucket, limitCfg.Rate, limitCfg.Burst)
}

func NewTenantLimiterWithBucket(bucket Bucket, rate float64, burst int) *TenantLimiter {
	return &TenantLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *TenantLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes a token for tenantID within scope.
func (l *TenantLimiter) Allow(ctx context.Context, tenantID, scope string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyTenantScope, strings.TrimSpace(tenantID), strings.TrimSpace(scope))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
