// Package tokenstore is the TTL key-value store behind authorization codes,
// call sessions and counters.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("token_not_found")

// Store holds short-lived values. Take is an atomic read-and-delete: of any
// number of concurrent callers for one key, at most one receives the value.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Increment is the fixed-window counter primitive of the store: the
	// first call creates key with ttl, later calls add one without
	// extending it. No service counts through it today; tenant request
	// limits use the ratelimit token bucket, which needs refill rather
	// than windows.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func TakeJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Take(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
