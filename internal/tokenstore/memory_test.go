package tokenstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "oauth_code:abc", []byte("payload"), time.Minute))

	got, err := s.Take(ctx, "oauth_code:abc")
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))

	_, err = s.Take(ctx, "oauth_code:abc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTakeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	const workers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "k"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIncrementAndJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, "counter", time.Minute)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	type session struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, SetJSON(ctx, s, "call_session:1", session{ID: "1", Status: "active"}, time.Minute))

	var out session
	require.NoError(t, GetJSON(ctx, s, "call_session:1", &out))
	require.Equal(t, "active", out.Status)

	got, err := s.Get(ctx, "call_session:1")
	require.NoError(t, err)
	got[0] = 'x'
	require.NoError(t, GetJSON(ctx, s, "call_session:1", &out))

	require.NoError(t, s.Delete(ctx, "call_session:1"))
	require.ErrorIs(t, GetJSON(ctx, s, "call_session:1", &out), ErrNotFound)
}
