package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisCounterStore_TakeSlidingWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisCounterStore(rdb, WithKeyPrefix("test"), WithCommandTimeout(time.Second))
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	for i := 1; i <= 3; i++ {
		st, err := s.Take(ctx, "k", time.Minute, 3, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		assert.True(t, st.Allowed)
		assert.Equal(t, i, st.Count)
	}

	st, err := s.Take(ctx, "k", time.Minute, 3, now.Add(10*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, now.Add(time.Millisecond), st.Oldest)

	assert.True(t, mr.Exists("test:k"))

	st, err = s.Take(ctx, "k", time.Minute, 3, now.Add(time.Minute+2*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, st.Allowed, "hits older than the window must be pruned")
	assert.Equal(t, 2, st.Count)
}

func TestRedisCounterStore_ConcurrentTakesNeverExceedMax(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisCounterStore(rdb, WithCommandTimeout(0))
	now := time.UnixMilli(1_700_000_000_000)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Take(context.Background(), "shared", time.Minute, 10, now)
			if err == nil && st.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted.Load())
}

func TestRedisCounterStore_IncrFixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisCounterStore(rdb)
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		c, err := s.Incr(ctx, "speed:k", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, i, c.Count)
	}
	assert.Equal(t, time.Minute, mr.TTL("gateway:counter:speed:k"))

	mr.FastForward(time.Minute)

	c, err := s.Incr(ctx, "speed:k", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
}

func TestRedisCounterStore_ErrorsWhenUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisCounterStore(rdb)
	mr.Close()

	_, err := s.Take(context.Background(), "k", time.Minute, 1, time.Now())
	assert.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)
