package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript faz prune + check + append em uma única execução.
// KEYS[1] = zset da chave; ARGV = now_ms, window_ms, max, member.
// Retorna {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	count = count + 1
	allowed = 1
end

local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// fixedWindowScript incrementa e arma o TTL no primeiro hit.
// Retorna {count, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// RedisCounterStore é o CounterStore compartilhado entre instâncias.
//
// A atomicidade vem dos scripts Lua: o Redis executa cada script sem
// intercalar outros comandos, então dois gateways nunca admitem além do max.
type RedisCounterStore struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

type RedisStoreOption func(*RedisCounterStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) {
		s.prefix = strings.TrimRight(prefix, ":") + ":"
	}
}

// WithCommandTimeout limita cada chamada ao Redis; 0 desliga.
func WithCommandTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisCounterStore) { s.timeout = d }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:     rdb,
		prefix:  "gateway:counter:",
		timeout: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Take implementa domain.CounterStore.
func (s *RedisCounterStore) Take(ctx context.Context, key domain.Key, window time.Duration, max int, now time.Time) (domain.WindowState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := slidingWindowScript.Run(ctx, s.rdb,
		[]string{s.prefix + string(key)},
		now.UnixMilli(), window.Milliseconds(), max, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.WindowState{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) != 3 {
		return domain.WindowState{}, fmt.Errorf("redis sliding window: unexpected reply length %d", len(res))
	}

	st := domain.WindowState{Allowed: res[0] == 1, Count: int(res[1])}
	if res[2] > 0 {
		st.Oldest = time.UnixMilli(res[2])
	}
	return st, nil
}

// Incr implementa domain.CounterStore.
func (s *RedisCounterStore) Incr(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.FixedCount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, s.rdb,
		[]string{s.prefix + string(key)},
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.FixedCount{}, fmt.Errorf("redis fixed window: %w", err)
	}
	if len(res) != 2 {
		return domain.FixedCount{}, fmt.Errorf("redis fixed window: unexpected reply length %d", len(res))
	}

	elapsed := window - time.Duration(res[1])*time.Millisecond
	return domain.FixedCount{Count: int(res[0]), WindowStart: now.Add(-elapsed)}, nil
}

func (s *RedisCounterStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
