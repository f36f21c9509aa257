package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisRejectionRecorder agrega rejeições em hashes do Redis, compartilhados
// entre instâncias.
type RedisRejectionRecorder struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisRecorderOption func(*RedisRejectionRecorder)

func WithStatsPrefix(prefix string) RedisRecorderOption {
	return func(s *RedisRejectionRecorder) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisRecorderOption {
	return func(s *RedisRejectionRecorder) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisRecorderOption {
	return func(s *RedisRejectionRecorder) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisRecorderOption {
	return func(s *RedisRejectionRecorder) { s.trackKeys = track }
}

func NewRedisRejectionRecorder(rdb redis.UniversalClient, opts ...RedisRecorderOption) *RedisRejectionRecorder {
	s := &RedisRejectionRecorder{
		rdb:    rdb,
		prefix: "gateway:rejections",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record grava o evento: campo por tier no total, bucket por minuto, contagem
// por rota e (opcional) por chave, em um único pipeline.
func (s *RedisRejectionRecorder) Record(ctx context.Context, ev domain.RejectionEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Tier)
	if field == "" {
		field = "unknown"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if routeField != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeField+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

// Totals lê o hash cumulativo por tier.
func (s *RedisRejectionRecorder) Totals(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, fmt.Errorf("read rejection totals: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
