package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry lê documentos JSON de SandboxInfo em <prefix><pluginID>,
// mantidos pelo executor de sandboxes.
type RedisRegistry struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

type RedisRegistryOption func(*RedisRegistry)

func WithRegistryPrefix(prefix string) RedisRegistryOption {
	return func(r *RedisRegistry) { r.prefix = strings.TrimRight(prefix, ":") + ":" }
}

func WithRegistryTimeout(d time.Duration) RedisRegistryOption {
	return func(r *RedisRegistry) { r.timeout = d }
}

func NewRedisRegistry(rdb redis.UniversalClient, opts ...RedisRegistryOption) *RedisRegistry {
	r := &RedisRegistry{rdb: rdb, prefix: "gateway:sandbox:", timeout: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Registry = (*RedisRegistry)(nil)

func (r *RedisRegistry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RedisRegistry) SandboxInfo(ctx context.Context, pluginID string) (*SandboxInfo, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	raw, err := r.rdb.Get(ctx, r.prefix+pluginID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sandbox %s: %w", pluginID, err)
	}

	var info SandboxInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode sandbox %s: %w", pluginID, err)
	}
	if info.PluginID == "" {
		info.PluginID = pluginID
	}
	return &info, nil
}

// Put grava o snapshot; usado para semear o registry (seed e testes).
func (r *RedisRegistry) Put(ctx context.Context, info SandboxInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode sandbox %s: %w", info.PluginID, err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.rdb.Set(ctx, r.prefix+info.PluginID, raw, 0).Err(); err != nil {
		return fmt.Errorf("write sandbox %s: %w", info.PluginID, err)
	}
	return nil
}
