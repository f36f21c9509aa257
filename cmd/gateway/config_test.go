package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"plugin-gateway/middleware/quota"
	"plugin-gateway/middleware/ratelimit"
	"plugin-gateway/middleware/ratelimit/domain"
	"plugin-gateway/middleware/security"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "memory", cfg.CounterStore.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.CounterStore.CommandTimeout)
	assert.Equal(t, "static", cfg.Sandbox.Registry)
	assert.Equal(t, quota.DefaultConfig().Defaults, cfg.Sandbox.Defaults)
	assert.Len(t, cfg.Sandbox.Capabilities, len(quota.DefaultCapabilities()))
	assert.Equal(t, security.DefaultBlockedPatterns(), cfg.Security.BlockedPatterns)
	assert.Equal(t, []string{"code"}, cfg.Security.RawFields)
	assert.Equal(t, security.DefaultRawFieldsRoute, cfg.Security.RawFieldsRoute)
	assert.Equal(t, 10000, cfg.Correlation.MaxEntries)
	assert.Equal(t, 500*time.Millisecond, cfg.Speed.DelayStep)
	assert.Empty(t, cfg.TierOverrides())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_COUNTER_STORE_BACKEND", "redis")
	t.Setenv("GATEWAY_REDIS_ADDR", "redis:6379")
	t.Setenv("GATEWAY_ADDRESS_LISTS_DENY", "10.0.0.0/8,203.0.113.7")
	t.Setenv("GATEWAY_SPEED_DELAY_STEP", "250ms")
	t.Setenv("GATEWAY_SERVER_TRUST_XFF", "true")

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.CounterStore.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"10.0.0.0/8", "203.0.113.7"}, cfg.AddressLists.Deny)
	assert.Equal(t, 250*time.Millisecond, cfg.Speed.DelayStep)
	assert.True(t, cfg.Server.TrustXFF)
	assert.True(t, cfg.usesRedis())
}

func TestLoadConfig_FileWithEnvironments(t *testing.T) {
	path := writeConfig(t, `
environment: production
tiers:
  api:
    max_requests: 80
environments:
  production:
    api:
      window: 30s
    plugin-execution:
      max_requests: 5
sandbox:
  static:
    - plugin_id: weather
      is_active: true
      limits:
        max_memory_mb: 64
      permissions: [network]
`)
	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	overrides := cfg.TierOverrides()
	assert.Equal(t, ratelimit.TierOverride{Window: 30 * time.Second, MaxRequests: 80}, overrides[domain.TierAPI])
	assert.Equal(t, ratelimit.TierOverride{MaxRequests: 5}, overrides[domain.TierPluginExecution])

	require.Len(t, cfg.Sandbox.Static, 1)
	sb := cfg.Sandbox.Static[0]
	assert.Equal(t, "weather", sb.PluginID)
	assert.True(t, sb.IsActive)
	assert.Equal(t, 64.0, sb.Limits.MaxMemoryMB)
	assert.Equal(t, []string{"network"}, sb.Permissions)

	tiers := ratelimit.ApplyOverrides(ratelimit.DefaultTiers(), overrides)
	for _, tier := range tiers {
		if tier.Name == domain.TierAPI {
			assert.Equal(t, 30*time.Second, tier.Window)
			assert.Equal(t, 80, tier.MaxRequests)
		}
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"backend", "counter_store:\n  backend: etcd\n", "counter_store.backend"},
		{"upstream", "server:\n  upstream_url: ftp://host\n", "server.upstream_url"},
		{"environment", "environment: staging\nenvironments:\n  production:\n    api:\n      max_requests: 1\n", `environment "staging"`},
		{"duration", "speed:\n  window: soon\n", "decode config"},
		{"redis addr", "sandbox:\n  registry: redis\nredis:\n  addr: \"\"\n", "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(viper.New(), writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigCommand_PrintsYAML(t *testing.T) {
	t.Setenv("GATEWAY_REDIS_PASSWORD", "hunter2")
	path := writeConfig(t, "tiers:\n  auth:\n    max_requests: 3\n")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config", path})
	require.NoError(t, cmd.Execute())

	assert.NotContains(t, out.String(), "hunter2")

	var dumped map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out.String()), &dumped))
	assert.Equal(t, "memory", dumped["counter_store"].(map[string]any)["backend"])
	assert.Equal(t, 3, dumped["tiers"].(map[string]any)["auth"].(map[string]any)["max_requests"])
	assert.Equal(t, "15m0s", dumped["speed"].(map[string]any)["window"])
}
