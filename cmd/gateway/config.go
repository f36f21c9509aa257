package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"plugin-gateway/middleware/correlation"
	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/quota"
	"plugin-gateway/middleware/ratelimit"
	"plugin-gateway/middleware/ratelimit/domain"
	"plugin-gateway/middleware/security"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "GATEWAY"

type Config struct {
	// Environment seleciona a entrada de Environments aplicada sobre Tiers.
	Environment  string                                                `mapstructure:"environment" yaml:"environment"`
	Server       ServerConfig                                          `mapstructure:"server" yaml:"server"`
	Log          observability.LogConfig                               `mapstructure:"log" yaml:"log"`
	Redis        RedisConfig                                           `mapstructure:"redis" yaml:"redis"`
	CounterStore CounterStoreConfig                                    `mapstructure:"counter_store" yaml:"counter_store"`
	RateLimit    RateLimitConfig                                       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Tiers        map[domain.TierName]ratelimit.TierOverride            `mapstructure:"tiers" yaml:"tiers,omitempty"`
	Environments map[string]map[domain.TierName]ratelimit.TierOverride `mapstructure:"environments" yaml:"environments,omitempty"`
	AddressLists AddressListsConfig                                    `mapstructure:"address_lists" yaml:"address_lists"`
	Speed        SpeedConfig                                           `mapstructure:"speed" yaml:"speed"`
	Security     security.RuleConfig                                   `mapstructure:"security" yaml:"security"`
	Sandbox      SandboxConfig                                         `mapstructure:"sandbox" yaml:"sandbox"`
	Correlation  correlation.Config                                    `mapstructure:"correlation" yaml:"correlation"`
	Concurrency  ConcurrencyConfig                                     `mapstructure:"concurrency" yaml:"concurrency"`
	Metrics      MetricsConfig                                         `mapstructure:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	UpstreamURL       string        `mapstructure:"upstream_url" yaml:"upstream_url"`
	TrustXFF          bool          `mapstructure:"trust_xff" yaml:"trust_xff"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RedisConfig é compartilhado por counter store, recorder e registry.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"-"`
	DB          int           `mapstructure:"db" yaml:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

type CounterStoreConfig struct {
	// Backend: "memory" ou "redis" (com fallback para memória).
	Backend        string        `mapstructure:"backend" yaml:"backend"`
	Prefix         string        `mapstructure:"prefix" yaml:"prefix"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	CleanupEvery   time.Duration `mapstructure:"cleanup_every" yaml:"cleanup_every"`
	WarnInterval   time.Duration `mapstructure:"warn_interval" yaml:"warn_interval"`
}

type RateLimitConfig struct {
	AddHeaders bool `mapstructure:"add_headers" yaml:"add_headers"`
	// Recorder: "memory", "redis" ou "none".
	Recorder    string        `mapstructure:"recorder" yaml:"recorder"`
	StatsPrefix string        `mapstructure:"stats_prefix" yaml:"stats_prefix"`
	StatsTTL    time.Duration `mapstructure:"stats_ttl" yaml:"stats_ttl"`
	StatsBucket string        `mapstructure:"stats_bucket" yaml:"stats_bucket"`
	TrackKeys   bool          `mapstructure:"track_keys" yaml:"track_keys"`
}

type AddressListsConfig struct {
	Allow []string `mapstructure:"allow" yaml:"allow"`
	Deny  []string `mapstructure:"deny" yaml:"deny"`
}

type SpeedConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Window     time.Duration `mapstructure:"window" yaml:"window"`
	DelayAfter int           `mapstructure:"delay_after" yaml:"delay_after"`
	DelayStep  time.Duration `mapstructure:"delay_step" yaml:"delay_step"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

type SandboxConfig struct {
	quota.Config `mapstructure:",squash" yaml:",inline"`
	// Registry: "static" (lista em Static) ou "redis".
	Registry    string              `mapstructure:"registry" yaml:"registry"`
	RedisPrefix string              `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	CodeRoute   string              `mapstructure:"code_route" yaml:"code_route"`
	Static      []quota.SandboxInfo `mapstructure:"static" yaml:"static,omitempty"`
}

type ConcurrencyConfig struct {
	Max            int           `mapstructure:"max" yaml:"max"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.upstream_url", "http://localhost:8081")
	v.SetDefault("server.trust_xff", false)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 2*time.Second)

	v.SetDefault("counter_store.backend", "memory")
	v.SetDefault("counter_store.prefix", "gateway:counter")
	v.SetDefault("counter_store.command_timeout", 100*time.Millisecond)
	v.SetDefault("counter_store.cleanup_every", time.Minute)
	v.SetDefault("counter_store.warn_interval", 30*time.Second)

	v.SetDefault("rate_limit.add_headers", true)
	v.SetDefault("rate_limit.recorder", "memory")
	v.SetDefault("rate_limit.stats_prefix", "gateway:rejections")
	v.SetDefault("rate_limit.stats_ttl", 24*time.Hour)
	v.SetDefault("rate_limit.stats_bucket", "minute")
	v.SetDefault("rate_limit.track_keys", false)

	v.SetDefault("address_lists.allow", []string{})
	v.SetDefault("address_lists.deny", []string{})

	v.SetDefault("speed.enabled", true)
	v.SetDefault("speed.window", 15*time.Minute)
	v.SetDefault("speed.delay_after", 50)
	v.SetDefault("speed.delay_step", 500*time.Millisecond)
	v.SetDefault("speed.max_delay", 20*time.Second)

	sec := security.DefaultRuleConfig()
	v.SetDefault("security.blocked_patterns", sec.BlockedPatterns)
	v.SetDefault("security.allowed_origins", sec.AllowedOrigins)
	v.SetDefault("security.required_headers", []string{})
	v.SetDefault("security.plugin_route_pattern", sec.PluginRoutePattern)
	v.SetDefault("security.plugin_id_pattern", sec.PluginIDPattern)
	v.SetDefault("security.raw_fields", sec.RawFields)
	v.SetDefault("security.raw_fields_route", sec.RawFieldsRoute)
	v.SetDefault("security.max_body_bytes", sec.MaxBodyBytes)

	sb := quota.DefaultConfig()
	v.SetDefault("sandbox.defaults.max_memory_mb", sb.Defaults.MaxMemoryMB)
	v.SetDefault("sandbox.defaults.max_network_requests", sb.Defaults.MaxNetworkRequests)
	v.SetDefault("sandbox.blocked_code_patterns", sb.BlockedCodePatterns)
	v.SetDefault("sandbox.capabilities", sb.Capabilities)
	v.SetDefault("sandbox.registry", "static")
	v.SetDefault("sandbox.redis_prefix", "gateway:sandbox")
	v.SetDefault("sandbox.code_route", quota.DefaultCodeRoutePattern)

	corr := correlation.DefaultConfig()
	v.SetDefault("correlation.max_entries", corr.MaxEntries)
	v.SetDefault("correlation.retention", corr.Retention)
	v.SetDefault("correlation.cleanup_every", corr.CleanupEvery)
	v.SetDefault("correlation.capture_body_bytes", corr.CaptureBodyBytes)

	v.SetDefault("concurrency.max", 4)
	v.SetDefault("concurrency.acquire_timeout", 2*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

// loadConfig monta a configuração em camadas: defaults, arquivo (opcional) e
// variáveis GATEWAY_* (ex.: GATEWAY_COUNTER_STORE_BACKEND=redis).
func loadConfig(v *viper.Viper, file string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// TierOverrides junta Tiers com o override do ambiente ativo; o ambiente
// vence por campo.
func (c Config) TierOverrides() map[domain.TierName]ratelimit.TierOverride {
	out := make(map[domain.TierName]ratelimit.TierOverride, len(c.Tiers))
	for name, o := range c.Tiers {
		out[name] = o
	}
	for name, o := range c.Environments[c.Environment] {
		cur := out[name]
		if o.Window > 0 {
			cur.Window = o.Window
		}
		if o.MaxRequests > 0 {
			cur.MaxRequests = o.MaxRequests
		}
		out[name] = cur
	}
	return out
}

func (c Config) usesRedis() bool {
	return c.CounterStore.Backend == "redis" || c.RateLimit.Recorder == "redis" || c.Sandbox.Registry == "redis"
}

func (c Config) validate() error {
	var errs []error

	if u, err := url.Parse(c.Server.UpstreamURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.upstream_url: invalid url %q", c.Server.UpstreamURL))
	}
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	errs = append(errs,
		oneOf("counter_store.backend", c.CounterStore.Backend, "memory", "redis"),
		oneOf("rate_limit.recorder", c.RateLimit.Recorder, "memory", "redis", "none"),
		oneOf("sandbox.registry", c.Sandbox.Registry, "static", "redis"),
	)
	if c.usesRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis.addr is required when a redis backend is selected"))
	}
	if c.Concurrency.Max < 0 {
		errs = append(errs, errors.New("concurrency.max must be >= 0"))
	}
	if c.Speed.Enabled && (c.Speed.DelayStep <= 0 || c.Speed.Window <= 0) {
		errs = append(errs, errors.New("speed.window and speed.delay_step must be > 0 when speed is enabled"))
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	if _, ok := c.Environments[c.Environment]; !ok && len(c.Environments) > 0 {
		errs = append(errs, fmt.Errorf("environment %q has no entry in environments", c.Environment))
	}
	for name, o := range c.TierOverrides() {
		if o.Window < 0 || o.MaxRequests < 0 {
			errs = append(errs, fmt.Errorf("tiers.%s: window and max_requests must be >= 0", name))
		}
	}
	return errors.Join(errs...)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(allowed, "|"))
}
