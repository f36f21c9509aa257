package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"plugin-gateway/middleware/admission"
	"plugin-gateway/middleware/correlation"
	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/quota"
	"plugin-gateway/middleware/ratelimit"
	"plugin-gateway/middleware/ratelimit/domain"
	"plugin-gateway/middleware/ratelimit/infra"
	"plugin-gateway/middleware/security"
	"plugin-gateway/middleware/verdict"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"

// gateway agrupa o handler público e os componentes com ciclo de vida
// (janitors, conexão Redis).
type gateway struct {
	handler    http.Handler
	memory     *infra.MemoryCounterStore
	correlator *correlation.Correlator
	rdb        *redis.Client
}

func newGateway(cfg Config, logger zerolog.Logger, reg prometheus.Registerer) (*gateway, error) {
	target, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	metrics := observability.NewMetrics(reg)
	g := &gateway{
		memory: infra.NewMemoryCounterStore(infra.WithCleanupEvery(cfg.CounterStore.CleanupEvery)),
	}

	if cfg.usesRedis() {
		g.rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
			// o failover decide o que fazer com erro; retry só atrasa o request
			MaxRetries: -1,
		})
	}

	var store domain.CounterStore = g.memory
	if cfg.CounterStore.Backend == "redis" {
		primary := infra.NewRedisCounterStore(g.rdb,
			infra.WithKeyPrefix(cfg.CounterStore.Prefix),
			infra.WithCommandTimeout(cfg.CounterStore.CommandTimeout),
		)
		store = infra.NewFailoverStore(primary, g.memory,
			infra.WithFailoverLogger(logger),
			infra.WithWarnInterval(cfg.CounterStore.WarnInterval),
			infra.WithDegradedHook(metrics.SetDegraded),
		)
	}

	var recorder domain.RejectionRecorder
	switch cfg.RateLimit.Recorder {
	case "memory":
		recorder = infra.NewMemoryRejectionRecorder(infra.WithTrackKeys(cfg.RateLimit.TrackKeys))
	case "redis":
		recorder = infra.NewRedisRejectionRecorder(g.rdb,
			infra.WithStatsPrefix(cfg.RateLimit.StatsPrefix),
			infra.WithStatsTTL(cfg.RateLimit.StatsTTL),
			infra.WithStatsBucket(cfg.RateLimit.StatsBucket),
			infra.WithStatsTrackKeys(cfg.RateLimit.TrackKeys),
		)
	}

	tiers, err := ratelimit.NewTierSet(ratelimit.ApplyOverrides(ratelimit.DefaultTiers(), cfg.TierOverrides()), ratelimit.DefaultRouteRules())
	if err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}
	lists, err := ratelimit.NewAddressLists(cfg.AddressLists.Allow, cfg.AddressLists.Deny)
	if err != nil {
		return nil, fmt.Errorf("address_lists: %w", err)
	}
	keys := ratelimit.KeyResolver{TrustXForwardedFor: cfg.Server.TrustXFF, Lists: lists}

	rules, err := security.NewRuleSet(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	enforcer, err := quota.NewEnforcer(cfg.Sandbox.Config)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	codeRoute, err := quota.CodeRouteMatcher(cfg.Sandbox.CodeRoute)
	if err != nil {
		return nil, fmt.Errorf("sandbox.code_route: %w", err)
	}

	var registry quota.Registry
	switch cfg.Sandbox.Registry {
	case "redis":
		registry = quota.NewRedisRegistry(g.rdb, quota.WithRegistryPrefix(cfg.Sandbox.RedisPrefix))
	default:
		registry = quota.NewStaticRegistry(cfg.Sandbox.Static)
	}

	g.correlator, err = correlation.New(cfg.Correlation, correlation.WithSizeHook(metrics.SetRequestLogs))
	if err != nil {
		return nil, fmt.Errorf("correlation: %w", err)
	}

	speed := ratelimit.SpeedOptions{Metrics: metrics}
	if cfg.Speed.Enabled {
		speed = ratelimit.SpeedOptions{
			Store:      store,
			Keys:       keys,
			Window:     cfg.Speed.Window,
			DelayAfter: cfg.Speed.DelayAfter,
			DelayStep:  cfg.Speed.DelayStep,
			MaxDelay:   cfg.Speed.MaxDelay,
			Metrics:    metrics,
		}
	}

	chain := admission.Middlewares(admission.Options{
		Correlation: correlation.Options{Correlator: g.correlator, Logger: logger, Metrics: metrics},
		Speed:       speed,
		Security:    security.Options{Gateway: security.NewGateway(rules), Metrics: metrics},
		RateLimit: ratelimit.Options{
			Store:               store,
			Tiers:               tiers,
			Keys:                keys,
			Recorder:            recorder,
			Metrics:             metrics,
			AddRateLimitHeaders: cfg.RateLimit.AddHeaders,
		},
		Slots: ratelimit.ConcurrencyOptions{
			Max:            cfg.Concurrency.Max,
			AcquireTimeout: cfg.Concurrency.AcquireTimeout,
			Keys:           keys,
			Applies:        codeRoute,
			Metrics:        metrics,
		},
		Quota: quota.Options{Enforcer: enforcer, Registry: registry, CodeRoute: codeRoute, Metrics: metrics},
	})

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("upstream", target.Host).Msg("proxy error")
		verdict.Write(w, r, &verdict.Rejection{
			Kind:    verdict.KindUnavailable,
			Status:  http.StatusBadGateway,
			Code:    codeUpstreamUnavailable,
			Message: "Plugin host is unreachable",
		})
	}

	r := chi.NewRouter()
	r.Get("/healthz", g.healthz)
	r.Group(func(r chi.Router) {
		r.Use(chain...)
		r.Mount("/api/admin/requests", correlation.Routes(g.correlator))
		r.Handle("/*", proxy)
	})
	g.handler = r

	logger.Info().
		Str("upstream", target.String()).
		Str("counter_store", cfg.CounterStore.Backend).
		Str("recorder", cfg.RateLimit.Recorder).
		Str("registry", cfg.Sandbox.Registry).
		Str("environment", cfg.Environment).
		Bool("speed", cfg.Speed.Enabled).
		Int("concurrency_max", cfg.Concurrency.Max).
		Msg("gateway configured")

	return g, nil
}

// start liga os janitors; param quando ctx encerra.
func (g *gateway) start(ctx context.Context) {
	g.memory.StartJanitor(ctx)
	g.correlator.StartJanitor(ctx)
}

func (g *gateway) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if g.rdb != nil {
		if err := g.rdb.Ping(r.Context()).Err(); err != nil {
			// contadores seguem em memória; o gateway continua servindo
			_, _ = w.Write([]byte(`{"status":"degraded","redis":"unreachable"}` + "\n"))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (g *gateway) Close() error {
	if g.rdb != nil {
		return g.rdb.Close()
	}
	return nil
}
