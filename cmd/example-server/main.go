package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plugin-gateway/middleware/admission"
	"plugin-gateway/middleware/correlation"
	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/quota"
	"plugin-gateway/middleware/ratelimit"
	"plugin-gateway/middleware/ratelimit/infra"
	"plugin-gateway/middleware/security"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	// Exemplo: cadeia de admissão embutida direto no host de plugins (sem proxy)
	logger, err := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "console"}, os.Stderr)
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h, err := newHandler(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup failed")
	}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

// demoSandboxes são os plugins conhecidos pelo registry estático. "hungry"
// já estourou a memória e serve para ver a quota rejeitando.
func demoSandboxes() []quota.SandboxInfo {
	return []quota.SandboxInfo{
		{PluginID: "weather", IsActive: true, Permissions: []string{"network"}},
		{PluginID: "notes", IsActive: true, Permissions: []string{"storage"}},
		{PluginID: "hungry", IsActive: true, ResourceUsage: quota.ResourceUsage{MemoryUsageMB: 300}},
		{PluginID: "retired", IsActive: false},
	}
}

func newHandler(ctx context.Context, logger zerolog.Logger) (http.Handler, error) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store := infra.NewMemoryCounterStore()
	store.StartJanitor(ctx)

	tiers, err := ratelimit.NewTierSet(ratelimit.DefaultTiers(), ratelimit.DefaultRouteRules())
	if err != nil {
		return nil, err
	}
	rules, err := security.NewRuleSet(security.DefaultRuleConfig())
	if err != nil {
		return nil, err
	}
	enforcer, err := quota.NewEnforcer(quota.DefaultConfig())
	if err != nil {
		return nil, err
	}
	corr, err := correlation.New(correlation.DefaultConfig(), correlation.WithSizeHook(metrics.SetRequestLogs))
	if err != nil {
		return nil, err
	}
	corr.StartJanitor(ctx)

	keys := ratelimit.KeyResolver{TrustXForwardedFor: true}
	codeRoute, err := quota.CodeRouteMatcher(quota.DefaultCodeRoutePattern)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(admission.Middlewares(admission.Options{
		Correlation: correlation.Options{Correlator: corr, Logger: logger, Metrics: metrics},
		Speed: ratelimit.SpeedOptions{
			Store:      store,
			Keys:       keys,
			DelayAfter: 20,
			DelayStep:  250 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Metrics:    metrics,
		},
		Security: security.Options{Gateway: security.NewGateway(rules), Metrics: metrics},
		RateLimit: ratelimit.Options{
			Store:               store,
			Tiers:               tiers,
			Keys:                keys,
			Recorder:            infra.NewMemoryRejectionRecorder(),
			Metrics:             metrics,
			AddRateLimitHeaders: true,
		},
		Slots: ratelimit.ConcurrencyOptions{Max: 2, Keys: keys, Applies: codeRoute, Metrics: metrics},
		Quota: quota.Options{Enforcer: enforcer, Registry: quota.NewStaticRegistry(demoSandboxes()), CodeRoute: codeRoute, Metrics: metrics},
	})...)

	r.Mount("/api/admin/requests", correlation.Routes(corr))
	r.Post("/api/plugins/{id}/execute", executeHandler)
	r.HandleFunc("/*", echoHandler)
	return r, nil
}

// executeHandler finge executar o código já validado pela quota.
func executeHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"plugin": chi.URLParam(r, "id"), "status": "queued"}
	if sb, ok := quota.SandboxFromContext(r.Context()); ok {
		resp["permissions"] = sb.Permissions
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// echoHandler devolve o request como chegou depois da sanitização.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  r.URL.Query(),
	}
	if id, ok := correlation.IDFromContext(r.Context()); ok {
		resp["requestId"] = id
	}
	if r.Body != nil {
		var body any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			resp["body"] = body
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
