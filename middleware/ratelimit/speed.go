package ratelimit

import (
	"context"
	"net/http"
	"time"

	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/ratelimit/application"
	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog"
)

// SleepFunc espera d ou até ctx encerrar.
type SleepFunc func(ctx context.Context, d time.Duration) error

type SpeedOptions struct {
	Store domain.CounterStore
	Clock domain.Clock
	Keys  KeyResolver

	Window     time.Duration
	DelayAfter int
	DelayStep  time.Duration
	MaxDelay   time.Duration

	Sleep   SleepFunc
	Metrics *observability.Metrics
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SpeedMiddleware injeta latência progressiva por endereço. Nunca rejeita:
// falha do store apenas pula o atraso.
func SpeedMiddleware(opts SpeedOptions) func(next http.Handler) http.Handler {
	if opts.Store == nil || opts.DelayStep <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Window <= 0 {
		opts.Window = 15 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	svc := application.SpeedService{
		DelayAfter: opts.DelayAfter,
		DelayStep:  opts.DelayStep,
		MaxDelay:   opts.MaxDelay,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := opts.Keys.Address(r)
			if id.List == ListAllow {
				next.ServeHTTP(w, r)
				return
			}

			c, err := opts.Store.Incr(r.Context(), "speed:"+id.Key, opts.Window, opts.Clock.Now())
			if err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("speed limiter store failed, skipping delay")
				next.ServeHTTP(w, r)
				return
			}

			if d := svc.Delay(c.Count); d > 0 {
				opts.Metrics.ObserveDelay(d)
				w.Header().Set("X-SlowDown-Delay", formatMillis(d))
				if err := opts.Sleep(r.Context(), d); err != nil {
					zerolog.Ctx(r.Context()).Debug().Err(err).Dur("delay", d).Msg("client gone during slow-down")
					return
				}
			}
			opts.Metrics.Admitted(observability.StageSpeed)
			next.ServeHTTP(w, r)
		})
	}
}
