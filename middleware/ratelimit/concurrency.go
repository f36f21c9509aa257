package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/ratelimit/application"
	"plugin-gateway/middleware/ratelimit/domain"
	"plugin-gateway/middleware/ratelimit/infra"
	"plugin-gateway/middleware/verdict"

	"github.com/rs/zerolog"
)

const CodeExecutionCapacity = "EXECUTION_CAPACITY_EXHAUSTED"

// ConcurrencyOptions limita execuções simultâneas por plugin.
type ConcurrencyOptions struct {
	// Max por plugin; <= 0 desliga o middleware.
	Max            int
	AcquireTimeout time.Duration
	Keys           KeyResolver
	// Pool opcional; padrão infra.NewKeyedChanPool(Max).
	Pool domain.SlotPool
	// Applies restringe o middleware a parte das rotas; nil aplica a todas.
	Applies func(r *http.Request) bool
	Metrics *observability.Metrics
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewKeyedChanPool(opts.Max)
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Applies != nil && !opts.Applies(r) {
				next.ServeHTTP(w, r)
				return
			}

			id := opts.Keys.Resolve(r, domain.StrategyPlugin)
			slot, err := svc.Acquire(r.Context(), id.Key)
			switch {
			case errors.Is(err, application.ErrSlotTimeout):
				opts.Metrics.Rejected(observability.StageSlots, CodeExecutionCapacity)
				verdict.Write(w, r, verdict.Unavailable(CodeExecutionCapacity, "Plugin has too many executions in progress").Rejection())
				return
			case err != nil:
				// cliente desistiu enquanto esperava; ninguém lê a resposta
				zerolog.Ctx(r.Context()).Debug().Err(err).Str("plugin_key", string(id.Key)).Msg("slot wait abandoned")
				return
			}
			defer slot.Release()

			if slot.Waited > time.Millisecond {
				zerolog.Ctx(r.Context()).Debug().Dur("waited", slot.Waited).Str("plugin_key", string(id.Key)).Msg("execution slot acquired")
			}
			opts.Metrics.Admitted(observability.StageSlots)
			next.ServeHTTP(w, r)
		})
	}
}
