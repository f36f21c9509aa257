package ratelimit

import (
	"net/http"

	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/ratelimit/application"
	"plugin-gateway/middleware/ratelimit/domain"
	"plugin-gateway/middleware/verdict"

	"github.com/rs/zerolog"
)

const CodeAddressBlocked = "ADDRESS_BLOCKED"

type Options struct {
	Store    domain.CounterStore
	Clock    domain.Clock
	Tiers    *TierSet
	Keys     KeyResolver
	Recorder domain.RejectionRecorder
	Metrics  *observability.Metrics

	AddRateLimitHeaders bool
}

// Middleware avalia todos os tiers do path em ordem; a primeira rejeição
// encerra o request com 429 e Retry-After.
//
// Endereços na deny-list recebem 403 antes de qualquer contagem. Endereços na
// allow-list não consomem orçamento de tiers chaveados por endereço.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Tiers == nil {
		ts, err := NewTierSet(DefaultTiers(), DefaultRouteRules())
		if err != nil {
			panic(err)
		}
		opts.Tiers = ts
	}

	svc := application.Limiter{Store: opts.Store, Clock: opts.Clock}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if addr := opts.Keys.Address(r); addr.List == ListDeny {
				opts.Metrics.Rejected(observability.StageRateLimit, CodeAddressBlocked)
				verdict.Write(w, r, verdict.Forbidden(CodeAddressBlocked, "Requests from this address are blocked").Rejection())
				return
			}

			var best domain.Decision
			for _, tier := range opts.Tiers.Resolve(r.URL.Path) {
				id := opts.Keys.Resolve(r, tier.Strategy)
				if id.FromAddress && id.List == ListAllow {
					continue
				}

				dec, err := svc.Check(r.Context(), tier, id.Key)
				if err != nil {
					zerolog.Ctx(r.Context()).Warn().Err(err).
						Str("tier", string(tier.Name)).
						Msg("counter store failed, admitting request")
				}
				if !dec.Allowed {
					reject(w, r, opts, tier, id.Key, dec)
					return
				}
				best = application.Minimum(best, dec)
			}

			opts.Metrics.Admitted(observability.StageRateLimit)
			if opts.AddRateLimitHeaders && best.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatInt(best.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(best.Remaining))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, opts Options, tier domain.Tier, key domain.Key, dec domain.Decision) {
	ctx := r.Context()
	if opts.Recorder != nil {
		_ = opts.Recorder.Record(ctx, domain.RejectionEvent{
			Key:    key,
			Tier:   tier.Name,
			Code:   tier.Code,
			Method: r.Method,
			Path:   r.URL.Path,
			At:     opts.Clock.Now(),
		})
	}
	opts.Metrics.Rejected(observability.StageRateLimit, tier.Code)

	l := zerolog.Ctx(ctx).With().
		Str("tier", string(tier.Name)).
		Str("limit_key", string(key)).
		Logger()
	r = r.WithContext(l.WithContext(ctx))

	if opts.AddRateLimitHeaders {
		w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
		w.Header().Set("X-RateLimit-Remaining", "0")
	}
	verdict.Write(w, r, verdict.RateLimited(tier.Code, tier.Message, dec.RetryAfter).Rejection())
}
