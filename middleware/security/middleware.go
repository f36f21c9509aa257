package security

import (
	"net/http"
	"strings"
	"time"

	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/verdict"
)

type Options struct {
	Gateway *Gateway
	Metrics *observability.Metrics
	// Now é injetável em testes; padrão time.Now.
	Now func() time.Time
}

// Middleware valida e sanitiza o request antes de qualquer rate limit ou
// handler. Em rotas de plugin, anexa PluginInfo ao contexto.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Gateway == nil {
				next.ServeHTTP(w, r)
				return
			}

			v := opts.Gateway.Validate(r)
			if v.Passed() {
				v = opts.Gateway.SanitizeRequest(r)
			}
			if rej := v.Rejection(); rej != nil {
				opts.Metrics.Rejected(observability.StageSecurity, rej.Code)
				verdict.Write(w, r, rej)
				return
			}

			if _, ok := opts.Gateway.Rules().PluginRoute(r.URL.Path); ok {
				r = r.WithContext(WithPlugin(r.Context(), PluginInfo{
					ID:         strings.TrimSpace(r.Header.Get(HeaderPluginID)),
					Version:    strings.TrimSpace(r.Header.Get(HeaderPluginVersion)),
					ReceivedAt: opts.Now(),
				}))
			}

			opts.Metrics.Admitted(observability.StageSecurity)
			next.ServeHTTP(w, r)
		})
	}
}
