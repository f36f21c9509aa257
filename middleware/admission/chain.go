// Package admission compõe os estágios de admissão na ordem em que cada
// request os atravessa.
package admission

import (
	"net/http"

	"plugin-gateway/middleware/correlation"
	"plugin-gateway/middleware/quota"
	"plugin-gateway/middleware/ratelimit"
	"plugin-gateway/middleware/security"

	"github.com/go-chi/chi/v5"
)

type Options struct {
	Correlation correlation.Options
	Speed       ratelimit.SpeedOptions
	Security    security.Options
	RateLimit   ratelimit.Options
	Slots       ratelimit.ConcurrencyOptions
	Quota       quota.Options
}

// Middlewares retorna os estágios em ordem:
// correlação → slow-down → security → rate limit → slots → quota.
//
// Security roda antes do rate limit para que requests malformados não
// consumam orçamento; a correlação envolve tudo para que toda rejeição saia
// com IDs e entre no log.
func Middlewares(opts Options) chi.Middlewares {
	return chi.Chain(
		correlation.Middleware(opts.Correlation),
		ratelimit.SpeedMiddleware(opts.Speed),
		security.Middleware(opts.Security),
		ratelimit.Middleware(opts.RateLimit),
		ratelimit.ConcurrencyMiddleware(opts.Slots),
		quota.Middleware(opts.Quota),
	)
}

// Chain envolve next com todos os estágios.
func Chain(opts Options, next http.Handler) http.Handler {
	return Middlewares(opts).Handler(next)
}
