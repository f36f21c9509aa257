package quota

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"plugin-gateway/middleware/observability"
	"plugin-gateway/middleware/security"
	"plugin-gateway/middleware/verdict"

	"github.com/rs/zerolog"
)

// DefaultCodeRoutePattern casa os endpoints de submissão de código.
const DefaultCodeRoutePattern = `^/api/plugins/[a-z0-9-]+/execute$`

// maxSubmissionBytes limita a leitura do corpo; o campo code ainda é
// checado contra MaxCodeBytes.
const maxSubmissionBytes = 1 << 20

type Options struct {
	Enforcer *Enforcer
	Registry Registry
	// CodeRoute decide quais requests carregam submissão de código.
	// Padrão: POST em DefaultCodeRoutePattern.
	CodeRoute func(r *http.Request) bool
	Metrics   *observability.Metrics
}

// CodeRouteMatcher monta um CodeRoute para POSTs cujo path casa com pattern.
func CodeRouteMatcher(pattern string) (func(r *http.Request) bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return func(r *http.Request) bool {
		return r.Method == http.MethodPost && re.MatchString(r.URL.Path)
	}, nil
}

// Middleware atua só em rotas de plugin, identificadas pelo PluginInfo que o
// security gateway anexou ao contexto. Falha do registry fecha com 503.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.CodeRoute == nil {
		m, err := CodeRouteMatcher(DefaultCodeRoutePattern)
		if err != nil {
			panic(err)
		}
		opts.CodeRoute = m
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plugin, ok := security.PluginFromContext(r.Context())
			if !ok || opts.Enforcer == nil || opts.Registry == nil {
				next.ServeHTTP(w, r)
				return
			}

			info, err := opts.Registry.SandboxInfo(r.Context(), plugin.ID)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Str("plugin_id", plugin.ID).Msg("sandbox registry lookup failed")
				deny(w, r, opts.Metrics, verdict.Unavailable(CodeRegistryUnavailable, "Sandbox registry is unavailable"))
				return
			}

			v := opts.Enforcer.Authorize(plugin.ID, info)
			if v.Passed() && opts.CodeRoute(r) {
				v = validateSubmission(r, opts.Enforcer, info)
			}
			if !v.Passed() {
				deny(w, r, opts.Metrics, v)
				return
			}

			opts.Metrics.Admitted(observability.StageQuota)
			next.ServeHTTP(w, r.WithContext(withSandbox(r.Context(), info)))
		})
	}
}

func validateSubmission(r *http.Request, e *Enforcer, info *SandboxInfo) verdict.Verdict {
	if r.Body == nil || r.Body == http.NoBody {
		return verdict.Invalid(CodeInvalidCodeSubmission, "Code submission body is required")
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSubmissionBytes+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return verdict.Invalid(CodeInvalidCodeSubmission, "Code submission could not be read")
	}
	if len(raw) > maxSubmissionBytes {
		return verdict.Invalid(CodeCodeTooLarge, "Code submission body is too large")
	}

	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return verdict.Invalid(CodeInvalidCodeSubmission, "Code submission must be a JSON object with a code field")
	}
	return e.ValidateCode(info, sub)
}

func deny(w http.ResponseWriter, r *http.Request, m *observability.Metrics, v verdict.Verdict) {
	rej := v.Rejection()
	m.Rejected(observability.StageQuota, rej.Code)
	verdict.Write(w, r, rej)
}
