package correlation

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"plugin-gateway/middleware/observability"

	"github.com/rs/zerolog"
)

const (
	HeaderRequestID      = "X-Request-ID"
	HeaderShortRequestID = "X-Short-Request-ID"
)

// captureLimit basta para extrair o code de respostas de erro e para o
// snapshot truncado.
const captureLimit = 8 << 10

type idCtxKey struct{}

// IDFromContext retorna o ID longo do request.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idCtxKey{}).(string)
	return id, ok
}

type Options struct {
	Correlator *Correlator
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// Middleware deve ser o primeiro da cadeia: os IDs precisam existir antes de
// qualquer rejeição para que ela entre no log com correlação.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Correlator == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			entry := opts.Correlator.Begin(r)

			w.Header().Set(HeaderRequestID, entry.ID)
			w.Header().Set(HeaderShortRequestID, entry.ShortID)

			l := opts.Logger.With().
				Str("request_id", entry.ID).
				Str("short_id", entry.ShortID).
				Logger()
			ctx := l.WithContext(context.WithValue(r.Context(), idCtxKey{}, entry.ID))

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				elapsed := time.Since(start)
				opts.Correlator.Finish(entry.ID, Response{
					Status:  rec.status,
					Elapsed: elapsed,
					Header:  rec.Header(),
					Body:    rec.body.Bytes(),
				})
				opts.Metrics.ObserveRequest(r.Method, rec.status, elapsed)
				opts.Metrics.SetRequestLogs(opts.Correlator.Len())

				l.Info().
					Str("method", r.Method).
					Str("path", entry.Path).
					Int("status", rec.status).
					Dur("elapsed", elapsed).
					Msg("request completed")
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

// recorder guarda o status e o começo do corpo da resposta.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	if room := captureLimit - r.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		r.body.Write(b[:room])
	}
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap permite http.ResponseController alcançar o writer original.
func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
