package verdict

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Body é o formato JSON de toda resposta de rejeição.
type Body struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// RetryAfterSeconds arredonda para cima e nunca retorna menos de 1s
// quando há recomendação.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Write registra a rejeição no logger do request (zerolog.Ctx) e escreve o
// JSON de erro. O log acontece antes da resposta para o audit trail ficar
// completo mesmo quando o handler nunca roda.
func Write(w http.ResponseWriter, r *http.Request, rej *Rejection) {
	if rej == nil {
		return
	}

	zerolog.Ctx(r.Context()).Warn().
		Str("code", rej.Code).
		Str("kind", string(rej.Kind)).
		Int("status", rej.Status).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request rejected")

	body := Body{
		Error:   http.StatusText(rej.Status),
		Message: rej.Message,
		Code:    rej.Code,
	}
	if secs := RetryAfterSeconds(rej.RetryAfter); secs > 0 {
		body.RetryAfter = &secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	_ = json.NewEncoder(w).Encode(body)
}
