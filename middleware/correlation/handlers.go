package correlation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"plugin-gateway/middleware/verdict"

	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit  = 100
	codeInvalidFilter = "INVALID_FILTER"
	codeLogNotFound   = "REQUEST_LOG_NOT_FOUND"
)

// Routes expõe os logs para a API administrativa:
//
//	GET /          lista (filtros: method, status, path, since, until, completed, limit)
//	GET /stats     agregados
//	GET /{id}      uma entrada, por ID longo ou curto
func Routes(c *Correlator) http.Handler {
	r := chi.NewRouter()
	r.Get("/", listHandler(c))
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Stats())
	})
	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		e, ok := c.Get(chi.URLParam(r, "id"))
		if !ok {
			verdict.Write(w, r, &verdict.Rejection{
				Kind:    verdict.KindValidation,
				Status:  http.StatusNotFound,
				Code:    codeLogNotFound,
				Message: "No request log with that id",
			})
			return
		}
		writeJSON(w, http.StatusOK, e)
	})
	return r
}

func listHandler(c *Correlator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseFilter(r)
		if err != nil {
			verdict.Write(w, r, verdict.Invalid(codeInvalidFilter, err.Error()).Rejection())
			return
		}
		logs := c.List(f)
		writeJSON(w, http.StatusOK, map[string]any{"count": len(logs), "requests": logs})
	}
}

// ParseFilter lê o Filter da query string. since/until aceitam RFC 3339.
func ParseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Method: q.Get("method"),
		Path:   q.Get("path"),
		Limit:  defaultListLimit,
	}

	if v := q.Get("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Filter{}, errInvalid("status", v)
		}
		f.Status = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Filter{}, errInvalid("limit", v)
		}
		f.Limit = n
	}
	if v := q.Get("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Filter{}, errInvalid("completed", v)
		}
		f.Completed = &b
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return Filter{}, errInvalid(name, v)
			}
			*dst = t
		}
	}
	return f, nil
}

type filterError struct{ param, value string }

func (e filterError) Error() string {
	return "invalid value " + strconv.Quote(e.value) + " for " + e.param
}

func errInvalid(param, value string) error { return filterError{param: param, value: value} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
