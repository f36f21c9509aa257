package correlation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"plugin-gateway/middleware/verdict"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_SetsIDsAndRecordsRejection(t *testing.T) {
	c, _ := newTestCorrelator(t, Config{})
	var logs bytes.Buffer

	var ctxID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = IDFromContext(r.Context())
		verdict.Write(w, r, verdict.Invalid("PLUGIN_VERSION_REQUIRED", "Plugin version header is required").Rejection())
	})
	h := Middleware(Options{Correlator: c, Logger: zerolog.New(&logs)})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/api/plugins/weather/data", nil))

	id := w.Header().Get(HeaderRequestID)
	require.NotEmpty(t, id)
	assert.Equal(t, id, ctxID)
	assert.Len(t, w.Header().Get(HeaderShortRequestID), 8)

	entry, ok := c.Get(id)
	require.True(t, ok)
	assert.True(t, entry.Completed)
	assert.Equal(t, http.StatusBadRequest, entry.Status)
	assert.Equal(t, "PLUGIN_VERSION_REQUIRED", entry.Error)
	assert.Contains(t, entry.ResponseBody, "PLUGIN_VERSION_REQUIRED")

	// rejeição logada antes da resposta, com o ID de correlação
	dec := json.NewDecoder(&logs)
	var first map[string]any
	require.NoError(t, dec.Decode(&first))
	assert.Equal(t, "request rejected", first["message"])
	assert.Equal(t, id, first["request_id"])
	assert.Equal(t, "PLUGIN_VERSION_REQUIRED", first["code"])

	var second map[string]any
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "request completed", second["message"])
	assert.Equal(t, float64(400), second["status"])
}

func TestMiddleware_DefaultsStatusOK(t *testing.T) {
	c, _ := newTestCorrelator(t, Config{})
	h := Middleware(Options{Correlator: c, Logger: zerolog.Nop()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))

	entry, ok := c.Get(w.Header().Get(HeaderRequestID))
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.Equal(t, "ok", entry.ResponseBody)
	assert.Empty(t, entry.Error)
}

func TestMiddleware_LogsRedactedResponseHeaders(t *testing.T) {
	c, _ := newTestCorrelator(t, Config{})
	h := Middleware(Options{Correlator: c, Logger: zerolog.Nop()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"s3cr3t-value","ok":true}`))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))

	entry, ok := c.Get(w.Header().Get(HeaderRequestID))
	require.True(t, ok)
	assert.Equal(t, Redacted, entry.ResponseHeaders["Set-Cookie"])
	assert.Equal(t, "application/json", entry.ResponseHeaders["Content-Type"])
	assert.Equal(t, entry.ID, entry.ResponseHeaders[HeaderRequestID])
	assert.JSONEq(t, `{"token":"[REDACTED]","ok":true}`, entry.ResponseBody)
	assert.Equal(t, "session=abc", w.Header().Get("Set-Cookie"), "client still gets the cookie")
}

func TestRoutes(t *testing.T) {
	c, clock := newTestCorrelator(t, Config{})
	a := c.Begin(httptest.NewRequest(http.MethodGet, "http://example/api/widgets", nil))
	c.Finish(a.ID, Response{Status: 200, Elapsed: time.Millisecond})
	clock.Advance(time.Second)
	c.Begin(httptest.NewRequest(http.MethodPost, "http://example/api/auth/login", nil))

	mux := chi.NewRouter()
	mux.Mount("/api/admin/requests", Routes(c))

	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	w := get("/api/admin/requests?method=POST&completed=false")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count    int          `json:"count"`
		Requests []RequestLog `json:"requests"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "/api/auth/login", list.Requests[0].Path)

	w = get("/api/admin/requests/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var s Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))
	assert.Equal(t, 2, s.Total)

	w = get("/api/admin/requests/" + a.ShortID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), a.ID)

	assert.Equal(t, http.StatusNotFound, get("/api/admin/requests/deadbeef-missing").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/admin/requests?status=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/admin/requests?since=yesterday").Code)
}
