package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plugin-gateway/middleware/quota"
	"plugin-gateway/middleware/security"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, h http.Handler, plugin, code string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"code": code})
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "http://host/api/plugins/"+plugin+"/execute", strings.NewReader(string(body)))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set(security.HeaderPluginID, plugin)
	r.Header.Set(security.HeaderPluginVersion, "0.1.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestExampleServer_PluginExecution(t *testing.T) {
	h, err := newHandler(t.Context(), zerolog.Nop())
	require.NoError(t, err)

	w := execute(t, h, "weather", "return fetch('https://api.example/forecast')")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"plugin":"weather","status":"queued","permissions":["network"]}`, w.Body.String())

	w = execute(t, h, "notes", "return fetch('https://api.example')")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), quota.CodePermissionDenied)

	w = execute(t, h, "hungry", "return 1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), quota.CodeMemoryQuotaExceeded)

	w = execute(t, h, "retired", "return 1")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), quota.CodeSandboxInactive)
}

func TestExampleServer_EchoesSanitizedInput(t *testing.T) {
	h, err := newHandler(t.Context(), zerolog.Nop())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "http://host/api/widgets?name=%3Cb%3Ebolt%3C%2Fb%3E",
		strings.NewReader(`{"label":"<script>alert(1)</script>nut"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Query     map[string][]string `json:"query"`
		Body      map[string]any      `json:"body"`
		RequestID string              `json:"requestId"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, []string{"bolt"}, got.Query["name"])
	assert.Equal(t, "nut", got.Body["label"])
	assert.NotEmpty(t, got.RequestID)
}
