package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plugin-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAddress_TrustXForwardedForUsesFirstIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	assert.Equal(t, "1.2.3.4", ClientAddress(r, true))
	assert.Equal(t, "10.0.0.9", ClientAddress(r, false))
}

func TestClientAddress_FallbacksToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", ClientAddress(r, true))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown", ClientAddress(r, true))
}

func TestKeyResolver_CredentialIsHashedAndFallsBack(t *testing.T) {
	k := KeyResolver{}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("Authorization", "Bearer secret-token")

	id := k.Resolve(r, domain.StrategyCredential)
	assert.True(t, strings.HasPrefix(string(id.Key), "cred:"))
	assert.NotContains(t, string(id.Key), "secret-token")
	assert.False(t, id.FromAddress)

	// X-API-Key tem precedência
	r.Header.Set("X-API-Key", "other")
	assert.NotEqual(t, id.Key, k.Resolve(r, domain.StrategyCredential).Key)

	bare := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	bare.RemoteAddr = "10.0.0.1:1234"
	id = k.Resolve(bare, domain.StrategyCredential)
	assert.Equal(t, domain.Key("10.0.0.1"), id.Key)
	assert.True(t, id.FromAddress)
}

func TestKeyResolver_PluginStrategy(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set(HeaderPluginID, "weather-widget")

	assert.Equal(t, domain.Key("plugin:weather-widget"), KeyResolver{}.Resolve(r, domain.StrategyPlugin).Key)
}

func TestAddressLists_PrefixesKeys(t *testing.T) {
	lists, err := NewAddressLists([]string{"10.0.0.0/8", "::1"}, []string{"10.6.6.6"})
	require.NoError(t, err)
	k := KeyResolver{Lists: lists}

	cases := []struct {
		remote string
		want   domain.Key
		list   ListMatch
	}{
		{"10.1.2.3:80", "allow:10.1.2.3", ListAllow},
		{"10.6.6.6:80", "deny:10.6.6.6", ListDeny},
		{"[::1]:80", "allow:::1", ListAllow},
		{"172.16.0.1:80", "172.16.0.1", ListNone},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = tc.remote
		id := k.Address(r)
		assert.Equal(t, tc.want, id.Key, tc.remote)
		assert.Equal(t, tc.list, id.List, tc.remote)
	}
}

func TestNewAddressLists_RejectsGarbage(t *testing.T) {
	_, err := NewAddressLists([]string{"not-an-ip"}, nil)
	assert.Error(t, err)
	_, err = NewAddressLists(nil, []string{"10.0.0.0/99"})
	assert.Error(t, err)
}
