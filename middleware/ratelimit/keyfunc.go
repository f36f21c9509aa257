package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"plugin-gateway/middleware/ratelimit/domain"
)

const (
	HeaderAPIKey   = "X-API-Key"
	HeaderPluginID = "X-Plugin-ID"
)

// ListMatch indica em qual lista estática o endereço do cliente caiu.
type ListMatch int

const (
	ListNone ListMatch = iota
	ListAllow
	ListDeny
)

func (m ListMatch) String() string {
	switch m {
	case ListAllow:
		return "allow"
	case ListDeny:
		return "deny"
	}
	return "none"
}

// AddressLists é a allow-list / deny-list de endereços (IPs ou prefixos CIDR).
// Deny tem precedência.
type AddressLists struct {
	allow []netip.Prefix
	deny  []netip.Prefix
}

// NewAddressLists faz o parse das entradas uma única vez.
func NewAddressLists(allow, deny []string) (*AddressLists, error) {
	a, err := parsePrefixes(allow)
	if err != nil {
		return nil, fmt.Errorf("allow list: %w", err)
	}
	d, err := parsePrefixes(deny)
	if err != nil {
		return nil, fmt.Errorf("deny list: %w", err)
	}
	return &AddressLists{allow: a, deny: d}, nil
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", s, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// Match classifica addr. Endereços que não fazem parse nunca casam.
func (l *AddressLists) Match(addr string) ListMatch {
	if l == nil {
		return ListNone
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return ListNone
	}
	a = a.Unmap().WithZone("")
	for _, p := range l.deny {
		if p.Contains(a) {
			return ListDeny
		}
	}
	for _, p := range l.allow {
		if p.Contains(a) {
			return ListAllow
		}
	}
	return ListNone
}

// Identity é a chave derivada para um tier.
type Identity struct {
	Key domain.Key
	// List só é preenchido quando a chave veio do endereço.
	List        ListMatch
	FromAddress bool
}

// KeyResolver deriva a identidade do cliente conforme a estratégia do tier.
type KeyResolver struct {
	TrustXForwardedFor bool
	// CredentialHeader tem precedência sobre Authorization. Padrão: X-API-Key.
	CredentialHeader string
	Lists            *AddressLists
}

// ClientAddress resolve o endereço do cliente: primeiro IP do X-Forwarded-For
// (se confiável), senão o host de RemoteAddr.
func ClientAddress(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func (k KeyResolver) Address(r *http.Request) Identity {
	addr := ClientAddress(r, k.TrustXForwardedFor)
	id := Identity{Key: domain.Key(addr), FromAddress: true, List: k.Lists.Match(addr)}
	switch id.List {
	case ListAllow:
		id.Key = domain.Key("allow:" + addr)
	case ListDeny:
		id.Key = domain.Key("deny:" + addr)
	}
	return id
}

// Resolve aplica a estratégia; credential e plugin caem para o endereço
// quando o request não traz a identidade correspondente.
func (k KeyResolver) Resolve(r *http.Request, strategy domain.KeyStrategy) Identity {
	switch strategy {
	case domain.StrategyCredential:
		if c := k.credential(r); c != "" {
			return Identity{Key: domain.Key("cred:" + hashCredential(c))}
		}
	case domain.StrategyPlugin:
		if id := strings.TrimSpace(r.Header.Get(HeaderPluginID)); id != "" {
			return Identity{Key: domain.Key("plugin:" + id)}
		}
	}
	return k.Address(r)
}

func (k KeyResolver) credential(r *http.Request) string {
	h := k.CredentialHeader
	if h == "" {
		h = HeaderAPIKey
	}
	if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
		return v
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return auth
}

// hashCredential evita que o segredo apareça em chaves do store e em logs.
func hashCredential(c string) string {
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:16])
}
