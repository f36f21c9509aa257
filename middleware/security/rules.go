package security

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// RuleConfig é a forma configurável do RuleSet. Compilada uma única vez por
// NewRuleSet.
type RuleConfig struct {
	BlockedPatterns    []string `mapstructure:"blocked_patterns" yaml:"blocked_patterns"`
	AllowedOrigins     []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	RequiredHeaders    []string `mapstructure:"required_headers" yaml:"required_headers"`
	PluginRoutePattern string   `mapstructure:"plugin_route_pattern" yaml:"plugin_route_pattern"`
	PluginIDPattern    string   `mapstructure:"plugin_id_pattern" yaml:"plugin_id_pattern"`
	// RawFields são chaves do topo do corpo que passam sem sanitização em
	// POST para RawFieldsRoute (o código de plugin, validado depois pelo
	// quota enforcer). Em qualquer outro lugar são sanitizadas.
	RawFields      []string `mapstructure:"raw_fields" yaml:"raw_fields"`
	RawFieldsRoute string   `mapstructure:"raw_fields_route" yaml:"raw_fields_route"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// DefaultRawFieldsRoute é a rota de submissão de código.
const DefaultRawFieldsRoute = `^/api/plugins/[a-z0-9-]+/execute$`

// DefaultBlockedPatterns cobre path traversal, URIs executáveis, handlers
// inline e construções de avaliação de código.
func DefaultBlockedPatterns() []string {
	return []string{
		`\.\.[/\\]`,
		`(?i)javascript\s*:`,
		`(?i)vbscript\s*:`,
		`(?i)data\s*:\s*text/html`,
		`(?i)\bon[a-z]+\s*=`,
		`(?i)\beval\s*\(`,
		`(?i)\bnew\s+Function\s*\(`,
		`(?i)\bset(?:Timeout|Interval)\s*\(\s*["'\x60]`,
		`(?i)document\s*\.\s*(?:cookie|write)`,
		`(?i)expression\s*\(`,
	}
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		BlockedPatterns:    DefaultBlockedPatterns(),
		AllowedOrigins:     []string{"*"},
		PluginRoutePattern: `^/api/plugins/([^/]+)`,
		PluginIDPattern:    `^[a-z0-9-]+$`,
		RawFields:          []string{"code"},
		RawFieldsRoute:     DefaultRawFieldsRoute,
		MaxBodyBytes:       1 << 20,
	}
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	htmlTag     = regexp.MustCompile(`(?s)<[^<>]*>`)
)

// RuleSet é imutável depois de construído e seguro para uso concorrente.
type RuleSet struct {
	blocked []*regexp.Regexp

	anyOrigin bool
	origins   map[string]struct{}

	required []string

	pluginRoute *regexp.Regexp
	pluginID    *regexp.Regexp

	raw      map[string]struct{}
	rawRoute *regexp.Regexp
	maxBody  int64
}

func NewRuleSet(cfg RuleConfig) (*RuleSet, error) {
	def := DefaultRuleConfig()
	if cfg.PluginRoutePattern == "" {
		cfg.PluginRoutePattern = def.PluginRoutePattern
	}
	if cfg.PluginIDPattern == "" {
		cfg.PluginIDPattern = def.PluginIDPattern
	}
	if cfg.RawFieldsRoute == "" {
		cfg.RawFieldsRoute = def.RawFieldsRoute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	rs := &RuleSet{
		origins: make(map[string]struct{}, len(cfg.AllowedOrigins)),
		raw:     make(map[string]struct{}, len(cfg.RawFields)),
		maxBody: cfg.MaxBodyBytes,
	}

	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("blocked pattern %q: %w", p, err)
		}
		if re.MatchString("") {
			return nil, fmt.Errorf("blocked pattern %q matches the empty string", p)
		}
		rs.blocked = append(rs.blocked, re)
	}

	for _, o := range cfg.AllowedOrigins {
		o = normalizeOrigin(o)
		if o == "*" {
			rs.anyOrigin = true
			continue
		}
		if o != "" {
			rs.origins[o] = struct{}{}
		}
	}

	for _, h := range cfg.RequiredHeaders {
		if h = strings.TrimSpace(h); h != "" {
			rs.required = append(rs.required, h)
		}
	}

	var err error
	if rs.pluginRoute, err = regexp.Compile(cfg.PluginRoutePattern); err != nil {
		return nil, fmt.Errorf("plugin route pattern: %w", err)
	}
	if rs.pluginID, err = regexp.Compile(cfg.PluginIDPattern); err != nil {
		return nil, fmt.Errorf("plugin id pattern: %w", err)
	}
	if rs.rawRoute, err = regexp.Compile(cfg.RawFieldsRoute); err != nil {
		return nil, fmt.Errorf("raw fields route: %w", err)
	}

	for _, f := range cfg.RawFields {
		rs.raw[f] = struct{}{}
	}
	return rs, nil
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

func (rs *RuleSet) OriginAllowed(origin string) bool {
	if rs.anyOrigin {
		return true
	}
	_, ok := rs.origins[normalizeOrigin(origin)]
	return ok
}

// PluginRoute reporta se path é uma rota de plugin e, quando o padrão tem
// grupo de captura, o plugin ID do path.
func (rs *RuleSet) PluginRoute(path string) (pathID string, ok bool) {
	m := rs.pluginRoute.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return "", true
}

func (rs *RuleSet) ValidPluginID(id string) bool { return rs.pluginID.MatchString(id) }

func (rs *RuleSet) RawField(name string) bool {
	_, ok := rs.raw[name]
	return ok
}

// RawFieldsAllowed reporta se o corpo de r pode manter os RawFields do topo.
func (rs *RuleSet) RawFieldsAllowed(r *http.Request) bool {
	return r.Method == http.MethodPost && rs.rawRoute.MatchString(r.URL.Path)
}

func (rs *RuleSet) MaxBodyBytes() int64 { return rs.maxBody }

// Blocked reporta se s contém algum padrão bloqueado.
func (rs *RuleSet) Blocked(s string) bool {
	for _, re := range rs.blocked {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
