package ratelimit

import (
	"fmt"
	"regexp"
	"time"

	"plugin-gateway/middleware/ratelimit/domain"
)

// RouteRule associa um padrão de path a um tier.
type RouteRule struct {
	Pattern string
	Tier    domain.TierName
}

// DefaultTiers retorna os orçamentos padrão, em ordem de avaliação.
func DefaultTiers() []domain.Tier {
	return []domain.Tier{
		{Name: domain.TierGlobal, Window: 15 * time.Minute, MaxRequests: 1000, Strategy: domain.StrategyAddress,
			Code: "GLOBAL_RATE_LIMIT_EXCEEDED", Message: "Too many requests from this address, please try again later"},
		{Name: domain.TierAPI, Window: time.Minute, MaxRequests: 50, Strategy: domain.StrategyCredential,
			Code: "API_RATE_LIMIT_EXCEEDED", Message: "API rate limit exceeded"},
		{Name: domain.TierAuth, Window: 15 * time.Minute, MaxRequests: 5, Strategy: domain.StrategyAddress,
			Code: "AUTH_RATE_LIMIT_EXCEEDED", Message: "Too many authentication attempts, please try again later"},
		{Name: domain.TierAdmin, Window: 15 * time.Minute, MaxRequests: 100, Strategy: domain.StrategyCredential,
			Code: "ADMIN_RATE_LIMIT_EXCEEDED", Message: "Admin rate limit exceeded"},
		{Name: domain.TierUpload, Window: time.Hour, MaxRequests: 10, Strategy: domain.StrategyAddress,
			Code: "UPLOAD_RATE_LIMIT_EXCEEDED", Message: "Upload limit exceeded, please try again later"},
		{Name: domain.TierSearch, Window: time.Minute, MaxRequests: 30, Strategy: domain.StrategyAddress,
			Code: "SEARCH_RATE_LIMIT_EXCEEDED", Message: "Search rate limit exceeded"},
		{Name: domain.TierPluginAPI, Window: time.Minute, MaxRequests: 100, Strategy: domain.StrategyPlugin,
			Code: "PLUGIN_API_RATE_LIMIT_EXCEEDED", Message: "Plugin API rate limit exceeded"},
		{Name: domain.TierPluginExecution, Window: time.Minute, MaxRequests: 10, Strategy: domain.StrategyPlugin,
			Code: "PLUGIN_EXECUTION_RATE_LIMIT_EXCEEDED", Message: "Plugin execution rate limit exceeded"},
	}
}

func DefaultRouteRules() []RouteRule {
	return []RouteRule{
		{Pattern: `^/api/`, Tier: domain.TierAPI},
		{Pattern: `^/api/auth/`, Tier: domain.TierAuth},
		{Pattern: `^/api/admin/`, Tier: domain.TierAdmin},
		{Pattern: `^/api/upload`, Tier: domain.TierUpload},
		{Pattern: `^/api/search`, Tier: domain.TierSearch},
		{Pattern: `^/api/plugins/`, Tier: domain.TierPluginAPI},
		{Pattern: `^/api/plugins/[a-z0-9-]+/execute$`, Tier: domain.TierPluginExecution},
	}
}

// TierOverride substitui janela e/ou máximo de um tier; zero mantém o valor.
type TierOverride struct {
	Window      time.Duration `mapstructure:"window" yaml:"window,omitempty"`
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests,omitempty"`
}

// ApplyOverrides retorna uma cópia de tiers com os overrides aplicados.
func ApplyOverrides(tiers []domain.Tier, overrides map[domain.TierName]TierOverride) []domain.Tier {
	out := make([]domain.Tier, len(tiers))
	copy(out, tiers)
	for i := range out {
		ov, ok := overrides[out[i].Name]
		if !ok {
			continue
		}
		if ov.Window > 0 {
			out[i].Window = ov.Window
		}
		if ov.MaxRequests > 0 {
			out[i].MaxRequests = ov.MaxRequests
		}
	}
	return out
}

type compiledRule struct {
	re   *regexp.Regexp
	tier domain.Tier
}

// TierSet resolve um path para a lista ordenada de tiers aplicáveis.
// Imutável depois de construído.
type TierSet struct {
	global *domain.Tier
	rules  []compiledRule
}

func NewTierSet(tiers []domain.Tier, rules []RouteRule) (*TierSet, error) {
	byName := make(map[domain.TierName]domain.Tier, len(tiers))
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("tier %s declared twice", t.Name)
		}
		byName[t.Name] = t
	}

	ts := &TierSet{}
	if g, ok := byName[domain.TierGlobal]; ok {
		ts.global = &g
	}
	for _, rule := range rules {
		t, ok := byName[rule.Tier]
		if !ok {
			return nil, fmt.Errorf("route %q references unknown tier %s", rule.Pattern, rule.Tier)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rule.Pattern, err)
		}
		ts.rules = append(ts.rules, compiledRule{re: re, tier: t})
	}
	return ts, nil
}

// Resolve retorna global (se configurado) seguido de cada tier cuja rota casa,
// na ordem das regras.
func (s *TierSet) Resolve(path string) []domain.Tier {
	if s == nil {
		return nil
	}
	out := make([]domain.Tier, 0, 3)
	if s.global != nil {
		out = append(out, *s.global)
	}
	for _, rule := range s.rules {
		if rule.re.MatchString(path) && !containsTier(out, rule.tier.Name) {
			out = append(out, rule.tier)
		}
	}
	return out
}

func containsTier(tiers []domain.Tier, name domain.TierName) bool {
	for _, t := range tiers {
		if t.Name == name {
			return true
		}
	}
	return false
}
