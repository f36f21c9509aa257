package quota

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"plugin-gateway/middleware/verdict"
)

// Códigos estáveis de rejeição.
const (
	CodeSandboxNotFound       = "SANDBOX_NOT_FOUND"
	CodeSandboxInactive       = "SANDBOX_INACTIVE"
	CodeMemoryQuotaExceeded   = "MEMORY_QUOTA_EXCEEDED"
	CodeNetworkQuotaExceeded  = "NETWORK_QUOTA_EXCEEDED"
	CodeCodeTooLarge          = "CODE_TOO_LARGE"
	CodeCodePatternBlocked    = "CODE_PATTERN_BLOCKED"
	CodePermissionDenied      = "PERMISSION_DENIED"
	CodeRegistryUnavailable   = "SANDBOX_REGISTRY_UNAVAILABLE"
	CodeInvalidCodeSubmission = "INVALID_CODE_SUBMISSION"
)

// MaxCodeBytes é o teto fixo de uma submissão de código, medido em bytes
// UTF-8 do campo code.
const MaxCodeBytes = 10000

type Defaults struct {
	MaxMemoryMB        float64 `mapstructure:"max_memory_mb" yaml:"max_memory_mb"`
	MaxNetworkRequests int     `mapstructure:"max_network_requests" yaml:"max_network_requests"`
}

// CapabilityRule infere uma permissão exigida a partir de um padrão no código.
type CapabilityRule struct {
	Pattern    string `mapstructure:"pattern" yaml:"pattern"`
	Permission string `mapstructure:"permission" yaml:"permission"`
}

type Config struct {
	Defaults            Defaults         `mapstructure:"defaults" yaml:"defaults"`
	BlockedCodePatterns []string         `mapstructure:"blocked_code_patterns" yaml:"blocked_code_patterns"`
	Capabilities        []CapabilityRule `mapstructure:"capabilities" yaml:"capabilities"`
}

func DefaultBlockedCodePatterns() []string {
	return []string{
		`\beval\s*\(`,
		`\bnew\s+Function\s*\(`,
		`\bchild_process\b`,
		`\bprocess\s*\.\s*(?:exit|kill|binding)\b`,
		`__proto__`,
		`\bconstructor\s*\.\s*constructor\b`,
	}
}

func DefaultCapabilities() []CapabilityRule {
	return []CapabilityRule{
		{Pattern: `\bfetch\s*\(`, Permission: "network"},
		{Pattern: `\bXMLHttpRequest\b`, Permission: "network"},
		{Pattern: `\bWebSocket\b`, Permission: "network"},
		{Pattern: `\b(?:localStorage|sessionStorage|indexedDB)\b`, Permission: "storage"},
		{Pattern: `\brequire\s*\(\s*['"](?:fs|path)['"]\s*\)`, Permission: "filesystem"},
	}
}

func DefaultConfig() Config {
	return Config{
		Defaults:            Defaults{MaxMemoryMB: 128, MaxNetworkRequests: 100},
		BlockedCodePatterns: DefaultBlockedCodePatterns(),
		Capabilities:        DefaultCapabilities(),
	}
}

type capability struct {
	re         *regexp.Regexp
	permission string
}

// Enforcer compara o snapshot do sandbox com os limites. É independente do
// rate limit: um plugin dentro do tier ainda pode estourar a quota.
type Enforcer struct {
	defaults Defaults
	blocked  []*regexp.Regexp
	caps     []capability
}

func NewEnforcer(cfg Config) (*Enforcer, error) {
	e := &Enforcer{defaults: cfg.Defaults}
	for _, p := range cfg.BlockedCodePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("blocked code pattern %q: %w", p, err)
		}
		e.blocked = append(e.blocked, re)
	}
	for _, c := range cfg.Capabilities {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("capability pattern %q: %w", c.Pattern, err)
		}
		if c.Permission == "" {
			return nil, fmt.Errorf("capability pattern %q: permission is required", c.Pattern)
		}
		e.caps = append(e.caps, capability{re: re, permission: c.Permission})
	}
	return e, nil
}

// Authorize aplica existência, ativação e quotas de memória e rede.
func (e *Enforcer) Authorize(pluginID string, info *SandboxInfo) verdict.Verdict {
	if info == nil {
		return verdict.Forbidden(CodeSandboxNotFound, "No sandbox registered for plugin "+strconv.Quote(pluginID))
	}
	if !info.IsActive {
		return verdict.Forbidden(CodeSandboxInactive, "Sandbox for plugin "+strconv.Quote(pluginID)+" is not active")
	}

	maxMem := info.Limits.MaxMemoryMB
	if maxMem <= 0 {
		maxMem = e.defaults.MaxMemoryMB
	}
	if maxMem > 0 && info.ResourceUsage.MemoryUsageMB > maxMem {
		return verdict.QuotaExceeded(CodeMemoryQuotaExceeded,
			fmt.Sprintf("Memory usage %.1fMB exceeds the %.1fMB limit", info.ResourceUsage.MemoryUsageMB, maxMem))
	}

	maxNet := info.Limits.MaxNetworkRequests
	if maxNet <= 0 {
		maxNet = e.defaults.MaxNetworkRequests
	}
	if maxNet > 0 && info.ResourceUsage.NetworkRequestCount > maxNet {
		return verdict.QuotaExceeded(CodeNetworkQuotaExceeded,
			fmt.Sprintf("Network request count %d exceeds the %d limit", info.ResourceUsage.NetworkRequestCount, maxNet))
	}
	return verdict.Pass()
}

// Submission é o corpo de um endpoint de submissão de código.
type Submission struct {
	Code        string   `json:"code"`
	Permissions []string `json:"permissions,omitempty"`
}

// ValidateCode checa tamanho e padrões bloqueados (400) e depois se as
// permissões declaradas e inferidas estão no sandbox (403).
func (e *Enforcer) ValidateCode(info *SandboxInfo, sub Submission) verdict.Verdict {
	if len(sub.Code) > MaxCodeBytes {
		return verdict.Invalid(CodeCodeTooLarge,
			fmt.Sprintf("Code size %d bytes exceeds the %d byte limit", len(sub.Code), MaxCodeBytes))
	}
	for _, re := range e.blocked {
		if re.MatchString(sub.Code) {
			return verdict.Invalid(CodeCodePatternBlocked, "Code contains a blocked construct")
		}
	}

	if info == nil {
		return verdict.Forbidden(CodeSandboxNotFound, "No sandbox registered for plugin")
	}
	for _, p := range e.RequiredPermissions(sub) {
		if !info.HasPermission(p) {
			return verdict.Forbidden(CodePermissionDenied, "Plugin lacks required permission: "+p)
		}
	}
	return verdict.Pass()
}

// RequiredPermissions une as permissões declaradas às inferidas, ordenadas.
func (e *Enforcer) RequiredPermissions(sub Submission) []string {
	set := make(map[string]struct{}, len(sub.Permissions))
	for _, p := range sub.Permissions {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	for _, c := range e.caps {
		if c.re.MatchString(sub.Code) {
			set[c.permission] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
