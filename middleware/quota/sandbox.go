package quota

import "context"

type ResourceUsage struct {
	MemoryUsageMB       float64 `json:"memoryUsageMB" mapstructure:"memory_usage_mb" yaml:"memory_usage_mb"`
	NetworkRequestCount int     `json:"networkRequestCount" mapstructure:"network_request_count" yaml:"network_request_count"`
}

// Limits com valor zero caem para os Defaults do Enforcer.
type Limits struct {
	MaxMemoryMB        float64 `json:"maxMemoryMB" mapstructure:"max_memory_mb" yaml:"max_memory_mb"`
	MaxNetworkRequests int     `json:"maxNetworkRequests" mapstructure:"max_network_requests" yaml:"max_network_requests"`
}

// SandboxInfo é o snapshot de um plugin lido do registry. O gateway nunca
// escreve nele.
type SandboxInfo struct {
	PluginID      string        `json:"pluginId" mapstructure:"plugin_id" yaml:"plugin_id"`
	IsActive      bool          `json:"isActive" mapstructure:"is_active" yaml:"is_active"`
	ResourceUsage ResourceUsage `json:"resourceUsage" mapstructure:"resource_usage" yaml:"resource_usage"`
	Limits        Limits        `json:"limits" mapstructure:"limits" yaml:"limits"`
	Permissions   []string      `json:"permissions" mapstructure:"permissions" yaml:"permissions"`
}

func (s *SandboxInfo) HasPermission(p string) bool {
	for _, have := range s.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Registry é o colaborador externo que conhece os sandboxes.
//
// SandboxInfo retorna (nil, nil) quando o plugin não existe; erro significa
// que o registry não pôde ser consultado.
type Registry interface {
	SandboxInfo(ctx context.Context, pluginID string) (*SandboxInfo, error)
}

type sandboxCtxKey struct{}

func withSandbox(ctx context.Context, info *SandboxInfo) context.Context {
	return context.WithValue(ctx, sandboxCtxKey{}, info)
}

// SandboxFromContext retorna o snapshot usado na autorização do request.
func SandboxFromContext(ctx context.Context) (*SandboxInfo, bool) {
	info, ok := ctx.Value(sandboxCtxKey{}).(*SandboxInfo)
	return info, ok && info != nil
}
