package quota

import (
	"context"
	"slices"
)

// StaticRegistry serve sandboxes fixos vindos da configuração.
type StaticRegistry struct {
	sandboxes map[string]SandboxInfo
}

func NewStaticRegistry(entries []SandboxInfo) *StaticRegistry {
	m := make(map[string]SandboxInfo, len(entries))
	for _, e := range entries {
		m[e.PluginID] = e
	}
	return &StaticRegistry{sandboxes: m}
}

var _ Registry = (*StaticRegistry)(nil)

// SandboxInfo devolve uma cópia; o chamador pode alterá-la sem efeito no registry.
func (s *StaticRegistry) SandboxInfo(_ context.Context, pluginID string) (*SandboxInfo, error) {
	info, ok := s.sandboxes[pluginID]
	if !ok {
		return nil, nil
	}
	info.Permissions = slices.Clone(info.Permissions)
	return &info, nil
}
