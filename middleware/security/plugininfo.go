package security

import (
	"context"
	"time"
)

// PluginInfo é anexado ao contexto de requests em rotas de plugin.
type PluginInfo struct {
	ID         string
	Version    string
	ReceivedAt time.Time
}

type pluginCtxKey struct{}

func WithPlugin(ctx context.Context, info PluginInfo) context.Context {
	return context.WithValue(ctx, pluginCtxKey{}, info)
}

func PluginFromContext(ctx context.Context) (PluginInfo, bool) {
	info, ok := ctx.Value(pluginCtxKey{}).(PluginInfo)
	return info, ok
}
