package toolcontext

import (
	"context"

	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
)

type registryKey struct{}

type configKey struct{}

// WithRegistry attaches the tools offered to the model for this inference.
func WithRegistry(ctx context.Context, reg tools.ToolRegistry) context.Context {
	if reg == nil {
		return ctx
	}
	return context.WithValue(ctx, registryKey{}, reg)
}

func RegistryFrom(ctx context.Context) (tools.ToolRegistry, bool) {
	reg, ok := ctx.Value(registryKey{}).(tools.ToolRegistry)
	if !ok || reg == nil {
		return nil, false
	}
	return reg, true
}

func WithToolConfig(ctx context.Context, cfg tools.ToolConfig) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ToolConfigFrom returns the attached config, or tools.DefaultToolConfig.
func ToolConfigFrom(ctx context.Context) tools.ToolConfig {
	if cfg, ok := ctx.Value(configKey{}).(tools.ToolConfig); ok {
		return cfg
	}
	return tools.DefaultToolConfig()
}

// OfferedTools lists the tools from the attached registry that the config allows.
func OfferedTools(ctx context.Context) []tools.ToolDefinition {
	reg, ok := RegistryFrom(ctx)
	if !ok {
		return nil
	}
	cfg := ToolConfigFrom(ctx)
	return cfg.FilterTools(reg.ListTools())
}
