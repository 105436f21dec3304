package commands

import (
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/role"
	"github.com/substratai/substrat/pkg/types"
)

// buildProviderRegistry constructs one AgentProvider per enabled entry in
// cfg.Provider, keyed by its own Name() (spec §4.3's three variants:
// mock/cli/anthropic). Generalized from the teacher's
// provider.InitializeProviders, which built its registry from a fixed set
// of well-known provider IDs instead of a config-driven kind switch.
func buildProviderRegistry(cfg *types.Config) *provider.Registry {
	reg := provider.NewRegistry()
	for name, pc := range cfg.Provider {
		if pc.Disable {
			continue
		}
		switch pc.Kind {
		case "mock":
			reg.Register(provider.NewMockProvider())
		case "cli":
			reg.Register(provider.NewCLIProvider(pc.Command, nil))
		case "anthropic":
			reg.Register(provider.NewAnthropicProvider(provider.AnthropicConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
			}))
		default:
			logging.Warn().Str("provider", name).Str("kind", pc.Kind).Msg("substratd: unknown provider kind, skipping")
		}
	}
	if len(reg.List()) == 0 {
		reg.Register(provider.NewMockProvider())
	}
	return reg
}

// buildRoleRegistry seeds a role.Registry with the built-ins plus any
// custom roles named in cfg.Role.
func buildRoleRegistry(cfg *types.Config) *role.Registry {
	reg := role.NewRegistry()
	for name, rc := range cfg.Role {
		reg.Register(&role.Role{Name: name, Tools: rc.Tools})
	}
	return reg
}
