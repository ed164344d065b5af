package llms

import (
	"fmt"

	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/registry"
)

// ProviderRegistry holds the configured providers by name.
type ProviderRegistry struct {
	*registry.BaseRegistry[Provider]
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// NewProviderRegistryFromConfig builds the registry from the providers
// section. The local provider is always available; the hosted one only when
// an API key is configured.
func NewProviderRegistryFromConfig(cfg config.ProvidersConfig) (*ProviderRegistry, error) {
	r := NewProviderRegistry()

	local := NewLocalProvider(cfg.Local)
	if err := r.Register(local.Name(), local); err != nil {
		return nil, err
	}

	if cfg.Hosted.APIKey != "" {
		hosted, err := NewHostedProvider(cfg.Hosted)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise hosted provider: %w", err)
		}
		if err := r.Register(hosted.Name(), hosted); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Default returns the provider used when an agent does not name one:
// hosted when configured, otherwise local.
func (r *ProviderRegistry) Default() Provider {
	if p, ok := r.Get("hosted"); ok {
		return p
	}
	p, _ := r.Get("local")
	return p
}
