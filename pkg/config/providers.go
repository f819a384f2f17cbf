package config

import (
	"context"
	"fmt"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/provider"
	"github.com/fileferry/fileferry/pkg/provider/openai"
	"github.com/fileferry/fileferry/pkg/provider/s3"
)

// ProvidersConfig configures the storage provider adapters.
//
// At least one provider must be enabled. Automatic routing walks Order and
// picks the first enabled provider whose limits fit the upload.
type ProvidersConfig struct {
	// Order is the automatic routing priority. Entries must name enabled
	// providers ("openai", "s3"). When empty, enabled providers are tried
	// in declaration order: openai, then s3.
	Order []string `mapstructure:"order" yaml:"order,omitempty"`

	// OpenAI configures the OpenAI Files API adapter.
	OpenAI OpenAIProviderConfig `mapstructure:"openai" yaml:"openai"`

	// S3 configures the S3-compatible storage adapter.
	S3 S3ProviderConfig `mapstructure:"s3" yaml:"s3"`
}

// OpenAIProviderConfig wraps the OpenAI adapter configuration with an
// enable flag.
type OpenAIProviderConfig struct {
	// Enabled controls whether the OpenAI provider is registered.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	openai.Config `mapstructure:",squash" yaml:",inline" validate:"-"`
}

// S3ProviderConfig wraps the S3 adapter configuration with an enable flag.
type S3ProviderConfig struct {
	// Enabled controls whether the S3 provider is registered.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	s3.Config `mapstructure:",squash" yaml:",inline" validate:"-"`
}

// enabled reports whether the named provider is switched on.
func (c *ProvidersConfig) enabled(providerID string) bool {
	switch providerID {
	case openai.ProviderID:
		return c.OpenAI.Enabled
	case s3.ProviderID:
		return c.S3.Enabled
	default:
		return false
	}
}

// enabledIDs returns the enabled provider names in declaration order.
func (c *ProvidersConfig) enabledIDs() []string {
	var ids []string
	if c.OpenAI.Enabled {
		ids = append(ids, openai.ProviderID)
	}
	if c.S3.Enabled {
		ids = append(ids, s3.ProviderID)
	}
	return ids
}

// BuildRegistry creates a provider registry with all enabled providers
// registered in routing priority order.
//
// Validation performed:
//   - At least one provider must be enabled
//   - Every Order entry must name a known, enabled provider
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.BuildRegistry(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("Failed to build provider registry: %v", err)
//	}
func BuildRegistry(ctx context.Context, cfg *Config) (*provider.Registry, error) {
	logger.Debug("Building provider registry from configuration")

	order := cfg.Providers.Order
	if len(order) == 0 {
		order = cfg.Providers.enabledIDs()
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no providers enabled: at least one provider is required")
	}

	reg := provider.NewRegistry()

	for _, id := range order {
		adapter, err := buildAdapter(ctx, cfg, id)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %q: %w", id, err)
		}

		if err := reg.Register(adapter); err != nil {
			return nil, fmt.Errorf("failed to register provider %q: %w", id, err)
		}

		logger.Debug("Provider registered successfully", "provider", id)
	}

	logger.Info("Registered providers", "count", len(order), "order", order)
	return reg, nil
}

// buildAdapter creates one provider adapter by name.
func buildAdapter(ctx context.Context, cfg *Config, providerID string) (provider.Adapter, error) {
	if !cfg.Providers.enabled(providerID) {
		return nil, fmt.Errorf("provider is not enabled")
	}

	switch providerID {
	case openai.ProviderID:
		return openai.New(cfg.Providers.OpenAI.Config)
	case s3.ProviderID:
		return s3.NewFromConfig(ctx, cfg.Providers.S3.Config)
	default:
		return nil, fmt.Errorf("unknown provider")
	}
}
