package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid or inconsistent values.
//
// Struct tags handle the field-level rules (level enums, port ranges).
// Cross-section rules that tags cannot express are checked explicitly:
//   - the database section must be self-consistent
//   - enabled providers must have their required credentials
//   - every routing order entry must name a known, enabled provider
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := validateProviders(validate, &cfg.Providers); err != nil {
		return err
	}

	return nil
}

// validateProviders checks the provider section. Adapter configs carry their
// own validate tags but are skipped by the struct walk so that a disabled
// provider's required fields do not fail validation.
func validateProviders(validate *validator.Validate, cfg *ProvidersConfig) error {
	if len(cfg.enabledIDs()) == 0 {
		return fmt.Errorf("providers: at least one provider must be enabled")
	}

	if cfg.OpenAI.Enabled {
		if err := validate.Struct(&cfg.OpenAI.Config); err != nil {
			return fmt.Errorf("providers.openai: %w", err)
		}
	}
	if cfg.S3.Enabled {
		if err := validate.Struct(&cfg.S3.Config); err != nil {
			return fmt.Errorf("providers.s3: %w", err)
		}
	}

	seen := make(map[string]bool)
	for _, id := range cfg.Order {
		if !cfg.enabled(id) {
			return fmt.Errorf("providers.order: %q is not an enabled provider", id)
		}
		if seen[id] {
			return fmt.Errorf("providers.order: %q listed twice", id)
		}
		seen[id] = true
	}

	return nil
}
