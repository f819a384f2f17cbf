package config

import (
	"strings"
	"testing"
)

// validConfig returns a configuration that passes validation.
func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Providers.OpenAI.Enabled = true
	cfg.Providers.OpenAI.APIKey = "sk-test"
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := validConfig()
	cfg.API.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NoProvidersEnabled(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when no providers are enabled")
	}
	if !strings.Contains(err.Error(), "at least one provider") {
		t.Errorf("Expected provider error, got: %v", err)
	}
}

func TestValidate_EnabledOpenAIRequiresAPIKey(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Providers.OpenAI.Enabled = true
	ApplyDefaults(cfg)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing API key")
	}
	if !strings.Contains(err.Error(), "providers.openai") {
		t.Errorf("Expected providers.openai error, got: %v", err)
	}
}

func TestValidate_EnabledS3RequiresBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Providers.S3.Enabled = true
	ApplyDefaults(cfg)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing bucket")
	}
}

func TestValidate_DisabledProviderSkipsRequiredFields(t *testing.T) {
	// S3 is disabled and has no bucket; that must not fail validation.
	cfg := validConfig()
	cfg.Providers.S3.Enabled = false
	cfg.Providers.S3.Bucket = ""

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected disabled provider to be skipped, got: %v", err)
	}
}

func TestValidate_OrderMustNameEnabledProviders(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.Order = []string{"openai", "s3"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for disabled provider in order")
	}
	if !strings.Contains(err.Error(), "not an enabled provider") {
		t.Errorf("Expected order error, got: %v", err)
	}
}

func TestValidate_OrderRejectsDuplicates(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.Order = []string{"openai", "openai"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate order entry")
	}
}

func TestValidate_InvalidLockBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Lock.Backend = "etcd"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown lock backend")
	}
}
