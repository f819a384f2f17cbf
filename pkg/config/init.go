package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration template written by
// `fileferry init`.
const sampleConfig = `# FileFerry Configuration File
#
# This file configures the FileFerry upload service.
# All values can be overridden with FILEFERRY_* environment variables,
# e.g. FILEFERRY_LOGGING_LEVEL=DEBUG or FILEFERRY_API_SECRET=...

logging:
  # Log level: DEBUG, INFO, WARN, ERROR
  level: "INFO"
  # Log format: text or json
  format: "text"
  # Log output: stdout, stderr, or a file path
  output: "stdout"

# Maximum time to wait for in-flight uploads on shutdown
shutdown_timeout: "30s"

database:
  # Database type: sqlite (single node) or postgres
  type: "sqlite"
  sqlite:
    # Defaults to $XDG_CONFIG_HOME/fileferry/records.db when empty
    path: ""
  # postgres:
  #   host: "localhost"
  #   port: 5432
  #   database: "fileferry"
  #   user: "fileferry"
  #   password: ""
  #   ssl_mode: "disable"

metrics:
  # Prometheus metrics endpoint (opt-in)
  enabled: false
  port: 9090

api:
  port: 8080
  jwt:
    # HMAC verification key, at least 32 characters.
    # Prefer the FILEFERRY_API_SECRET environment variable in production.
    secret: ""

upload:
  # Hard per-upload ceiling across all providers
  max_file_size: "512Mi"
  # Lifetime of an uploaded file before the sweeper reclaims it
  retention: "720h"
  # Per-attempt provider call timeout
  provider_timeout: "5m"
  # Quota defaults for first-seen users
  default_byte_ceiling: "10Gi"
  default_per_file_ceiling: "512Mi"
  retry:
    max_attempts: 3
    initial_backoff: "500ms"
    max_backoff: "30s"
  breaker:
    failure_threshold: 5
    cooldown: "60s"

lock:
  # Lock backend: memory (single node) or redis (multi node)
  backend: "memory"
  # redis:
  #   addr: "localhost:6379"

sweeper:
  # How often expired records are reclaimed
  interval: "24h"
  batch_size: 500

providers:
  # Automatic routing tries providers in this order
  # order: ["openai", "s3"]
  openai:
    enabled: false
    api_key: ""
    # strategy: "sdk"   # or "http"
  s3:
    enabled: false
    bucket: ""
    region: ""
    # endpoint: ""       # for MinIO or other S3-compatible services
    # force_path_style: true
    # strategy: "sdk"    # or "presign"
`

// InitConfig creates a sample configuration file at the default location.
//
// Returns the path of the created file. Fails if the file already exists
// unless force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Sample configs may later hold API keys, so owner-only from the start.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
