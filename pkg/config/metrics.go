package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/metrics"
)

// InitializeMetrics initializes the metrics registry from configuration and,
// when metrics are enabled, returns an HTTP server exposing /metrics.
//
// Must be called before the store, orchestrator and sweeper are created so
// that metrics.IsEnabled() reflects the configuration when they register
// their collectors. Returns nil when metrics are disabled.
func InitializeMetrics(cfg *Config) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	metrics.InitRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	logger.Debug("Metrics endpoint configured", "port", cfg.Metrics.Port)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
