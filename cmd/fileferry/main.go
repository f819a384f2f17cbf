package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/api"
	"github.com/fileferry/fileferry/pkg/config"
	"github.com/fileferry/fileferry/pkg/ferry"
	"github.com/fileferry/fileferry/pkg/lock"
	"github.com/fileferry/fileferry/pkg/store"
	"github.com/fileferry/fileferry/pkg/sweeper"

	// Import prometheus metrics to register init() functions
	_ "github.com/fileferry/fileferry/pkg/metrics/prometheus"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `FileFerry - Multi-provider file upload and lifecycle manager

Usage:
  fileferry <command> [flags]

Commands:
  init     Initialize a sample configuration file
  start    Start the FileFerry server
  version  Show version information

Flags:
  --config string    Path to config file (default: $XDG_CONFIG_HOME/fileferry/config.yaml)
  --force            Force overwrite existing config file (init command only)

Examples:
  # Initialize config file
  fileferry init

  # Start server with default config location
  fileferry start

  # Start server with custom config
  fileferry start --config /etc/fileferry/config.yaml

  # Use environment variables to override config
  FILEFERRY_LOGGING_LEVEL=DEBUG fileferry start

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: FILEFERRY_<SECTION>_<KEY> (use underscores for nested keys)

  Examples:
    FILEFERRY_LOGGING_LEVEL=DEBUG
    FILEFERRY_API_PORT=9080
    FILEFERRY_PROVIDERS_S3_BUCKET=my-bucket
    FILEFERRY_API_SECRET=<jwt-signing-secret>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "init":
		runInit()
	case "start":
		runStart()
	case "help", "--help", "-h":
		fmt.Print(usage)
		os.Exit(0)
	case "version", "--version", "-v":
		fmt.Printf("fileferry %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// runInit handles the init subcommand
func runInit() {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := initFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/fileferry/config.yaml)")
	force := initFlags.Bool("force", false, "Force overwrite existing config file")

	if err := initFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	var configPath string
	var err error

	if *configFile != "" {
		err = config.InitConfigToPath(*configFile, *force)
		configPath = *configFile
	} else {
		configPath, err = config.InitConfig(*force)
	}

	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file and enable at least one provider")
	fmt.Println("  2. Set the API signing secret: export FILEFERRY_API_SECRET=<secret>")
	fmt.Println("  3. Start the server with: fileferry start")
	fmt.Printf("  4. Or specify custom config: fileferry start --config %s\n", configPath)
}

// runStart handles the start subcommand
func runStart() {
	startFlags := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := startFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/fileferry/config.yaml)")

	if err := startFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	// Check if config exists
	if *configFile == "" {
		if !config.DefaultConfigExists() {
			fmt.Fprintf(os.Stderr, "Error: No configuration file found at default location: %s\n\n", config.GetDefaultConfigPath())
			fmt.Fprintln(os.Stderr, "Please initialize a configuration file first:")
			fmt.Fprintln(os.Stderr, "  fileferry init")
			fmt.Fprintln(os.Stderr, "\nOr specify a custom config file:")
			fmt.Fprintln(os.Stderr, "  fileferry start --config /path/to/config.yaml")
			os.Exit(1)
		}
	} else {
		if _, err := os.Stat(*configFile); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error: Configuration file not found: %s\n\n", *configFile)
			fmt.Fprintln(os.Stderr, "Please create the configuration file:")
			fmt.Fprintf(os.Stderr, "  fileferry init --config %s\n", *configFile)
			os.Exit(1)
		}
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the structured logger
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("FileFerry - Multi-provider file upload and lifecycle manager")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(*configFile))

	// Initialize metrics FIRST (before creating the store and orchestrator)
	// so metrics.IsEnabled() reports the right state during construction.
	metricsServer := config.InitializeMetrics(cfg)

	// Record store
	st, err := store.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize record store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Record store close error", "error", err)
		}
	}()
	logger.Info("Record store initialized", "type", cfg.Database.Type)

	// Lock manager
	locks, err := lock.New(cfg.Lock)
	if err != nil {
		log.Fatalf("Failed to initialize lock manager: %v", err)
	}
	defer func() {
		if err := locks.Close(); err != nil {
			logger.Error("Lock manager close error", "error", err)
		}
	}()
	logger.Info("Lock manager initialized", "backend", cfg.Lock.Backend)

	// Provider registry
	registry, err := config.BuildRegistry(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}

	// Upload orchestrator
	orch := ferry.New(st, locks, registry, cfg.Upload)

	// Lifecycle sweeper
	swp := sweeper.New(st, orch, cfg.Sweeper)
	swp.Start(ctx)
	defer swp.Stop()
	logger.Info("Sweeper started", "interval", cfg.Sweeper.Interval)

	if metricsServer != nil {
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer shutdownCancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown error", "error", err)
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	// API server (if enabled - defaults to true)
	serverDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiServer, err := api.NewServer(cfg.API, orch, st)
		if err != nil {
			log.Fatalf("Failed to initialize API server: %v", err)
		}
		logger.Info("API server enabled", "port", apiServer.Port())

		go func() {
			serverDone <- apiServer.Start(ctx)
		}()
	} else {
		logger.Info("API server disabled")
		go func() {
			<-ctx.Done()
			serverDone <- nil
		}()
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
