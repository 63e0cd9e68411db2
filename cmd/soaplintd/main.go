// Soaplintd is the online linting and rewrite-plan daemon.
//
// It scores streaming session turns for formulaic drift and, when a turn
// crosses the soapiness threshold, emits a constrained rewrite plan built
// around etudes retrieved from a similarity store.
//
// Configuration is loaded from a YAML file with SOAPLINT_* environment
// overrides. See internal/config for the full option set.
//
// Usage:
//
//	# Start with defaults (in-memory store, no etude dictionary)
//	soaplintd
//
//	# Load configuration and an etude dictionary
//	soaplintd --config soaplintd.yaml --etudes etudes.jsonl
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
	"github.com/fyrsmithlabs/soaplintd/internal/etude"
	httpserver "github.com/fyrsmithlabs/soaplintd/internal/http"
	"github.com/fyrsmithlabs/soaplintd/internal/logging"
	"github.com/fyrsmithlabs/soaplintd/pkg/lint"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	etudePath  string
)

// sweepInterval is how often idle session windows are reaped.
const sweepInterval = 5 * time.Minute

var rootCmd = &cobra.Command{
	Use:   "soaplintd",
	Short: "Online linting and rewrite-plan daemon",
	Long: `soaplintd scores streaming session turns for formulaic drift and emits
constrained rewrite plans when a turn crosses the soapiness threshold.`,
	Version: version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("soaplintd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&etudePath, "etudes", "", "path to the etude dictionary (JSONL), overrides store.path")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Signal-aware root context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "soaplintd: %v\n", err)
		os.Exit(1)
	}
}

// run starts the daemon and blocks until the context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes the structured logger
//  3. Builds the etude store (memory or chromem) and loads the dictionary
//  4. Optionally watches the dictionary file for hot reload
//  5. Wires the lint engine and HTTP server
//  6. Reaps idle session windows periodically
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if etudePath != "" {
		cfg.Store.Path = etudePath
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("starting soaplintd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize etude store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	engine := lint.New(*cfg, store, logger)

	srv, err := httpserver.NewServer(engine, logger, &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		RateLimit: cfg.Server.RateLimit,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Periodic reaper for idle session windows.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := engine.Sweep(); removed > 0 {
					logger.Info("idle sessions evicted", zap.Int("removed", removed))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildStore constructs the configured etude store and loads the
// dictionary. The memory backend optionally hot-reloads the JSONL file.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (etude.Store, error) {
	var etudes []etude.Etude
	if cfg.Store.Path != "" {
		loaded, err := etude.LoadFile(cfg.Store.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("loading etude dictionary: %w", err)
		}
		etudes = loaded
	}

	switch cfg.Store.Backend {
	case config.BackendChromem:
		return etude.NewChromemStore(etude.ChromemConfig{
			Path: cfg.Store.ChromemPath,
		}, etudes, logger)

	case config.BackendMemory:
		store := etude.NewMemoryStore(etudes, logger)
		if cfg.Store.WatchReload && cfg.Store.Path != "" {
			go func() {
				if err := etude.WatchFile(ctx, cfg.Store.Path, store, logger); err != nil {
					logger.Warn("etude file watch stopped", zap.Error(err))
				}
			}()
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
