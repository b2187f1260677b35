package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vigildash/vigil/internal/api"
	"github.com/vigildash/vigil/internal/config"
	"github.com/vigildash/vigil/internal/escalation"
	"github.com/vigildash/vigil/internal/escalation/store"
	"github.com/vigildash/vigil/internal/logging"
	"github.com/vigildash/vigil/internal/metrics"
	"github.com/vigildash/vigil/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "vigil",
	Short:   "Vigil - inspection escalation tracking service",
	Long:    `Vigil is the escalation backend of an inspection-management dashboard: it classifies overdue inspections, ranks them for triage, and tracks each escalation through its lifecycle`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Vigil %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Initialize logger with baseline defaults for early startup logs
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "vigil",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "vigil",
	})

	log.Info().Msg("Starting Vigil escalation server")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsAddr := fmt.Sprintf("%s:%d", cfg.BackendHost, cfg.MetricsPort)
	startMetricsServer(ctx, metricsAddr)

	// Initialize WebSocket hub first
	wsHub := websocket.NewHub(nil)
	if cfg.AllowedOrigins != "" {
		wsHub.SetAllowedOrigins(strings.Split(cfg.AllowedOrigins, ","))
	} else {
		wsHub.SetAllowedOrigins([]string{})
	}
	go wsHub.Run()

	// Open the escalation store and lifecycle manager
	escStore, err := store.New(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open escalation store")
	}
	defer escStore.Close()

	manager := escalation.NewManager(escStore)
	manager.SetBroadcaster(wsHub)

	// New clients get the current triage queue on connect
	wsHub.SetStateGetter(func() interface{} {
		records, total, err := manager.List(escalation.Filter{})
		if err != nil {
			log.Error().Err(err).Msg("Failed to load triage snapshot for WebSocket client")
			return nil
		}
		return map[string]interface{}{"escalations": records, "total": total}
	})

	// Wire up Prometheus metrics for the escalation lifecycle
	escalation.SetMetricHooks(
		metrics.RecordEscalationCreated,
		metrics.RecordTransition,
		metrics.RecordResolved,
	)
	go refreshOpenGauges(ctx, manager)
	log.Info().Msg("Escalation metrics hooks registered")

	router := api.NewRouter(cfg, manager, wsHub, Version)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.BackendHost, cfg.BackendPort),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays disabled so the WebSocket upgrade path is not
		// cut off mid-connection; handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start config watcher for .env file changes
	configWatcher, err := config.NewWatcher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, .env changes will require restart")
	} else {
		configWatcher.SetReloadCallback(func() {
			logging.Init(logging.Config{
				Format:    cfg.LogFormat,
				Level:     cfg.LogLevel,
				Component: "vigil",
			})
		})
		if err := configWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
		defer configWatcher.Stop()
	}

	go func() {
		log.Info().
			Str("host", cfg.BackendHost).
			Int("port", cfg.BackendPort).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Setup signal handlers
	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)

	// SIGTERM and SIGINT for shutdown
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	// SIGHUP for config reload
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration...")
			if configWatcher != nil {
				configWatcher.ReloadConfig()
			}

		case <-sigChan:
			log.Info().Msg("Shutting down server...")
			goto shutdown
		}
	}

shutdown:

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Server stopped")
}

// refreshOpenGauges keeps the per-level open gauges current; counters are
// updated by the lifecycle hooks, but gauges also move when time alone
// pushes a record across a level threshold.
func refreshOpenGauges(ctx context.Context, manager *escalation.Manager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := manager.Stats()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to refresh escalation gauges")
				continue
			}
			metrics.UpdateOpenGauges(stats)
		}
	}
}
