package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/screentime/internal/api"
	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/systemd"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Screentime API server",
	Long:  `Start the heartbeat API, the metrics server and the retention purger.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Screentime")

	// Check for systemd socket activation
	listeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if listeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx := context.Background()

	// Initialize storage
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	// Initialize event publishing
	publisher, err := openPublisher(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("failed to connect event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	clock := window.RealClock{}

	// Initialize enforcement
	svc := usage.New(store, catalog.New(cfg.Catalog), publisher, clock, usageOptions(cfg), logger)

	reporter := report.New(svc.Directory, svc.Configs, store.Sessions(), clock, report.Options{
		MaxSessions: cfg.Enforcement.HistoryMaxSessions,
		MaxDays:     cfg.Enforcement.HistoryMaxDays,
	}, logger)

	logger.Info().
		Str("heartbeat_interval", cfg.Enforcement.HeartbeatInterval).
		Str("pause_grace", cfg.Enforcement.PauseGrace).
		Msg("Enforcement initialized")

	// Initialize retention purger
	var purger *usage.Purger
	if cfg.Retention.Enabled {
		purger, err = usage.NewPurger(store.Balances(), store.Sessions(), cfg.Retention.Days, cfg.Retention.RunAt, clock, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize retention purger: %w", err)
		}
		purger.Start()
	}

	// Initialize API Server
	apiConfig := api.Config{
		ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		ReadTimeout:    config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout:   config.ParseDuration(cfg.Server.WriteTimeout, 10*time.Second),
		AllowedOrigins: cfg.Server.CORSOrigins,
		PINMaxAge:      config.ParseDuration(cfg.Auth.PINMaxAge, api.DefaultPINMaxAge),
	}

	tokens := api.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	apiServer := api.NewServer(apiConfig, svc, reporter, tokens, store, clock, logger)

	if listeners.API != nil {
		apiServer.SetListener(listeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if listeners.Metrics != nil {
		metricsServer.SetListener(listeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("Screentime startup complete")
	logger.Info().Msgf("API: http://%s", apiConfig.ListenAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	stopWatchdog := startWatchdog(ctx, store)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	stopWatchdog()

	if purger != nil {
		purger.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("Screentime stopped")

	return nil
}

// startWatchdog pings the systemd watchdog while storage is reachable. The
// returned function stops it.
func startWatchdog(ctx context.Context, health api.Pinger) func() {
	interval, err := systemd.WatchdogInterval()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read systemd watchdog settings")
		return func() {}
	}
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, interval)
				err := health.Ping(pingCtx)
				pingCancel()
				if err != nil {
					log.Warn().Err(err).Msg("Storage unhealthy, skipping watchdog ping")
					continue
				}
				if err := systemd.NotifyWatchdog(); err != nil {
					log.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Debug().Dur("interval", interval).Msg("Systemd watchdog enabled")
	return cancel
}
