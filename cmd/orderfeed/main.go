package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/mealato/orderfeed/internal/backoff"
	"github.com/mealato/orderfeed/internal/config"
	"github.com/mealato/orderfeed/internal/connection"
	"github.com/mealato/orderfeed/internal/consumer"
	"github.com/mealato/orderfeed/internal/database"
	"github.com/mealato/orderfeed/internal/dispatch"
	"github.com/mealato/orderfeed/internal/heartbeat"
	"github.com/mealato/orderfeed/internal/leader"
	"github.com/mealato/orderfeed/internal/metrics"
	"github.com/mealato/orderfeed/internal/store"
	"github.com/mealato/orderfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/orderfeed.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting order feed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"identity", cfg.Gateway.Identity,
		"role", cfg.Gateway.Role,
		"leader_mode", cfg.Leader.Mode,
		"store_enabled", cfg.Store.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to PostgreSQL when leases or the notification store need it
	var pool *pgxpool.Pool
	if cfg.Leader.Mode == "postgres" || cfg.Store.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")
	}

	// Pick the elector: static always-leader for single-instance
	// deployments, a shared PostgreSQL lease when several instances
	// cover one session.
	var elector leader.Elector
	if cfg.Leader.Mode == "postgres" {
		elector, err = leader.NewLeaseElector(leader.LeaseConfig{
			SessionID:     cfg.Leader.SessionID,
			TTL:           cfg.Leader.LeaseTTL,
			RenewInterval: cfg.Leader.RenewInterval,
		}, leader.NewPostgresLeaseStore(pool), logger)
		if err != nil {
			logger.Error("failed to create lease elector", "error", err)
			os.Exit(1)
		}
	} else {
		elector = leader.NewStaticElector(true)
	}

	// Start the connection service and hand it the gateway target
	svc := connection.NewService(serviceConfig(cfg), elector, logger)
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start connection service", "error", err)
		os.Exit(1)
	}
	svc.Configure(connection.Config{
		BaseURL:  cfg.Gateway.BaseURL,
		WSURL:    cfg.Gateway.WSURL,
		Identity: cfg.Gateway.Identity,
		Role:     cfg.Gateway.Role,
		Enabled:  cfg.Gateway.Enabled,
	})

	// Notification store
	var writer *store.NotificationWriter
	if cfg.Store.Enabled {
		writer = store.NewNotificationWriter(store.WriterConfig{
			BatchSize:     cfg.Store.BatchSize,
			FlushInterval: cfg.Store.FlushInterval,
			QueueCapacity: cfg.Store.QueueCapacity,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start notification writer", "error", err)
			os.Exit(1)
		}

		sink := consumer.New("notification-store", svc, logger)
		sink.Init(writer.Handle)

		logger.Info("notification store started",
			"batch_size", cfg.Store.BatchSize,
			"flush_interval", cfg.Store.FlushInterval,
		)
	}

	// Health and metrics server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(cfg, pool, svc, writer),
	}

	go func() {
		logger.Info("starting health server",
			"port", cfg.Metrics.Port,
			"metrics_path", cfg.Metrics.Path,
		)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("order feed running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop the connection service first so no new frames reach the
	// writer, then drain the writer and the health server in parallel.
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("connection service stop", "error", err)
	}

	g, _ := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		return healthServer.Shutdown(shutdownCtx)
	})
	if writer != nil {
		g.Go(func() error {
			return writer.Stop(shutdownCtx)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("order feed stopped")
}

// serviceConfig maps file configuration onto the connection service.
func serviceConfig(cfg *config.FeedConfig) connection.ServiceConfig {
	sc := connection.DefaultServiceConfig()
	sc.Heartbeat = heartbeat.Config{
		ProbeInterval: cfg.Heartbeat.ProbeInterval,
		ReplyTimeout:  cfg.Heartbeat.ReplyTimeout,
		MaxMissed:     uint(cfg.Heartbeat.MaxMissed),
	}
	sc.Reconnect = backoff.Config{
		BaseDelay:       cfg.Reconnect.BaseDelay,
		MaxDelay:        cfg.Reconnect.MaxDelay,
		Jitter:          cfg.Reconnect.Jitter,
		StabilityWindow: cfg.Reconnect.StabilityWindow,
	}
	sc.Dispatch = dispatch.DispatcherConfig{
		QueueCapacity: cfg.Dispatch.QueueCapacity,
	}
	return sc
}

// createHealthHandler creates the HTTP handler for health checks,
// debug state and Prometheus metrics.
func createHealthHandler(cfg *config.FeedConfig, pool *pgxpool.Pool, svc *connection.Service, writer *store.NotificationWriter) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(cfg.Metrics.Path, metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		// Check gateway connection. Standby and disabled instances are
		// healthy as they are; only a leader that should be connected
		// but is not degrades health.
		state := svc.State()
		health.Components["gateway"] = map[string]interface{}{
			"status":    string(state.Status),
			"connected": state.Connected,
			"leader":    state.Leader,
		}
		if state.Enabled && state.Leader && !state.Connected && health.Status == "healthy" {
			health.Status = "degraded"
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]interface{}{
			"connection": svc.State(),
		}
		if writer != nil {
			out["store"] = writer.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	return mux
}
