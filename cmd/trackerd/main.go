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

	"github.com/veloserve/tracksync/internal/api"
	"github.com/veloserve/tracksync/internal/archive"
	"github.com/veloserve/tracksync/internal/config"
	"github.com/veloserve/tracksync/internal/connection"
	"github.com/veloserve/tracksync/internal/database"
	"github.com/veloserve/tracksync/internal/model"
	"github.com/veloserve/tracksync/internal/reconcile"
	"github.com/veloserve/tracksync/internal/route"
	"github.com/veloserve/tracksync/internal/router"
	"github.com/veloserve/tracksync/internal/tracking"
	"github.com/veloserve/tracksync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/trackerd.local.yaml", "path to config file")
	healthPort := flag.Int("health-port", 8080, "health endpoint port")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting trackerd",
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
		"identity", cfg.Instance.Identity,
		"role", cfg.Instance.Role,
		"api_url", cfg.API.BaseURL,
		"socket_url", cfg.Socket.URL,
		"orders", len(cfg.Orders),
	)

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

	// Optional history archive
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Database.Archive.Host,
			"port", cfg.Database.Archive.Port,
			"database", cfg.Database.Archive.Name,
		)

		pool, err := database.Connect(ctx, cfg.Database.Archive)
		if err != nil {
			logger.Error("failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiver = archive.New(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger)

		if err := archiver.Start(ctx); err != nil {
			logger.Error("failed to start archiver", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			archiver.Stop(stopCtx)
		}()
	}

	// REST client
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Push channel
	events := router.New(logger)
	manager := connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.Socket.URL,
		AuthTimeout:          cfg.Socket.AuthTimeout,
		MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Socket.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Socket.ReconnectMaxDelay,
		WriteTimeout:         cfg.Socket.WriteTimeout,
		PingTimeout:          cfg.Socket.PingTimeout,
		BufferSize:           cfg.Socket.BufferSize,
	}, events, logger)

	if cfg.Instance.Room != "" {
		manager.JoinRoom(cfg.Instance.Room)
	}

	if err := manager.Connect(ctx, cfg.Instance.Identity, model.Role(cfg.Instance.Role)); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	defer manager.Disconnect()

	// Route cache
	var routes *route.Cache
	if cfg.Route.ProviderURL != "" {
		provider := route.NewHTTPProvider(cfg.Route.ProviderURL, nil, logger)
		routes = route.NewCache(route.CacheConfig{
			TTL:     cfg.Route.CacheTTL,
			Timeout: cfg.Route.Timeout,
		}, provider, logger)
	}

	engine := reconcile.NewEngine(logger)

	// One tracking session per configured order
	sessions := make([]*tracking.Session, 0, len(cfg.Orders))
	sessionCfg := tracking.SessionConfig{
		PollInterval:           cfg.Poller.Interval,
		PollTimeout:            cfg.Poller.Timeout,
		RouteProfile:           cfg.Route.Profile,
		RecomputeEpsilonMeters: cfg.Route.RecomputeEpsilonMeters,
	}

	for _, orderID := range cfg.Orders {
		s := tracking.NewSession(orderID, sessionCfg, manager, events, engine, routes, apiClient, logger)

		if archiver != nil {
			s.OnChange(func(rs model.ReconciledState) {
				archiver.RecordOrder(rs.Order)
				if rs.Location != nil {
					archiver.RecordLocation(*rs.Location)
				}
			})
		}
		s.OnCompletion(func(snap model.OrderSnapshot) {
			logger.Info("order completed", "order_id", snap.OrderID)
		})

		if err := s.Start(ctx); err != nil {
			logger.Error("failed to start tracking session", "order_id", orderID, "error", err)
			os.Exit(1)
		}
		sessions = append(sessions, s)
	}
	defer func() {
		for _, s := range sessions {
			s.Stop()
		}
	}()

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *healthPort),
		Handler: createHealthHandler(manager, engine, archiver),
	}
	go func() {
		logger.Info("starting health server", "port", *healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("trackerd running",
		"sessions", len(sessions),
		"health_url", fmt.Sprintf("http://localhost:%d/health", *healthPort),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("trackerd stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(manager *connection.Manager, engine *reconcile.Engine, archiver *archive.Archiver) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		state := manager.State()
		health.Components["socket"] = map[string]any{
			"state":    string(state),
			"sessions": manager.Sessions(),
		}
		if !state.Ready() {
			// Polling keeps data flowing, so a down socket is degraded
			// rather than unhealthy.
			health.Status = "degraded"
		}

		health.Components["orders"] = len(engine.Orders())

		if archiver != nil {
			stats := archiver.Stats()
			health.Components["archive"] = map[string]any{
				"inserts": stats.Inserts,
				"errors":  stats.Errors,
				"drops":   stats.Drops,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/orders", func(w http.ResponseWriter, r *http.Request) {
		states := make(map[string]any)
		for _, id := range engine.Orders() {
			if rs, ok := engine.CurrentState(id); ok {
				states[id] = rs
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(states)
	})

	return mux
}
