// sessiontest tracks a single order and streams its reconciled state to
// the console. Useful for exercising a backend without the full daemon.
// Usage: go run ./cmd/sessiontest --config configs/trackerd.local.yaml --order ORD-123
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veloserve/tracksync/internal/api"
	"github.com/veloserve/tracksync/internal/config"
	"github.com/veloserve/tracksync/internal/connection"
	"github.com/veloserve/tracksync/internal/model"
	"github.com/veloserve/tracksync/internal/reconcile"
	"github.com/veloserve/tracksync/internal/route"
	"github.com/veloserve/tracksync/internal/router"
	"github.com/veloserve/tracksync/internal/tracking"
)

func main() {
	configPath := flag.String("config", "configs/trackerd.example.yaml", "path to config file")
	orderID := flag.String("order", "", "order id to track")
	verbose := flag.Bool("verbose", false, "print full reconciled state JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *orderID == "" {
		logger.Error("missing --order")
		os.Exit(1)
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.Token, api.WithLogger(logger))

	events := router.New(logger)
	manager := connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.Socket.URL,
		AuthTimeout:          cfg.Socket.AuthTimeout,
		MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Socket.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Socket.ReconnectMaxDelay,
	}, events, logger)

	manager.OnStateChange(func(s connection.State) {
		fmt.Printf("--- socket: %s\n", s)
	})

	if err := manager.Connect(ctx, cfg.Instance.Identity, model.Role(cfg.Instance.Role)); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer manager.Disconnect()

	var routes *route.Cache
	if cfg.Route.ProviderURL != "" {
		provider := route.NewHTTPProvider(cfg.Route.ProviderURL, nil, logger)
		routes = route.NewCache(route.CacheConfig{
			TTL:     cfg.Route.CacheTTL,
			Timeout: cfg.Route.Timeout,
		}, provider, logger)
	}

	engine := reconcile.NewEngine(logger)

	s := tracking.NewSession(*orderID, tracking.SessionConfig{
		PollInterval:           cfg.Poller.Interval,
		PollTimeout:            cfg.Poller.Timeout,
		RouteProfile:           cfg.Route.Profile,
		RecomputeEpsilonMeters: cfg.Route.RecomputeEpsilonMeters,
	}, manager, events, engine, routes, apiClient, logger)

	s.OnChange(func(rs model.ReconciledState) {
		if *verbose {
			data, _ := json.MarshalIndent(rs, "", "  ")
			fmt.Println(string(data))
			return
		}

		line := fmt.Sprintf("[%s] rev=%d status=%s payment=%s",
			time.Now().Format("15:04:05"), rs.Revision, rs.Order.Status, rs.Order.PaymentStatus)
		if rs.Location != nil {
			line += fmt.Sprintf(" courier=%.5f,%.5f", rs.Location.Latitude, rs.Location.Longitude)
		}
		if rs.Route != nil {
			line += fmt.Sprintf(" route=%.0fm/%.0fs", rs.Route.DistanceMeters, rs.Route.DurationSeconds)
		}
		fmt.Println(line)
	})
	s.OnCompletion(func(snap model.OrderSnapshot) {
		fmt.Printf("=== order %s completed (delivered and paid)\n", snap.OrderID)
		cancel()
	})

	if err := s.Start(ctx); err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}
	defer s.Stop()

	fmt.Printf("tracking order %s (ctrl-c to stop)\n", *orderID)
	<-ctx.Done()
}
