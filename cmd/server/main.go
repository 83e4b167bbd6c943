package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/alert"
	"github.com/aquameter/telemetry-hub/internal/api"
	"github.com/aquameter/telemetry-hub/internal/cache"
	"github.com/aquameter/telemetry-hub/internal/config"
	"github.com/aquameter/telemetry-hub/internal/health"
	"github.com/aquameter/telemetry-hub/internal/hub"
	"github.com/aquameter/telemetry-hub/internal/router"
	"github.com/aquameter/telemetry-hub/internal/storage"
	"github.com/aquameter/telemetry-hub/internal/transport"
	"github.com/aquameter/telemetry-hub/internal/validator"
	"github.com/aquameter/telemetry-hub/internal/watchdog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	store, err := storage.NewStore(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	var latestCache *cache.Cache
	if cfg.Redis.Enabled {
		latestCache, err = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			// The durable store is the source of truth; run without the cache.
			logger.Warn("Redis unavailable, continuing without latest-reading cache", zap.Error(err))
		} else {
			defer latestCache.Close()
		}
	}

	fanout := hub.NewHub(logger)
	hubStop := make(chan struct{})
	go fanout.Run(hubStop)

	rules := alert.BuildRules(cfg.Alerts)
	engine := alert.NewEngine(logger, store, fanout, rules, cfg.Alerts.Enabled)
	logger.Info("Alert engine ready",
		zap.Int("rules", len(rules)),
		zap.Bool("enabled", cfg.Alerts.Enabled))

	dog := watchdog.New(logger, store, engine, cfg.Watchdog.Period, cfg.Watchdog.OfflineAfter)
	if err := dog.Start(); err != nil {
		logger.Fatal("Failed to start watchdog", zap.Error(err))
	}

	nc, err := transport.Connect(cfg.NATS, cfg.App.Name, logger)
	if err != nil {
		logger.Fatal("Failed to connect to broker", zap.Error(err))
	}

	var routerCache router.LatestCache
	if latestCache != nil {
		routerCache = latestCache
	}
	msgRouter := router.New(logger, nc, cfg.Subjects,
		validator.New(validator.DefaultMaxLatency), store, engine, fanout, routerCache)
	if err := msgRouter.Start(); err != nil {
		logger.Fatal("Failed to start message router", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var collector *health.Collector
	if cfg.Health.Enabled {
		collector = health.NewCollector(logger, fanout, cfg.Health.Interval)
		collector.Start(ctx)
	}

	var apiCache api.LatestCache
	if latestCache != nil {
		apiCache = latestCache
	}
	handler := api.NewHandler(logger, store, apiCache, fanout)
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler.Router(),
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	msgRouter.Stop()
	transport.Shutdown(nc, logger, shutdownTimeout)
	dog.Stop()
	if collector != nil {
		collector.Stop()
	}
	close(hubStop)

	logger.Info("Server shutting down gracefully")
}
