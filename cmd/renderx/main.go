package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/renderx/gateway/internal/cache"
	"github.com/renderx/gateway/internal/common/logger"
	"github.com/renderx/gateway/internal/config"
	"github.com/renderx/gateway/internal/metrics"
	"github.com/renderx/gateway/internal/render"
	"github.com/renderx/gateway/internal/server"
)

const serverName = "RenderX/1.0"

func main() {
	configPath := flag.String("c", "config.json", "path to configuration file")
	flag.Parse()

	startupLogger := logger.NewDefaultLogger()
	startupLogger.Info("Starting RenderX", zap.String("config_path", *configPath))

	cfg, err := config.Load(*configPath, startupLogger)
	if err != nil {
		startupLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		startupLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer log.Sync()

	resolver := config.NewResolver(cfg)

	store := cache.NewFileStore(cfg.CacheDir, cfg.Compression, log)
	sweeper := cache.NewSweeper(
		store,
		time.Duration(cfg.CacheCleanupIntervalMinutes)*time.Minute,
		cfg.ClearOnStartup(),
		log,
	)
	sweeper.Start()

	engine := render.NewEngine(log)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(log)
	}
	metricsServer, err := metrics.StartServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		collector,
		log,
	)
	if err != nil {
		log.Fatal("Failed to start metrics server", zap.Error(err))
	}

	srv := server.NewServer(cfg, resolver, store, engine, collector, cfg.CacheDir, log)

	httpServer := newFastHTTPServer(srv.Handler())
	serverErrors := make(chan error, 1)
	address := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		if err := httpServer.ListenAndServe(address); err != nil {
			serverErrors <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	// Let an unbindable port surface before claiming startup succeeded.
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		log.Fatal("Server failed to start", zap.Error(err))
	default:
	}

	log.Info("RenderX started",
		zap.String("address", address),
		zap.String("hosts_dir", cfg.HostsDir),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Int("hosts", len(cfg.Hosts)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Shutting down RenderX...")
	case err := <-serverErrors:
		log.Error("Server error, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweeper.Shutdown()

	if metricsServer != nil {
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// In-flight renders are abandoned; the browser is torn down with them.
	engine.Shutdown()

	log.Info("RenderX stopped")
}

func newFastHTTPServer(handler fasthttp.RequestHandler) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:                      handler,
		Name:                         serverName,
		ReadTimeout:                  server.RequestBudget,
		WriteTimeout:                 server.RequestBudget,
		IdleTimeout:                  server.RequestBudget,
		MaxRequestBodySize:           1 << 20,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
	}
}
