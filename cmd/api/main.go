package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/arkikgo/internal/app"
	"github.com/xelth-com/arkikgo/internal/config"
	"github.com/xelth-com/arkikgo/internal/handlers"
	"github.com/xelth-com/arkikgo/internal/logging"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.Log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 2. Database, locks and the import engine
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize import service")
	}

	// 3. Background workers
	go a.Hub.Run(ctx)
	go a.Imports.RunSweeper(ctx, time.Minute)
	go a.WatchBreakers(ctx, 15*time.Second)
	logger.Info("✅ Background workers started")

	// 4. Set up HTTP router
	health := make(map[string]handlers.HealthChecker)
	for name, check := range a.HealthCheckers() {
		health[name] = check
	}
	router := handlers.NewRouter(a.Imports, a.Hub, a.Metrics, health, logger)

	// 5. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.NodeEnv}).Info("🚀 Arkik import server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sig := <-shutdown
	logger.WithField("signal", sig.String()).Warn("⚠️  Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown error")
	}

	// Stop hub, sweeper and breaker watcher
	stop()

	if err := a.Close(); err != nil {
		logger.WithError(err).Error("Close error")
	}

	logger.Info("✅ Shutdown complete")
}
