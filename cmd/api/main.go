package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/dataexec/internal/api"
	"github.com/timmy/dataexec/internal/app"
	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/logger"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH points at the config file in deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	executor, err := app.New(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize executor")
	}
	defer executor.Close()

	router := api.SetupRouter(api.Deps{
		Coordinator:  executor.Coordinator,
		Registry:     executor.Registry,
		Credentials:  executor.Credentials,
		Catalog:      executor.SchemaCatalog(),
		Logger:       appLogger,
		CleanupAfter: cfg.Executor.CleanupAfter,
	}, cfg.Server)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Executor.CleanupInterval > 0 && cfg.Executor.CleanupAfter > 0 {
		go executor.Coordinator.RunExpiry(ctx, cfg.Executor.CleanupInterval, cfg.Executor.CleanupAfter)
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	appLogger.Info("Server exited")
}
