// Package main is the entry point for the larder API server.
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

	"larder/internal/app"
	"larder/internal/config"
	v1 "larder/internal/infrastructure/http/v1"
	"larder/internal/infrastructure/http/v1/handlers"
	"larder/internal/infrastructure/http/v1/middleware"
	"larder/internal/infrastructure/storage/postgres"
	"larder/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting larder server", "env", cfg.App.Env)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	defer a.Close()

	if cfg.Database.AutoMigrate {
		applied, err := postgres.Migrate(ctx, a.TxM)
		if err != nil {
			log.Fatalw("migration failed", "error", err)
		}
		log.Infow("migrations applied", "versions", applied)
	}

	a.Listener.Start(ctx)

	checks := map[string]handlers.CheckFunc{
		"database": a.Pool.Ready,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}

	var idempotency middleware.IdempotencyStore
	if cfg.HTTP.IdempotencyEnabled {
		idempotency = a.Idempotency
	}

	router := v1.NewRouter(v1.RouterConfig{
		Logger:       log,
		Purchases:    a.Purchases,
		Orders:       a.Orders,
		Materials:    a.Materials,
		Stock:        a.Register,
		Summary:      a.Summary,
		Idempotency:  idempotency,
		Metrics:      a.Metrics,
		HealthChecks: checks,
		Debug:        cfg.Development(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server starting", "port", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Errorw("server failed", "error", err)
	}

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
