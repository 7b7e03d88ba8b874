// Package main is the entry point for the larder background worker.
// It relays outbox events to the finance synchronizer and NATS, and runs
// outbox and idempotency maintenance.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"larder/internal/app"
	"larder/internal/config"
	"larder/internal/infrastructure/broker"
	"larder/internal/infrastructure/storage/postgres"
	"larder/internal/worker"
	"larder/pkg/logger"
)

// metricsAddr serves the worker's /metrics.
const metricsAddr = ":9091"

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

	log.Info("starting larder worker")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	defer a.Close()

	// Without NATS the dispatcher still applies finance retries and acks
	// everything else.
	var publisher broker.Publisher
	if cfg.NATS.URL != "" {
		nc, err := broker.ConnectNATS(ctx, broker.NATSConfig{URL: cfg.NATS.URL, Stream: cfg.NATS.Stream})
		if err != nil {
			log.Fatalw("failed to connect to nats", "error", err)
		}
		defer nc.Close()
		publisher = nc
	}

	relay := postgres.NewOutboxRelay(a.TxM, cfg.Outbox.BatchSize, broker.NewDispatcher(a.Sync, publisher))
	w := worker.New(relay, a.Idempotency, a.Mutex(), a.Metrics, worker.Config{
		PollInterval:        cfg.Outbox.PollInterval,
		MaintenanceInterval: cfg.Outbox.MaintenanceInterval,
		RetainPublished:     cfg.Outbox.RetainPublished,
	}, log)

	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           a.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics server failed", "error", err)
		}
	}()

	w.Run(ctx)

	log.Info("shutting down worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	log.Info("worker stopped")
}
