// Package app wires configuration into the stores and services shared by
// the server, the worker and larderctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"larder/internal/config"
	"larder/internal/domain/finance"
	"larder/internal/domain/material"
	"larder/internal/domain/order"
	"larder/internal/domain/purchase"
	"larder/internal/domain/stock"
	"larder/internal/infrastructure/cache"
	"larder/internal/infrastructure/metrics"
	"larder/internal/infrastructure/storage/postgres"
	"larder/internal/infrastructure/storage/postgres/catalog_repo"
	"larder/internal/infrastructure/storage/postgres/document_repo"
	"larder/internal/infrastructure/storage/postgres/register_repo"
	"larder/pkg/logger"
)

// IdempotencyTTL is how long a stored response can be replayed.
const IdempotencyTTL = 24 * time.Hour

// App holds the wired dependencies.
type App struct {
	Config  config.Config
	Log     *logger.Logger
	Pool    *postgres.Pool
	TxM     *postgres.TxManager
	Metrics *metrics.Collectors

	// Redis is nil when REDIS_ADDR is empty.
	Redis redis.UniversalClient

	Materials *catalog_repo.MaterialRepo
	Register  *stock.Service
	Sync      *finance.Synchronizer
	Summary   *finance.SummaryService
	Purchases *purchase.Service
	Orders    *order.Service

	Idempotency *postgres.IdempotencyStore
	Events      *postgres.OutboxPublisher
	Audit       *postgres.AuditLog

	// Local is the in-process summary cache; Listener keeps it coherent
	// across instances.
	Local    *cache.Local
	Listener *cache.Listener
}

// New connects to PostgreSQL (and Redis when configured) and builds the
// services. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		poolCfg.MinConns = cfg.Database.MinConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		Pool:    pool,
		TxM:     postgres.NewTxManager(pool, cfg.Database.StatementTimeout),
		Metrics: metrics.New(),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			pool.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = client
		log.Infow("redis connected", "addr", cfg.Redis.Addr)
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config
	txm := a.TxM

	audit, err := postgres.NewAuditLog(txm, 0)
	if err != nil {
		return err
	}
	a.Audit = audit

	a.Materials = catalog_repo.NewMaterialRepo(txm)
	a.Register = stock.NewService(register_repo.NewStockRepo(txm), audit)
	a.Events = postgres.NewOutboxPublisher(txm)
	a.Idempotency = postgres.NewIdempotencyStore(txm, IdempotencyTTL)

	// Redis serves every instance from one copy; without it each instance
	// keeps a local copy and NOTIFY drops the others' entries.
	a.Local = cache.NewLocal(cfg.Redis.CacheTTL)
	var summaryCache finance.SummaryCache = a.Local
	invalidators := cache.Multi{a.Local, cache.NewNotifyInvalidator(txm)}
	if a.Redis != nil {
		shared := cache.NewRedis(a.Redis, cfg.Redis.CacheTTL)
		summaryCache = shared
		invalidators = append(invalidators, shared)
	}
	a.Listener = cache.NewListener(a.Pool.Pool, a.Local)

	purchases := document_repo.NewPurchaseRepo(txm)
	orders := document_repo.NewOrderRepo(txm)
	financeRepo := register_repo.NewFinanceRepo(txm)
	a.Sync = finance.NewSynchronizer(finance.SynchronizerConfig{
		Repo:      financeRepo,
		TxManager: txm,
		Events:    a.Events,
		Cache:     invalidators,
		Metrics:   a.Metrics,
		Purchases: purchase.NewBookingState(purchases),
		Orders:    order.NewBookingState(orders),
	})
	a.Summary = finance.NewSummaryService(financeRepo, summaryCache)

	a.Purchases = purchase.NewService(purchase.ServiceConfig{
		Repo:      purchases,
		TxManager: txm,
		Resolver: material.NewResolver(a.Materials,
			material.WithMaxAttempts(cfg.Resolver.MaxAttempts),
			material.WithResolverMetrics(a.Metrics),
		),
		Costing: purchase.NewCostingEngine(a.Materials, a.Register),
		Finance: a.Sync,
		Events:  a.Events,
		Metrics: a.Metrics,
	})

	recipes := catalog_repo.NewRecipeRepo(txm)
	a.Orders = order.NewService(order.ServiceConfig{
		Engine: order.NewEngine(order.EngineConfig{
			Orders:    orders,
			Recipes:   recipes,
			Materials: a.Materials,
			Register:  a.Register,
			Events:    a.Events,
			TxManager: txm,
		}),
		Repo:      orders,
		Recipes:   recipes,
		TxManager: txm,
		Finance:   a.Sync,
		Metrics:   a.Metrics,
	})
	return nil
}

// Mutex returns the lock that keeps maintenance jobs to one instance.
func (a *App) Mutex() cache.Mutex {
	if a.Redis != nil {
		return cache.NewRedisMutex(a.Redis)
	}
	return cache.NoMutex{}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	if a.Listener != nil {
		a.Listener.Stop()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.Log.Warnw("close", "error", err)
	}
}
