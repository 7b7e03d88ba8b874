// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"larder/internal/domain/finance"
	"larder/internal/domain/material"
	"larder/internal/domain/order"
	"larder/internal/domain/purchase"
	"larder/internal/domain/stock"
	"larder/internal/infrastructure/http/v1/handlers"
	"larder/internal/infrastructure/http/v1/middleware"
	"larder/pkg/logger"
)

// RouterConfig holds the services the API exposes.
type RouterConfig struct {
	Logger *logger.Logger

	Purchases *purchase.Service
	Orders    *order.Service
	Materials material.Repository
	Stock     *stock.Service
	Summary   *finance.SummaryService

	// Idempotency enables Idempotency-Key handling when not nil.
	Idempotency middleware.IdempotencyStore

	// Metrics observes request latency and serves /metrics when not nil.
	Metrics interface {
		middleware.RequestObserver
		Handler() http.Handler
	}

	// HealthChecks run on GET /health/ready.
	HealthChecks map[string]handlers.CheckFunc

	// Debug leaves gin in debug mode.
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// ErrorHandler wraps Recovery so a recovered panic is rendered.
	var obs middleware.RequestObserver
	if cfg.Metrics != nil {
		obs = cfg.Metrics
	}
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger, obs))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api/v1")
	api.Use(middleware.Account())
	if cfg.Idempotency != nil {
		api.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()

	if cfg.Purchases != nil {
		handlers.NewPurchaseHandler(base, cfg.Purchases).RegisterRoutes(api.Group("/purchases"))
	}
	if cfg.Orders != nil {
		handlers.NewOrderHandler(base, cfg.Orders).RegisterRoutes(api.Group("/orders"), api.Group("/products"))
	}
	materialHandler := handlers.NewMaterialHandler(base, cfg.Materials, cfg.Stock)
	api.GET("/units/convert", materialHandler.Convert)
	if cfg.Materials != nil {
		api.GET("/materials", materialHandler.List)
		if cfg.Stock != nil {
			api.GET("/materials/:id/movements", materialHandler.Movements)
		}
	}
	if cfg.Summary != nil {
		api.GET("/finance/summary", handlers.NewFinanceHandler(base, cfg.Summary).Summary)
	}

	return router
}
