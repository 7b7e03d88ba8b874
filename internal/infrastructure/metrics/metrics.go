// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"larder/internal/domain/finance"
	"larder/internal/domain/material"
	"larder/internal/domain/order"
	"larder/internal/domain/purchase"
)

const namespace = "larder"

// Collectors holds every metric the engine reports. One value serves all
// domain metrics interfaces.
type Collectors struct {
	registry *prometheus.Registry

	purchasesApplied   prometheus.Counter
	purchaseReversals  prometheus.Counter
	orderCompletions   *prometheus.CounterVec
	shortfalls         prometheus.Counter
	resolverCreates    prometheus.Counter
	resolverConflicts  prometheus.Counter
	syncFailures       *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	httpRequests       *prometheus.HistogramVec
	outboxMessages     *prometheus.GaugeVec
}

var (
	_ material.ResolverMetrics = (*Collectors)(nil)
	_ finance.SyncMetrics      = (*Collectors)(nil)
	_ purchase.Metrics         = (*Collectors)(nil)
	_ order.Metrics            = (*Collectors)(nil)
)

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		purchasesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_applied_total",
			Help:      "Purchases whose stock was applied to the warehouse.",
		}),
		purchaseReversals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_reversals_total",
			Help:      "Purchases whose stock application was reversed.",
		}),
		orderCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_completions_total",
			Help:      "Order completion attempts by outcome.",
		}, []string{"outcome"}),
		shortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shortfalls_total",
			Help:      "Shortfall lines reported by feasibility checks.",
		}),
		resolverCreates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_creates_total",
			Help:      "Raw materials created by the item resolver.",
		}),
		resolverConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_conflicts_total",
			Help:      "Concurrent creates lost by the item resolver.",
		}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finance_sync_failures_total",
			Help:      "Financial synchronizer failures after a committed stock change.",
		}, []string{"op"}),
		transitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Duration of lifecycle transitions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		outboxMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_messages",
			Help:      "Outbox messages by status.",
		}, []string{"status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.purchasesApplied,
		c.purchaseReversals,
		c.orderCompletions,
		c.shortfalls,
		c.resolverCreates,
		c.resolverConflicts,
		c.syncFailures,
		c.transitionDuration,
		c.httpRequests,
		c.outboxMessages,
	)
	return c
}

// Registry returns the registry holding the collectors.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collectors) ResolverCreated()  { c.resolverCreates.Inc() }
func (c *Collectors) ResolverConflict() { c.resolverConflicts.Inc() }

func (c *Collectors) SyncFailure(op string) { c.syncFailures.WithLabelValues(op).Inc() }

func (c *Collectors) PurchaseApplied()  { c.purchasesApplied.Inc() }
func (c *Collectors) PurchaseReversed() { c.purchaseReversals.Inc() }

func (c *Collectors) OrderCompletion(outcome string) { c.orderCompletions.WithLabelValues(outcome).Inc() }

func (c *Collectors) Shortfalls(n int) {
	if n > 0 {
		c.shortfalls.Add(float64(n))
	}
}

func (c *Collectors) ObserveTransition(op string, d time.Duration) {
	c.transitionDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func (c *Collectors) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// SetOutbox records the outbox backlog.
func (c *Collectors) SetOutbox(pending, failed, dead int64) {
	c.outboxMessages.WithLabelValues("pending").Set(float64(pending))
	c.outboxMessages.WithLabelValues("failed").Set(float64(failed))
	c.outboxMessages.WithLabelValues("dead").Set(float64(dead))
}
