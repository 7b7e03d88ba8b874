// Package worker runs the outbox relay and periodic maintenance.
package worker

import (
	"context"
	"sync"
	"time"

	"larder/internal/infrastructure/cache"
	"larder/internal/infrastructure/storage/postgres"
	"larder/pkg/logger"
)

// Relay is the outbox side of the worker. Implemented by postgres.OutboxRelay.
type Relay interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (postgres.OutboxStats, error)
	PurgePublished(ctx context.Context, olderThan time.Time) (int64, error)
}

// KeyCleaner drops expired idempotency keys. Implemented by
// postgres.IdempotencyStore.
type KeyCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Gauges receives the outbox backlog.
type Gauges interface {
	SetOutbox(pending, failed, dead int64)
}

// MaintenanceLock is the lock name shared by all worker instances.
const MaintenanceLock = "worker:maintenance"

// Config configures the worker loops.
type Config struct {
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	RetainPublished     time.Duration
}

// Worker drains the outbox and keeps the system tables small.
type Worker struct {
	relay  Relay
	keys   KeyCleaner
	mutex  cache.Mutex
	gauges Gauges
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

// New creates a worker. keys and gauges may be nil; a nil mutex runs
// maintenance on every instance.
func New(relay Relay, keys KeyCleaner, mutex cache.Mutex, gauges Gauges, cfg Config, log *logger.Logger) *Worker {
	if mutex == nil {
		mutex = cache.NoMutex{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Hour
	}
	if cfg.RetainPublished <= 0 {
		cfg.RetainPublished = 7 * 24 * time.Hour
	}
	return &Worker{
		relay:  relay,
		keys:   keys,
		mutex:  mutex,
		gauges: gauges,
		cfg:    cfg,
		log:    log.WithComponent("worker"),
		now:    time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.relayLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.maintenanceLoop(ctx)
	}()
	wg.Wait()
}

func (w *Worker) relayLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain processes batches until the outbox is empty or a batch fails.
func (w *Worker) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		total += n
		if err != nil {
			w.log.Errorw("outbox batch failed", "error", err)
			break
		}
		if n == 0 {
			break
		}
	}
	if total > 0 {
		w.log.Debugw("outbox drained", "count", total)
	}
	return total
}

func (w *Worker) maintenanceLoop(ctx context.Context) {
	w.Maintain(ctx)

	ticker := time.NewTicker(w.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Maintain(ctx)
		}
	}
}

// Maintain moves exhausted messages to the DLQ, purges old published
// messages, drops expired idempotency keys and refreshes the gauges.
// Only one instance runs the cleanup at a time.
func (w *Worker) Maintain(ctx context.Context) {
	ran, err := w.mutex.TryRun(ctx, MaintenanceLock, w.cfg.MaintenanceInterval, w.cleanup)
	switch {
	case err != nil:
		w.log.Errorw("maintenance failed", "error", err)
	case !ran:
		w.log.Debugw("maintenance held by another instance")
	}
	w.refreshGauges(ctx)
}

func (w *Worker) cleanup(ctx context.Context) error {
	moved, err := w.relay.MoveToDLQ(ctx)
	if err != nil {
		return err
	}
	purged, err := w.relay.PurgePublished(ctx, w.now().Add(-w.cfg.RetainPublished))
	if err != nil {
		return err
	}
	var expired int64
	if w.keys != nil {
		if expired, err = w.keys.CleanupExpired(ctx); err != nil {
			return err
		}
	}
	if moved+purged+expired > 0 {
		w.log.Infow("maintenance done", "dead_lettered", moved, "purged", purged, "expired_keys", expired)
	}
	return nil
}

func (w *Worker) refreshGauges(ctx context.Context) {
	if w.gauges == nil {
		return
	}
	stats, err := w.relay.Stats(ctx)
	if err != nil {
		w.log.Warnw("outbox stats failed", "error", err)
		return
	}
	w.gauges.SetOutbox(stats.Pending, stats.Failed, stats.Dead)
	if stats.OldestPending != nil {
		if lag := w.now().Sub(*stats.OldestPending); lag > 5*time.Minute {
			w.log.Warnw("outbox is lagging", "oldest_pending", stats.OldestPending, "lag", lag.String())
		}
	}
}
