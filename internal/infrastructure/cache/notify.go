package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"larder/internal/core/id"
	"larder/internal/infrastructure/storage/postgres"
	"larder/pkg/logger"
)

// Channel is the PostgreSQL NOTIFY channel carrying invalidations.
const Channel = "larder_cache_invalidated"

// Notification is the NOTIFY payload.
type Notification struct {
	OwnerID id.ID    `json:"ownerId"`
	Keys    []string `json:"keys"`
}

// NotifyInvalidator broadcasts invalidations with pg_notify so every
// instance running a Listener drops its local copies. Inside a transaction
// the notification is delivered on commit.
type NotifyInvalidator struct {
	txm *postgres.TxManager
}

// NewNotifyInvalidator creates a NOTIFY-based invalidator.
func NewNotifyInvalidator(txm *postgres.TxManager) *NotifyInvalidator {
	return &NotifyInvalidator{txm: txm}
}

// Invalidate implements finance.CacheInvalidator.
func (n *NotifyInvalidator) Invalidate(ctx context.Context, owner id.ID, keys ...string) error {
	payload, err := EncodeNotification(owner, keys)
	if err != nil {
		return err
	}
	if _, err := n.txm.GetQuerier(ctx).Exec(ctx, "SELECT pg_notify($1, $2)", Channel, payload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// EncodeNotification renders the NOTIFY payload.
func EncodeNotification(owner id.ID, keys []string) (string, error) {
	data, err := json.Marshal(Notification{OwnerID: owner, Keys: keys})
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return string(data), nil
}

// DecodeNotification parses a NOTIFY payload.
func DecodeNotification(payload string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if id.IsNil(n.OwnerID) {
		return n, fmt.Errorf("decode notification: owner is missing")
	}
	return n, nil
}

// Listener holds a dedicated connection on Channel and forwards every
// notification to its targets.
type Listener struct {
	pool    *pgxpool.Pool
	targets []Invalidator

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewListener creates a listener. Call Start to begin receiving.
func NewListener(pool *pgxpool.Pool, targets ...Invalidator) *Listener {
	return &Listener{pool: pool, targets: targets}
}

// Start launches the listen loop. Calling it twice is a no-op.
func (l *Listener) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.listenLoop()
	logger.Info(l.ctx, "cache listener started", "channel", Channel)
}

// Stop cancels the loop and waits for it to exit.
func (l *Listener) Stop() {
	l.lifecycleMu.Lock()
	if !l.started {
		l.lifecycleMu.Unlock()
		return
	}
	cancel := l.cancel
	l.started = false
	l.cancel = nil
	l.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	logger.Info(context.Background(), "cache listener stopped")
}

func (l *Listener) listenLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		conn, err := l.pool.Acquire(l.ctx)
		if err != nil {
			logger.Error(l.ctx, "failed to acquire connection for LISTEN", "error", err)
			l.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(l.ctx, "LISTEN "+Channel); err != nil {
			logger.Error(l.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			l.sleep(time.Second)
			continue
		}

		l.waitForNotifications(conn)
		// The session still holds LISTEN state; do not return it to the pool.
		conn.Hijack().Close(context.Background())
	}
}

func (l *Listener) waitForNotifications(conn *pgxpool.Conn) {
	for {
		if l.ctx.Err() != nil {
			return
		}

		ctx, cancel := context.WithTimeout(l.ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if conn.Conn().IsClosed() {
				logger.Warn(l.ctx, "LISTEN connection lost, reconnecting", "error", err)
				return
			}
			continue
		}

		l.Handle(n.Payload)
	}
}

// Handle applies one notification payload to every target.
// A panicking target is recovered so the others still run.
func (l *Listener) Handle(payload string) {
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	n, err := DecodeNotification(payload)
	if err != nil {
		logger.Warn(ctx, "ignoring malformed cache notification", "payload", payload, "error", err)
		return
	}

	for _, target := range l.targets {
		func(t Invalidator) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(ctx, "cache target panic recovered", "panic", r)
				}
			}()
			if err := t.Invalidate(ctx, n.OwnerID, n.Keys...); err != nil {
				logger.Warn(ctx, "cache target invalidation failed", "owner_id", n.OwnerID, "error", err)
			}
		}(target)
	}
}

func (l *Listener) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.ctx.Done():
	case <-t.C:
	}
}
