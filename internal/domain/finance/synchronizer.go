package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/event"
	"larder/internal/core/id"
	"larder/internal/core/tx"
	"larder/pkg/logger"
)

// Op names one synchronizer contract.
type Op string

const (
	OpPurchaseCompleted Op = "purchase_completed"
	OpPurchaseReverted  Op = "purchase_reverted"
	OpOrderCompleted    Op = "order_completed"
	OpOrderReverted     Op = "order_reverted"
)

// Job is a serialisable synchronizer call. It is what gets queued for the
// worker when a call fails after the stock change was committed.
type Job struct {
	Op         Op              `json:"op"`
	OwnerID    id.ID           `json:"ownerId"`
	RelatedID  id.ID           `json:"relatedId"`
	Amount     decimal.Decimal `json:"amount"`
	Label      string          `json:"label,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// DecodeJob parses a queued job payload.
func DecodeJob(payload []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return Job{}, fmt.Errorf("decode sync job: %w", err)
	}
	if j.Op == "" || id.IsNil(j.RelatedID) || id.IsNil(j.OwnerID) {
		return Job{}, apperror.NewValidation("incomplete sync job").WithDetail("op", string(j.Op))
	}
	return j, nil
}

// SyncMetrics receives synchronizer failure counts.
type SyncMetrics interface {
	SyncFailure(op string)
}

type nopSyncMetrics struct{}

// SourceState reports whether the purchase or order behind a job currently
// carries a booking. A missing source is not booked.
type SourceState interface {
	Booked(ctx context.Context, owner, relatedID id.ID) (bool, error)
}

func (nopSyncMetrics) SyncFailure(string) {}

// Synchronizer keeps financial transactions in step with purchase and order
// lifecycle events.
//
// Booking is keyed by (owner, related_id, type, category), so running the
// same completion twice books once. Removal deletes only rows it would have
// created and is a no-op when they are already gone.
type Synchronizer struct {
	repo    Repository
	txm     tx.Manager
	events  event.Publisher
	cache   CacheInvalidator
	metrics SyncMetrics

	purchases SourceState
	orders    SourceState
}

// SynchronizerConfig configures the synchronizer.
type SynchronizerConfig struct {
	Repo      Repository
	TxManager tx.Manager
	Events    event.Publisher
	Cache     CacheInvalidator // optional
	Metrics   SyncMetrics      // optional

	// Purchases and Orders let Replay drop jobs the source has moved past.
	Purchases SourceState
	Orders    SourceState
}

// NewSynchronizer creates a new synchronizer.
func NewSynchronizer(cfg SynchronizerConfig) *Synchronizer {
	s := &Synchronizer{
		repo:    cfg.Repo,
		txm:     cfg.TxManager,
		events:  cfg.Events,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,

		purchases: cfg.Purchases,
		orders:    cfg.Orders,
	}
	if s.cache == nil {
		s.cache = NopInvalidator{}
	}
	if s.metrics == nil {
		s.metrics = nopSyncMetrics{}
	}
	return s
}

// OnCompleted books one expense for a completed purchase.
func (s *Synchronizer) OnCompleted(ctx context.Context, job Job) error {
	job.Op = OpPurchaseCompleted
	return s.book(ctx, job, TypeExpense, CategoryRawMaterialPurchase, event.ExpenseBooked)
}

// OnReverted removes the expenses booked for purchaseID.
func (s *Synchronizer) OnReverted(ctx context.Context, purchaseID, owner id.ID) error {
	return s.remove(ctx, owner, purchaseID, TypeExpense, event.ExpenseRemoved)
}

// OnOrderCompleted books one income for a completed order.
func (s *Synchronizer) OnOrderCompleted(ctx context.Context, job Job) error {
	job.Op = OpOrderCompleted
	return s.book(ctx, job, TypeIncome, CategoryOrderRevenue, event.IncomeBooked)
}

// OnOrderReverted removes the income booked for orderID.
func (s *Synchronizer) OnOrderReverted(ctx context.Context, orderID, owner id.ID) error {
	return s.remove(ctx, owner, orderID, TypeIncome, event.IncomeRemoved)
}

// Apply dispatches a job to its contract.
func (s *Synchronizer) Apply(ctx context.Context, job Job) error {
	switch job.Op {
	case OpPurchaseCompleted:
		return s.OnCompleted(ctx, job)
	case OpPurchaseReverted:
		return s.OnReverted(ctx, job.RelatedID, job.OwnerID)
	case OpOrderCompleted:
		return s.OnOrderCompleted(ctx, job)
	case OpOrderReverted:
		return s.OnOrderReverted(ctx, job.RelatedID, job.OwnerID)
	default:
		return apperror.NewValidation("unknown sync op").WithDetail("op", string(job.Op))
	}
}

// Replay applies a queued job only when its source is still in the state
// that produced it: a completion while the document is booked, a reversal
// while it is not. A stale job is dropped and reported with applied=false.
func (s *Synchronizer) Replay(ctx context.Context, job Job) (applied bool, err error) {
	current, err := s.current(ctx, job)
	if err != nil {
		return false, err
	}
	if !current {
		logger.Warn(ctx, "stale sync job dropped", "op", job.Op, "related_id", job.RelatedID)
		return false, nil
	}
	if err := s.Apply(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Synchronizer) current(ctx context.Context, job Job) (bool, error) {
	var (
		src  SourceState
		want bool
	)
	switch job.Op {
	case OpPurchaseCompleted:
		src, want = s.purchases, true
	case OpPurchaseReverted:
		src, want = s.purchases, false
	case OpOrderCompleted:
		src, want = s.orders, true
	case OpOrderReverted:
		src, want = s.orders, false
	default:
		return false, apperror.NewValidation("unknown sync op").WithDetail("op", string(job.Op))
	}
	if src == nil {
		return true, nil
	}

	booked, err := src.Booked(ctx, job.OwnerID, job.RelatedID)
	if err != nil {
		return false, fmt.Errorf("check %s source %s: %w", job.Op, job.RelatedID, err)
	}
	return booked == want, nil
}

// RunOrQueue runs job after a committed stock change. A failure does not
// propagate as an error: it is logged, counted, queued as a sync_retry
// outbox event and returned as a SYNC_CLEANUP_FAILURE warning.
func (s *Synchronizer) RunOrQueue(ctx context.Context, job Job) *apperror.AppError {
	err := s.Apply(ctx, job)
	if err == nil {
		return nil
	}

	s.metrics.SyncFailure(string(job.Op))
	warning := apperror.NewSyncCleanupFailure(string(job.Op), job.RelatedID, err)

	qerr := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.events.Publish(ctx, event.DomainEvent{
			AggregateType: "finance_sync",
			AggregateID:   job.RelatedID,
			OwnerID:       job.OwnerID,
			EventType:     event.SyncRetry,
			Payload:       job,
		})
	})
	if qerr != nil {
		warning.WithDetail("queued", false)
		logger.Error(ctx, "financial sync failed and could not be queued",
			"op", job.Op, "related_id", job.RelatedID, "error", err, "queue_error", qerr)
		return warning
	}

	warning.WithDetail("queued", true)
	logger.Warn(ctx, "financial sync failed, queued for retry",
		"op", job.Op, "related_id", job.RelatedID, "error", err)
	return warning
}

func (s *Synchronizer) book(ctx context.Context, job Job, typ Type, category, eventType string) error {
	t := NewTransaction(job.OwnerID, typ, job.Amount, category, job.RelatedID)
	t.Description = job.Label
	if !job.OccurredAt.IsZero() {
		t.OccurredAt = job.OccurredAt
	}
	if err := t.Validate(ctx); err != nil {
		return err
	}

	var inserted bool
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		inserted, err = s.repo.InsertIfAbsent(ctx, t)
		if err != nil {
			return fmt.Errorf("insert %s transaction: %w", typ, err)
		}
		if !inserted {
			return nil
		}
		return s.events.Publish(ctx, event.DomainEvent{
			AggregateType: "financial_transaction",
			AggregateID:   t.ID,
			OwnerID:       t.OwnerID,
			EventType:     eventType,
			Payload:       t,
		})
	})
	if err != nil {
		return err
	}

	if inserted {
		logger.Info(ctx, "financial transaction booked",
			"type", typ, "related_id", job.RelatedID, "amount", job.Amount.String())
	} else {
		logger.Debug(ctx, "financial transaction already booked", "type", typ, "related_id", job.RelatedID)
	}

	s.invalidate(ctx, job.OwnerID)
	return nil
}

func (s *Synchronizer) remove(ctx context.Context, owner, relatedID id.ID, typ Type, eventType string) error {
	var deleted int64
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.repo.DeleteByRelated(ctx, owner, relatedID, typ)
		if err != nil {
			return fmt.Errorf("delete %s transactions: %w", typ, err)
		}
		if deleted == 0 {
			return nil
		}
		return s.events.Publish(ctx, event.DomainEvent{
			AggregateType: "financial_transaction",
			AggregateID:   relatedID,
			OwnerID:       owner,
			EventType:     eventType,
			Payload:       map[string]any{"relatedId": relatedID, "type": typ, "deleted": deleted},
		})
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "financial transactions removed", "type", typ, "related_id", relatedID, "deleted", deleted)
	s.invalidate(ctx, owner)
	return nil
}

func (s *Synchronizer) invalidate(ctx context.Context, owner id.ID) {
	if err := s.cache.Invalidate(ctx, owner, DependentKeys...); err != nil {
		logger.Warn(ctx, "cache invalidation failed", "owner_id", owner, "error", err)
	}
}
