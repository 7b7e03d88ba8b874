package purchase

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"larder/internal/core/apperror"
	"larder/internal/core/event"
	"larder/internal/core/id"
	"larder/internal/core/tx"
	"larder/internal/domain/finance"
	"larder/internal/domain/material"
	"larder/pkg/logger"
)

var tracer = otel.Tracer("larder/purchase")

// FinanceSync is the post-commit bookkeeping step. Implemented by
// finance.Synchronizer.
type FinanceSync interface {
	RunOrQueue(ctx context.Context, job finance.Job) *apperror.AppError
}

// Metrics receives purchase gate counters.
type Metrics interface {
	PurchaseApplied()
	PurchaseReversed()
	ObserveTransition(op string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) PurchaseApplied()                        {}
func (nopMetrics) PurchaseReversed()                       {}
func (nopMetrics) ObserveTransition(string, time.Duration) {}

// TransitionResult reports what a status change did.
type TransitionResult struct {
	Purchase *Purchase `json:"purchase"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`

	// Applied is true when this call added the purchase to stock.
	Applied bool `json:"applied"`
	// Reversed is true when this call took the purchase out of stock.
	Reversed bool `json:"reversed"`

	// Resolution is the per-line resolver report. When it contains
	// unresolved lines the purchase was left in its previous status.
	Resolution []material.LineResolution `json:"resolution,omitempty"`

	Apply   *ApplyReport   `json:"apply,omitempty"`
	Reverse *ReverseReport `json:"reverse,omitempty"`

	// Warning is set when bookkeeping failed after stock was committed.
	Warning *apperror.AppError `json:"warning,omitempty"`
}

// Blocked reports whether unresolved lines kept the purchase from completing.
func (r *TransitionResult) Blocked() bool {
	return len(material.Unresolved(r.Resolution)) > 0
}

// Service is the purchase lifecycle gate. Stock is applied only on the
// pending|cancelled -> completed edge and taken back only on the
// completed -> pending|cancelled edge or on delete.
type Service struct {
	repo     Repository
	txm      tx.Manager
	resolver *material.Resolver
	costing  *CostingEngine
	finance  FinanceSync
	events   event.Publisher
	metrics  Metrics
}

// ServiceConfig configures the service.
type ServiceConfig struct {
	Repo      Repository
	TxManager tx.Manager
	Resolver  *material.Resolver
	Costing   *CostingEngine
	Finance   FinanceSync
	Events    event.Publisher
	Metrics   Metrics // optional
}

// NewService creates a new purchase service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:     cfg.Repo,
		txm:      cfg.TxManager,
		resolver: cfg.Resolver,
		costing:  cfg.Costing,
		finance:  cfg.Finance,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// Create stores a new pending purchase.
func (s *Service) Create(ctx context.Context, p *Purchase) error {
	if err := p.Validate(ctx); err != nil {
		return err
	}
	p.Renumber()
	p.RecomputeTotal()
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create purchase: %w", err)
		}
		return nil
	})
}

// Get returns a purchase with its lines.
func (s *Service) Get(ctx context.Context, owner, purchaseID id.ID) (*Purchase, error) {
	return s.repo.GetByID(ctx, owner, purchaseID)
}

// Transition moves a purchase to status to and fires the engines that the
// edge calls for.
func (s *Service) Transition(ctx context.Context, owner, purchaseID id.ID, to Status) (*TransitionResult, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "purchase.transition",
		trace.WithAttributes(
			attribute.String("purchase.id", purchaseID.String()),
			attribute.String("purchase.to", string(to)),
		))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.ObserveTransition("purchase_"+string(to), time.Since(start)) }()

	p, err := s.repo.GetByID(ctx, owner, purchaseID)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Purchase: p, From: p.Status, To: to}
	switch {
	case p.Status == to:
		// completed -> completed lands here: never applied twice.
		return result, nil
	case to == StatusCompleted:
		return s.complete(ctx, p, result)
	case p.Status == StatusCompleted:
		return s.revert(ctx, p, to, result)
	default:
		return s.setStatus(ctx, p, to, result)
	}
}

func (s *Service) complete(ctx context.Context, p *Purchase, result *TransitionResult) (*TransitionResult, error) {
	if unresolved := p.UnresolvedLines(); len(unresolved) > 0 {
		report, err := s.resolver.ResolveAll(ctx, p.OwnerID, p.Candidates(), p.Supplier)
		if err != nil {
			return nil, err
		}
		result.Resolution = report

		if p.ApplyResolutions(report) > 0 {
			err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
				return s.repo.SaveLineRefs(ctx, p)
			})
			if err != nil {
				return nil, fmt.Errorf("save resolved line refs: %w", err)
			}
		}

		if result.Blocked() {
			logger.Warn(ctx, "purchase not completed: unresolved line items",
				"purchase_id", p.ID, "unresolved", len(material.Unresolved(report)))
			return result, nil
		}
	}

	var applied bool
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.GetForUpdate(ctx, p.OwnerID, p.ID)
		if err != nil {
			return err
		}
		if locked.Status == StatusCompleted {
			// a concurrent request completed it first
			result.Purchase = locked
			return nil
		}

		report, err := s.costing.ApplyPurchaseToWarehouse(ctx, locked)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		locked.Status = StatusCompleted
		locked.AppliedAt = &now
		locked.Touch()
		if err := s.repo.UpdateStatus(ctx, locked); err != nil {
			return fmt.Errorf("update purchase status: %w", err)
		}
		if err := s.publish(ctx, locked, event.PurchaseCompleted); err != nil {
			return err
		}

		applied = true
		result.Purchase = locked
		result.Apply = &report
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return result, nil
	}

	result.Applied = true
	s.metrics.PurchaseApplied()
	logger.Info(ctx, "purchase applied to stock",
		"purchase_id", p.ID, "lines", len(result.Apply.Lines), "total", result.Purchase.TotalValue.String())

	result.Warning = s.finance.RunOrQueue(ctx, finance.Job{
		Op:         finance.OpPurchaseCompleted,
		OwnerID:    p.OwnerID,
		RelatedID:  p.ID,
		Amount:     result.Purchase.TotalValue,
		Label:      result.Purchase.Supplier,
		OccurredAt: *result.Purchase.AppliedAt,
	})
	return result, nil
}

func (s *Service) revert(ctx context.Context, p *Purchase, to Status, result *TransitionResult) (*TransitionResult, error) {
	var reversed bool
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.GetForUpdate(ctx, p.OwnerID, p.ID)
		if err != nil {
			return err
		}
		result.Purchase = locked
		if locked.Status != StatusCompleted {
			// someone reverted it first; plain status change from here
			if locked.Status == to {
				return nil
			}
			locked.Status = to
			locked.Touch()
			return s.repo.UpdateStatus(ctx, locked)
		}

		report, err := s.costing.ReversePurchaseFromWarehouse(ctx, locked)
		if err != nil {
			result.Reverse = &report
			return err
		}

		locked.Status = to
		locked.AppliedAt = nil
		locked.Touch()
		if err := s.repo.UpdateStatus(ctx, locked); err != nil {
			return fmt.Errorf("update purchase status: %w", err)
		}
		if err := s.publish(ctx, locked, event.PurchaseReverted); err != nil {
			return err
		}

		reversed = true
		result.Reverse = &report
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !reversed {
		return result, nil
	}

	result.Reversed = true
	s.metrics.PurchaseReversed()
	logger.Info(ctx, "purchase taken out of stock", "purchase_id", p.ID, "to", to)

	result.Warning = s.finance.RunOrQueue(ctx, finance.Job{
		Op:        finance.OpPurchaseReverted,
		OwnerID:   p.OwnerID,
		RelatedID: p.ID,
	})
	return result, nil
}

func (s *Service) setStatus(ctx context.Context, p *Purchase, to Status, result *TransitionResult) (*TransitionResult, error) {
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.GetForUpdate(ctx, p.OwnerID, p.ID)
		if err != nil {
			return err
		}
		if locked.Status == StatusCompleted {
			return apperror.NewConflict("purchase was completed concurrently").
				WithDetail("purchase_id", p.ID)
		}
		locked.Status = to
		locked.Touch()
		result.Purchase = locked
		return s.repo.UpdateStatus(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteResult reports what Delete did.
type DeleteResult struct {
	Reversed bool               `json:"reversed"`
	Reverse  *ReverseReport     `json:"reverse,omitempty"`
	Warning  *apperror.AppError `json:"warning,omitempty"`
}

// Delete removes a purchase. A completed purchase is taken out of stock in
// the same transaction, and its expense is removed after commit.
func (s *Service) Delete(ctx context.Context, owner, purchaseID id.ID) (*DeleteResult, error) {
	ctx, span := tracer.Start(ctx, "purchase.delete",
		trace.WithAttributes(attribute.String("purchase.id", purchaseID.String())))
	defer span.End()

	result := &DeleteResult{}
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.GetForUpdate(ctx, owner, purchaseID)
		if err != nil {
			return err
		}
		if locked.Status == StatusCompleted {
			report, err := s.costing.ReversePurchaseFromWarehouse(ctx, locked)
			result.Reverse = &report
			if err != nil {
				return err
			}
			result.Reversed = true
			if err := s.publish(ctx, locked, event.PurchaseReverted); err != nil {
				return err
			}
		}
		return s.repo.Delete(ctx, owner, purchaseID)
	})
	if err != nil {
		return nil, err
	}

	if result.Reversed {
		s.metrics.PurchaseReversed()
	}
	logger.Info(ctx, "purchase deleted", "purchase_id", purchaseID, "reversed", result.Reversed)

	// idempotent: removes nothing for a purchase that never booked an expense
	result.Warning = s.finance.RunOrQueue(ctx, finance.Job{
		Op:        finance.OpPurchaseReverted,
		OwnerID:   owner,
		RelatedID: purchaseID,
	})
	return result, nil
}

func (s *Service) publish(ctx context.Context, p *Purchase, eventType string) error {
	if s.events == nil {
		return nil
	}
	err := s.events.Publish(ctx, event.DomainEvent{
		AggregateType: "purchase",
		AggregateID:   p.ID,
		OwnerID:       p.OwnerID,
		EventType:     eventType,
		Payload: map[string]any{
			"purchaseId": p.ID,
			"status":     p.Status,
			"supplier":   p.Supplier,
			"total":      p.TotalValue,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
