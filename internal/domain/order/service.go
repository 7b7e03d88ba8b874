package order

import (
	"context"
	"fmt"
	"time"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/core/tx"
	"larder/internal/domain/finance"
)

// FinanceSync is the post-commit bookkeeping step. Implemented by
// finance.Synchronizer.
type FinanceSync interface {
	RunOrQueue(ctx context.Context, job finance.Job) *apperror.AppError
}

// Metrics receives order gate counters.
type Metrics interface {
	OrderCompletion(outcome string)
	Shortfalls(n int)
	ObserveTransition(op string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) OrderCompletion(string)                  {}
func (nopMetrics) Shortfalls(int)                          {}
func (nopMetrics) ObserveTransition(string, time.Duration) {}

// Completion outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeShort     = "shortfall"
	OutcomeRejected  = "rejected"
)

// CompleteResult is what the order gate returns for a completion.
type CompleteResult struct {
	*Completion
	Warning *apperror.AppError `json:"warning,omitempty"`
}

// ReverseResult is what the order gate returns for a reversal.
type ReverseResult struct {
	*Reversal
	Warning *apperror.AppError `json:"warning,omitempty"`
}

// Service is the order lifecycle gate around Engine.
type Service struct {
	engine  *Engine
	repo    Repository
	recipes RecipeRepository
	txm     tx.Manager
	finance FinanceSync
	metrics Metrics
}

// ServiceConfig configures the service.
type ServiceConfig struct {
	Engine    *Engine
	Repo      Repository
	Recipes   RecipeRepository // optional; needed by SaveRecipe and Recipe
	TxManager tx.Manager
	Finance   FinanceSync
	Metrics   Metrics // optional
}

// NewService creates a new order service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		engine:  cfg.Engine,
		repo:    cfg.Repo,
		recipes: cfg.Recipes,
		txm:     cfg.TxManager,
		finance: cfg.Finance,
		metrics: cfg.Metrics,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// Create stores a new pending order.
func (s *Service) Create(ctx context.Context, o *Order) error {
	if err := o.Validate(ctx); err != nil {
		return err
	}
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})
}

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, owner, orderID id.ID) (*Order, error) {
	return s.repo.GetByID(ctx, owner, orderID)
}

// SetStatus moves an order between non-completion states. Completion and its
// reversal go through Complete and Reverse.
func (s *Service) SetStatus(ctx context.Context, owner, orderID id.ID, to Status) (*Order, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	if to == StatusCompleted {
		return nil, apperror.NewInvalidTransition("order", "any", string(to)).
			WithDetail("hint", "use the complete operation")
	}

	var out *Order
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, owner, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusCompleted {
			return apperror.NewInvalidTransition("order", string(o.Status), string(to)).
				WithDetail("hint", "use the reverse operation")
		}
		out = o
		if o.Status == to {
			return nil
		}
		o.Status = to
		o.Touch()
		return s.repo.UpdateStatus(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Requirements returns the aggregated raw-material needs of an order.
func (s *Service) Requirements(ctx context.Context, owner, orderID id.ID) ([]Requirement, error) {
	return s.engine.Requirements(ctx, owner, orderID)
}

// CanComplete is the read-only pre-flight check.
func (s *Service) CanComplete(ctx context.Context, owner, orderID id.ID) (Feasibility, error) {
	return s.engine.CanComplete(ctx, owner, orderID)
}

// Complete deducts stock and marks the order completed, then books income.
func (s *Service) Complete(ctx context.Context, owner, orderID id.ID) (*CompleteResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveTransition("order_complete", time.Since(start)) }()

	c, err := s.engine.CompleteAndDeductStock(ctx, owner, orderID)
	if err != nil {
		s.metrics.OrderCompletion(OutcomeRejected)
		return nil, err
	}
	result := &CompleteResult{Completion: c}
	if !c.Completed {
		s.metrics.OrderCompletion(OutcomeShort)
		s.metrics.Shortfalls(len(c.Feasibility.Shortfalls))
		return result, nil
	}
	s.metrics.OrderCompletion(OutcomeCompleted)

	result.Warning = s.finance.RunOrQueue(ctx, finance.Job{
		Op:         finance.OpOrderCompleted,
		OwnerID:    owner,
		RelatedID:  orderID,
		Amount:     c.Order.TotalValue,
		OccurredAt: *c.Order.CompletedAt,
	})
	return result, nil
}

// Reverse undoes a completion, then removes the booked income.
func (s *Service) Reverse(ctx context.Context, owner, orderID id.ID) (*ReverseResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveTransition("order_reverse", time.Since(start)) }()

	r, err := s.engine.ReverseCompletion(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}
	result := &ReverseResult{Reversal: r}
	result.Warning = s.finance.RunOrQueue(ctx, finance.Job{
		Op:        finance.OpOrderReverted,
		OwnerID:   owner,
		RelatedID: orderID,
	})
	return result, nil
}

// SaveRecipe validates and stores the recipe of a product, replacing the
// previous one. Referenced raw materials must exist.
func (s *Service) SaveRecipe(ctx context.Context, rec *Recipe) error {
	if s.recipes == nil {
		return apperror.NewInternal(fmt.Errorf("recipe repository not configured"))
	}
	if err := rec.Validate(ctx); err != nil {
		return err
	}
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.engine.checkIngredients(ctx, rec); err != nil {
			return err
		}
		if err := s.recipes.Save(ctx, rec); err != nil {
			return fmt.Errorf("save recipe: %w", err)
		}
		return nil
	})
}

// Recipe returns the recipe of a product.
func (s *Service) Recipe(ctx context.Context, owner, productID id.ID) (*Recipe, error) {
	if s.recipes == nil {
		return nil, apperror.NewInternal(fmt.Errorf("recipe repository not configured"))
	}
	return s.recipes.RecipeForProduct(ctx, owner, productID)
}
