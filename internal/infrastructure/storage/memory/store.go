// Package memory is an in-process implementation of every repository the
// engines depend on. It backs the domain, broker and HTTP tests.
//
// Transactions are serialized: RunInTransaction holds a store-wide lock and
// restores a snapshot when fn fails. Statements issued outside a transaction
// are individually atomic.
package memory

import (
	"context"
	"slices"
	"sync"

	"larder/internal/core/entity"
	"larder/internal/core/event"
	"larder/internal/core/id"
	"larder/internal/domain/finance"
	"larder/internal/domain/material"
	"larder/internal/domain/order"
	"larder/internal/domain/purchase"
)

type txKey struct{}

// Store holds all rows.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	materials    map[id.ID]*material.RawMaterial
	purchases    map[id.ID]*purchase.Purchase
	orders       map[id.ID]*order.Order
	recipes      map[id.ID]*order.Recipe // by id
	transactions []finance.Transaction
	movements    []entity.StockMovement
	events       []event.DomainEvent

	faultMu sync.Mutex
	faults  map[string]error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		materials: make(map[id.ID]*material.RawMaterial),
		purchases: make(map[id.ID]*purchase.Purchase),
		orders:    make(map[id.ID]*order.Order),
		recipes:   make(map[id.ID]*order.Recipe),
		faults:    make(map[string]error),
	}
}

// Materials returns the raw material repository.
func (s *Store) Materials() *MaterialRepo { return &MaterialRepo{s: s} }

// Purchases returns the purchase repository.
func (s *Store) Purchases() *PurchaseRepo { return &PurchaseRepo{s: s} }

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepo { return &OrderRepo{s: s} }

// Recipes returns the recipe repository.
func (s *Store) Recipes() *RecipeRepo { return &RecipeRepo{s: s} }

// Finance returns the financial transaction repository.
func (s *Store) Finance() *FinanceRepo { return &FinanceRepo{s: s} }

// Stock returns the stock movement repository.
func (s *Store) Stock() *StockRepo { return &StockRepo{s: s} }

// Outbox returns the event log.
func (s *Store) Outbox() *Outbox { return &Outbox{s: s} }

// RunInTransaction implements tx.Manager. Nested calls join the outer
// transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// ReadOnly implements tx.ReadOnlyManager.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// FailNext makes the next call of op return err. Op names are
// "<Repo>.<Method>", e.g. "Finance.InsertIfAbsent".
func (s *Store) FailNext(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

// fault pops an injected error.
func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

type snapshot struct {
	materials    map[id.ID]*material.RawMaterial
	purchases    map[id.ID]*purchase.Purchase
	orders       map[id.ID]*order.Order
	recipes      map[id.ID]*order.Recipe
	transactions []finance.Transaction
	movements    []entity.StockMovement
	events       []event.DomainEvent
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		materials:    cloneMap(s.materials, cloneMaterial),
		purchases:    cloneMap(s.purchases, clonePurchase),
		orders:       cloneMap(s.orders, cloneOrder),
		recipes:      cloneMap(s.recipes, cloneRecipe),
		transactions: slices.Clone(s.transactions),
		movements:    slices.Clone(s.movements),
		events:       slices.Clone(s.events),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materials = snap.materials
	s.purchases = snap.purchases
	s.orders = snap.orders
	s.recipes = snap.recipes
	s.transactions = snap.transactions
	s.movements = snap.movements
	s.events = snap.events
}

func cloneMap[V any](m map[id.ID]*V, clone func(*V) *V) map[id.ID]*V {
	out := make(map[id.ID]*V, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

func cloneMaterial(m *material.RawMaterial) *material.RawMaterial {
	c := *m
	c.Suppliers = slices.Clone(m.Suppliers)
	return &c
}

func clonePurchase(p *purchase.Purchase) *purchase.Purchase {
	c := *p
	if p.AppliedAt != nil {
		t := *p.AppliedAt
		c.AppliedAt = &t
	}
	c.Lines = make([]purchase.LineItem, len(p.Lines))
	for i, l := range p.Lines {
		c.Lines[i] = l
		if l.RawMaterialID != nil {
			rid := *l.RawMaterialID
			c.Lines[i].RawMaterialID = &rid
		}
	}
	return &c
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	if o.StatusBeforeCompletion != nil {
		st := *o.StatusBeforeCompletion
		c.StatusBeforeCompletion = &st
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	c.Lines = slices.Clone(o.Lines)
	return &c
}

func cloneRecipe(r *order.Recipe) *order.Recipe {
	c := *r
	c.Ingredients = slices.Clone(r.Ingredients)
	return &c
}
