// Package event defines domain events written to the transactional outbox.
package event

import (
	"context"

	"larder/internal/core/id"
)

// Event types emitted by the engine.
const (
	PurchaseCompleted = "purchase.completed"
	PurchaseReverted  = "purchase.reverted"
	OrderCompleted    = "order.completed"
	OrderReverted     = "order.reverted"

	ExpenseBooked  = "finance.expense_booked"
	ExpenseRemoved = "finance.expense_removed"
	IncomeBooked   = "finance.income_booked"
	IncomeRemoved  = "finance.income_removed"

	// SyncRetry carries a failed Financial Synchronizer call for the worker.
	SyncRetry = "finance.sync_retry"
)

// DomainEvent represents an event to be published via outbox.
type DomainEvent struct {
	AggregateType string
	AggregateID   id.ID
	OwnerID       id.ID
	EventType     string
	Payload       any
}

// Publisher writes events inside the caller's transaction.
type Publisher interface {
	Publish(ctx context.Context, e DomainEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e DomainEvent) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, e DomainEvent) error {
	return f(ctx, e)
}
