// Package finance books and removes the financial transactions that mirror
// purchase and order lifecycle events.
package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
)

// Type is the direction of a financial transaction.
type Type string

const (
	TypeExpense Type = "expense"
	TypeIncome  Type = "income"
)

// Categories booked by the synchronizer.
const (
	CategoryRawMaterialPurchase = "Raw Material Purchase"
	CategoryOrderRevenue        = "Order Revenue"
)

// Cache keys of the read models that depend on financial transactions.
const (
	KeyFinancialSummary   = "financial_summary"
	KeyProfitAnalysis     = "profit_analysis"
	KeyPurchaseStatistics = "purchase_statistics"
)

// DependentKeys are invalidated after every synchronizer call.
var DependentKeys = []string{KeyFinancialSummary, KeyProfitAnalysis, KeyPurchaseStatistics}

// Transaction is one booked expense or income.
// Rows are created and deleted by the synchronizer, never edited in place.
type Transaction struct {
	ID          id.ID           `db:"id" json:"id"`
	OwnerID     id.ID           `db:"owner_id" json:"ownerId"`
	Type        Type            `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Category    string          `db:"category" json:"category"`
	RelatedID   id.ID           `db:"related_id" json:"relatedId"`
	Description string          `db:"description" json:"description,omitempty"`
	OccurredAt  time.Time       `db:"occurred_at" json:"occurredAt"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// NewTransaction creates a transaction with generated ID.
func NewTransaction(owner id.ID, typ Type, amount decimal.Decimal, category string, relatedID id.ID) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:         id.New(),
		OwnerID:    owner,
		Type:       typ,
		Amount:     amount,
		Category:   category,
		RelatedID:  relatedID,
		OccurredAt: now,
		CreatedAt:  now,
	}
}

// Validate implements entity.Validatable interface.
func (t *Transaction) Validate(ctx context.Context) error {
	if id.IsNil(t.OwnerID) {
		return apperror.NewValidation("owner is required").WithDetail("field", "ownerId")
	}
	if id.IsNil(t.RelatedID) {
		return apperror.NewValidation("related id is required").WithDetail("field", "relatedId")
	}
	if t.Type != TypeExpense && t.Type != TypeIncome {
		return apperror.NewValidation("invalid transaction type").WithDetail("value", string(t.Type))
	}
	if t.Amount.IsNegative() {
		return apperror.NewValidation("amount cannot be negative").WithDetail("value", t.Amount.String())
	}
	return nil
}

// Repository defines data access for financial transactions.
type Repository interface {
	// InsertIfAbsent inserts t unless a row with the same
	// (owner, related_id, type, category) exists. Reports whether it inserted.
	InsertIfAbsent(ctx context.Context, t *Transaction) (bool, error)

	// DeleteByRelated deletes the owner's rows of the given type linked to relatedID.
	DeleteByRelated(ctx context.Context, owner, relatedID id.ID, typ Type) (int64, error)

	// ListByRelated returns every row linked to relatedID.
	ListByRelated(ctx context.Context, owner, relatedID id.ID) ([]Transaction, error)
}

// CacheInvalidator tells dependent read models (reports, summaries) that
// their inputs changed. Implementations live in infrastructure/cache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, owner id.ID, keys ...string) error
}

// NopInvalidator does nothing.
type NopInvalidator struct{}

// Invalidate implements CacheInvalidator.
func (NopInvalidator) Invalidate(context.Context, id.ID, ...string) error { return nil }
