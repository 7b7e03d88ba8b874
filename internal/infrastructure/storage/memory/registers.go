package memory

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/internal/domain/finance"
	"larder/internal/domain/stock"
)

// FinanceRepo implements finance.Repository.
type FinanceRepo struct {
	s *Store
}

var (
	_ finance.Repository        = (*FinanceRepo)(nil)
	_ finance.SummaryRepository = (*FinanceRepo)(nil)
)

func (r *FinanceRepo) InsertIfAbsent(ctx context.Context, t *finance.Transaction) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Finance.InsertIfAbsent"); err != nil {
		return false, err
	}
	for _, existing := range r.s.transactions {
		if existing.OwnerID == t.OwnerID && existing.RelatedID == t.RelatedID &&
			existing.Type == t.Type && existing.Category == t.Category {
			return false, nil
		}
	}
	r.s.transactions = append(r.s.transactions, *t)
	return true, nil
}

func (r *FinanceRepo) DeleteByRelated(ctx context.Context, owner, relatedID id.ID, typ finance.Type) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Finance.DeleteByRelated"); err != nil {
		return 0, err
	}
	before := len(r.s.transactions)
	r.s.transactions = slices.DeleteFunc(r.s.transactions, func(t finance.Transaction) bool {
		return t.OwnerID == owner && t.RelatedID == relatedID && t.Type == typ
	})
	return int64(before - len(r.s.transactions)), nil
}

func (r *FinanceRepo) ListByRelated(ctx context.Context, owner, relatedID id.ID) ([]finance.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []finance.Transaction
	for _, t := range r.s.transactions {
		if t.OwnerID == owner && t.RelatedID == relatedID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *FinanceRepo) Totals(ctx context.Context, owner id.ID) (finance.Summary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sum := finance.Summary{OwnerID: owner, Income: decimal.Zero, Expense: decimal.Zero}
	for _, t := range r.s.transactions {
		if t.OwnerID != owner {
			continue
		}
		sum.Transactions++
		switch t.Type {
		case finance.TypeIncome:
			sum.Income = sum.Income.Add(t.Amount)
		case finance.TypeExpense:
			sum.Expense = sum.Expense.Add(t.Amount)
		}
	}
	return sum, nil
}

// StockRepo implements stock.Repository.
type StockRepo struct {
	s *Store
}

var _ stock.Repository = (*StockRepo)(nil)

func (r *StockRepo) CreateMovements(ctx context.Context, movements []entity.StockMovement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Stock.CreateMovements"); err != nil {
		return err
	}
	r.s.movements = append(r.s.movements, movements...)
	return nil
}

func (r *StockRepo) GetMovementsByRecorder(ctx context.Context, owner, recorderID id.ID) ([]entity.StockMovement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []entity.StockMovement
	for _, m := range r.s.movements {
		if m.OwnerID == owner && m.RecorderID == recorderID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *StockRepo) GetMovementHistory(ctx context.Context, owner, rawMaterialID id.ID, filter stock.MovementFilter) ([]entity.StockMovement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []entity.StockMovement
	for i := len(r.s.movements) - 1; i >= 0; i-- {
		m := r.s.movements[i]
		if m.OwnerID != owner || m.RawMaterialID != rawMaterialID {
			continue
		}
		if filter.RecordType != nil && m.RecordType != *filter.RecordType {
			continue
		}
		if filter.FromDate != nil && m.Period.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && m.Period.After(*filter.ToDate) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *StockRepo) GetTurnover(ctx context.Context, owner id.ID, filter stock.TurnoverFilter) (stock.Turnover, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t := stock.Turnover{Receipt: decimal.Zero, Expense: decimal.Zero}
	if filter.RawMaterialID != nil {
		t.RawMaterialID = *filter.RawMaterialID
	}
	for _, m := range r.s.movements {
		if m.OwnerID != owner {
			continue
		}
		if filter.RawMaterialID != nil && m.RawMaterialID != *filter.RawMaterialID {
			continue
		}
		if m.Period.Before(filter.FromDate) || (!filter.ToDate.IsZero() && m.Period.After(filter.ToDate)) {
			continue
		}
		if m.RecordType == entity.RecordTypeReceipt {
			t.Receipt = t.Receipt.Add(m.Quantity)
		} else {
			t.Expense = t.Expense.Add(m.Quantity)
		}
	}
	return t, nil
}

// Movements returns every movement recorded for owner, oldest first.
func (r *StockRepo) Movements(owner id.ID) []entity.StockMovement {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []entity.StockMovement
	for _, m := range r.s.movements {
		if m.OwnerID == owner {
			out = append(out, m)
		}
	}
	return out
}
