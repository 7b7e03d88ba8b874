package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"larder/internal/core/id"
	"larder/internal/domain/finance"
	"larder/internal/infrastructure/storage/postgres"
)

const financialTransactionsTable = "financial_transactions"

var transactionColumns = postgres.ExtractDBColumns[finance.Transaction]()

var (
	_ finance.Repository        = (*FinanceRepo)(nil)
	_ finance.SummaryRepository = (*FinanceRepo)(nil)
)

// FinanceRepo implements finance.Repository.
type FinanceRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewFinanceRepo creates a new financial transaction repository.
func NewFinanceRepo(txm *postgres.TxManager) *FinanceRepo {
	return &FinanceRepo{
		txm:     txm,
		builder: postgres.Builder(),
	}
}

// InsertIfAbsent implements finance.Repository. The unique key
// (owner_id, related_id, type, category) makes repeated bookings no-ops.
func (r *FinanceRepo) InsertIfAbsent(ctx context.Context, t *finance.Transaction) (bool, error) {
	sql, args, err := r.insertQuery(t).ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return false, postgres.MapError(fmt.Errorf("insert financial transaction: %w", err), financialTransactionsTable)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteByRelated implements finance.Repository.
func (r *FinanceRepo) DeleteByRelated(ctx context.Context, owner, relatedID id.ID, typ finance.Type) (int64, error) {
	sql, args, err := r.deleteQuery(owner, relatedID, typ).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete financial transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByRelated implements finance.Repository.
func (r *FinanceRepo) ListByRelated(ctx context.Context, owner, relatedID id.ID) ([]finance.Transaction, error) {
	sql, args, err := r.builder.Select(transactionColumns...).
		From(financialTransactionsTable).
		Where(squirrel.Eq{"owner_id": owner}).
		Where(squirrel.Eq{"related_id": relatedID}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []finance.Transaction
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("select financial transactions: %w", err)
	}
	return out, nil
}

// Totals implements finance.SummaryRepository.
func (r *FinanceRepo) Totals(ctx context.Context, owner id.ID) (finance.Summary, error) {
	sum := finance.Summary{OwnerID: owner}
	sql, args, err := r.totalsQuery(owner).ToSql()
	if err != nil {
		return sum, fmt.Errorf("build query: %w", err)
	}
	err = r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&sum.Income, &sum.Expense, &sum.Transactions)
	if err != nil {
		return sum, fmt.Errorf("calculate totals: %w", err)
	}
	return sum, nil
}

func (r *FinanceRepo) totalsQuery(owner id.ID) squirrel.SelectBuilder {
	return r.builder.Select(
		"COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0) AS income",
		"COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0) AS expense",
		"COUNT(*) AS transactions",
	).From(financialTransactionsTable).
		Where(squirrel.Eq{"owner_id": owner})
}

func (r *FinanceRepo) insertQuery(t *finance.Transaction) squirrel.InsertBuilder {
	return r.builder.Insert(financialTransactionsTable).
		Columns(transactionColumns...).
		Values(postgres.StructValues(t, transactionColumns)...).
		Suffix("ON CONFLICT (owner_id, related_id, type, category) DO NOTHING")
}

func (r *FinanceRepo) deleteQuery(owner, relatedID id.ID, typ finance.Type) squirrel.DeleteBuilder {
	return r.builder.Delete(financialTransactionsTable).
		Where(squirrel.Eq{"owner_id": owner}).
		Where(squirrel.Eq{"related_id": relatedID}).
		Where(squirrel.Eq{"type": string(typ)})
}
