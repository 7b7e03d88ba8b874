// Package register_repo provides PostgreSQL implementations for the
// append-only registers: stock movements and financial transactions.
package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/internal/domain/stock"
	"larder/internal/infrastructure/storage/postgres"
)

const stockMovementsTable = "reg_stock_movements"

var movementColumns = postgres.ExtractDBColumns[entity.StockMovement]()

var _ stock.Repository = (*StockRepo)(nil)

// StockRepo implements stock.Repository.
type StockRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewStockRepo creates a new stock register repository.
func NewStockRepo(txm *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txm:     txm,
		builder: postgres.Builder(),
	}
}

// CreateMovements batch inserts movements. Large batches inside a
// transaction go through COPY.
func (r *StockRepo) CreateMovements(ctx context.Context, movements []entity.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(movements))
	for _, m := range movements {
		rows = append(rows, postgres.StructValues(m, movementColumns))
	}

	if len(movements) >= postgres.CopyThreshold && r.txm.GetTx(ctx) != nil {
		inserter := postgres.NewBatchInserter(r.txm)
		if _, err := inserter.CopyFromSlice(ctx, stockMovementsTable, movementColumns, rows); err != nil {
			return fmt.Errorf("copy movements: %w", err)
		}
		return nil
	}

	sql, args, err := r.insertQuery(rows).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert movements: %w", err), stockMovementsTable)
	}
	return nil
}

// GetMovementsByRecorder retrieves all movements of a purchase or order.
func (r *StockRepo) GetMovementsByRecorder(ctx context.Context, owner, recorderID id.ID) ([]entity.StockMovement, error) {
	return r.selectMovements(ctx, r.byRecorderQuery(owner, recorderID))
}

// GetMovementHistory returns movement history for a raw material, newest first.
func (r *StockRepo) GetMovementHistory(ctx context.Context, owner, rawMaterialID id.ID, filter stock.MovementFilter) ([]entity.StockMovement, error) {
	return r.selectMovements(ctx, r.historyQuery(owner, rawMaterialID, filter))
}

// GetTurnover calculates receipt and expense totals for a period.
func (r *StockRepo) GetTurnover(ctx context.Context, owner id.ID, filter stock.TurnoverFilter) (stock.Turnover, error) {
	result := stock.Turnover{}
	if filter.RawMaterialID != nil {
		result.RawMaterialID = *filter.RawMaterialID
	}

	sql, args, err := r.turnoverQuery(owner, filter).ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}
	err = r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&result.Receipt, &result.Expense)
	if err != nil {
		return result, fmt.Errorf("calculate turnover: %w", err)
	}
	return result, nil
}

func (r *StockRepo) selectMovements(ctx context.Context, q squirrel.SelectBuilder) ([]entity.StockMovement, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var movements []entity.StockMovement
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return movements, nil
}

func (r *StockRepo) insertQuery(rows [][]any) squirrel.InsertBuilder {
	q := r.builder.Insert(stockMovementsTable).Columns(movementColumns...)
	for _, row := range rows {
		q = q.Values(row...)
	}
	return q
}

func (r *StockRepo) byRecorderQuery(owner, recorderID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(movementColumns...).
		From(stockMovementsTable).
		Where(squirrel.Eq{"owner_id": owner}).
		Where(squirrel.Eq{"recorder_id": recorderID}).
		OrderBy("created_at", "line_id")
}

func (r *StockRepo) historyQuery(owner, rawMaterialID id.ID, filter stock.MovementFilter) squirrel.SelectBuilder {
	q := r.builder.Select(movementColumns...).
		From(stockMovementsTable).
		Where(squirrel.Eq{"owner_id": owner}).
		Where(squirrel.Eq{"raw_material_id": rawMaterialID})

	if filter.RecordType != nil {
		q = q.Where(squirrel.Eq{"record_type": string(*filter.RecordType)})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"period": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"period": *filter.ToDate})
	}

	q = q.OrderBy("period DESC", "line_id DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

func (r *StockRepo) turnoverQuery(owner id.ID, filter stock.TurnoverFilter) squirrel.SelectBuilder {
	q := r.builder.Select(
		"COALESCE(SUM(quantity) FILTER (WHERE record_type = 'receipt'), 0) AS receipt",
		"COALESCE(SUM(quantity) FILTER (WHERE record_type = 'expense'), 0) AS expense",
	).From(stockMovementsTable).
		Where(squirrel.Eq{"owner_id": owner}).
		Where(squirrel.GtOrEq{"period": filter.FromDate}).
		Where(squirrel.Lt{"period": filter.ToDate})

	if filter.RawMaterialID != nil {
		q = q.Where(squirrel.Eq{"raw_material_id": *filter.RawMaterialID})
	}
	return q
}
