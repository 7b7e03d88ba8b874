package document_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"larder/internal/core/id"
	"larder/internal/domain/order"
	"larder/internal/infrastructure/storage/postgres"
)

const (
	ordersTable     = "orders"
	orderLinesTable = "order_lines"
)

var orderLineColumns = postgres.ExtractDBColumns[order.Line]()

var _ order.Repository = (*OrderRepo)(nil)

// OrderRepo implements order.Repository.
type OrderRepo struct {
	*BaseDocumentRepo[*order.Order]
}

// NewOrderRepo creates a new order repository.
func NewOrderRepo(txm *postgres.TxManager) *OrderRepo {
	return &OrderRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(txm, ordersTable,
			postgres.ExtractDBColumns[order.Order](),
			func() *order.Order { return &order.Order{} }),
	}
}

// GetByID implements order.Repository.
func (r *OrderRepo) GetByID(ctx context.Context, owner, orderID id.ID) (*order.Order, error) {
	return r.load(ctx, owner, orderID, false)
}

// GetForUpdate implements order.Repository.
func (r *OrderRepo) GetForUpdate(ctx context.Context, owner, orderID id.ID) (*order.Order, error) {
	return r.load(ctx, owner, orderID, true)
}

func (r *OrderRepo) load(ctx context.Context, owner, orderID id.ID, forUpdate bool) (*order.Order, error) {
	o, err := r.getHeader(ctx, owner, orderID, forUpdate)
	if err != nil {
		return nil, err
	}
	o.Lines, err = selectLines[order.Line](ctx, r.querier(ctx), orderLinesTable, "order_id", orderLineColumns, o.ID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Create implements order.Repository.
func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	if err := r.insertHeader(ctx, o); err != nil {
		return err
	}
	if len(o.Lines) == 0 {
		return nil
	}

	q := r.Builder().
		Insert(orderLinesTable).
		Columns(append([]string{"order_id"}, orderLineColumns...)...)
	for _, l := range o.Lines {
		q = q.Values(append([]any{o.ID}, postgres.StructValues(l, orderLineColumns)...)...)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert lines: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert order lines: %w", err), orderLinesTable)
	}
	return nil
}

// UpdateStatus implements order.Repository.
func (r *OrderRepo) UpdateStatus(ctx context.Context, o *order.Order) error {
	return r.execUpdate(ctx, r.updateStatusQuery(o), o.ID)
}

func (r *OrderRepo) updateStatusQuery(o *order.Order) squirrel.UpdateBuilder {
	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.Builder().
		Update(ordersTable).
		Set("status", o.Status).
		Set("status_before_completion", o.StatusBeforeCompletion).
		Set("completed_at", o.CompletedAt).
		Set("updated_at", updatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"owner_id": o.OwnerID}).
		Where(squirrel.Eq{"id": o.ID})
}
