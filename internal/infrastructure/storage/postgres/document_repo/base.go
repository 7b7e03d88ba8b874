// Package document_repo provides PostgreSQL implementations for purchases
// and orders: a header row plus numbered lines.
package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/infrastructure/storage/postgres"
)

// BaseDocumentRepo provides header operations shared by document tables.
type BaseDocumentRepo[T any] struct {
	txm        *postgres.TxManager
	tableName  string
	selectCols []string
	newFn      func() T
}

// NewBaseDocumentRepo creates a new base document repository.
func NewBaseDocumentRepo[T any](
	txm *postgres.TxManager,
	tableName string,
	selectCols []string,
	newFn func() T,
) *BaseDocumentRepo[T] {
	return &BaseDocumentRepo[T]{
		txm:        txm,
		tableName:  tableName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *BaseDocumentRepo[T]) Builder() squirrel.StatementBuilderType {
	return postgres.Builder()
}

func (r *BaseDocumentRepo[T]) querier(ctx context.Context) postgres.Querier {
	return r.txm.GetQuerier(ctx)
}

func (r *BaseDocumentRepo[T]) baseSelect(owner id.ID) squirrel.SelectBuilder {
	return r.Builder().
		Select(r.selectCols...).
		From(r.tableName).
		Where(squirrel.Eq{"owner_id": owner})
}

// headerQuery selects one document; forUpdate adds a row lock.
func (r *BaseDocumentRepo[T]) headerQuery(owner, docID id.ID, forUpdate bool) squirrel.SelectBuilder {
	q := r.baseSelect(owner).Where(squirrel.Eq{"id": docID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	return q
}

// getHeader loads the header row of a document.
func (r *BaseDocumentRepo[T]) getHeader(ctx context.Context, owner, docID id.ID, forUpdate bool) (T, error) {
	entity := r.newFn()

	sql, args, err := r.headerQuery(owner, docID, forUpdate).ToSql()
	if err != nil {
		return entity, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.querier(ctx), entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entity, apperror.NewNotFound(r.tableName, docID)
		}
		return entity, fmt.Errorf("get %s: %w", r.tableName, err)
	}
	return entity, nil
}

// insertHeader inserts the header columns of entity.
func (r *BaseDocumentRepo[T]) insertHeader(ctx context.Context, entity T) error {
	data := postgres.StructToMap(entity)
	if len(data) == 0 {
		return fmt.Errorf("no db tags found in entity")
	}
	filtered := make(map[string]any, len(r.selectCols))
	for _, col := range r.selectCols {
		if val, ok := data[col]; ok {
			filtered[col] = val
		}
	}

	sql, args, err := r.Builder().Insert(r.tableName).SetMap(filtered).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert %s: %w", r.tableName, err), r.tableName)
	}
	return nil
}

// execUpdate runs an UPDATE that must hit exactly one owned row.
func (r *BaseDocumentRepo[T]) execUpdate(ctx context.Context, q squirrel.UpdateBuilder, docID id.ID) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(fmt.Errorf("update %s: %w", r.tableName, err), r.tableName)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(r.tableName, docID)
	}
	return nil
}

// Delete removes a document; lines go with it (ON DELETE CASCADE).
func (r *BaseDocumentRepo[T]) Delete(ctx context.Context, owner, docID id.ID) error {
	sql, args, err := r.deleteQuery(owner, docID).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.tableName, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(r.tableName, docID)
	}
	return nil
}

func (r *BaseDocumentRepo[T]) deleteQuery(owner, docID id.ID) squirrel.DeleteBuilder {
	return r.Builder().
		Delete(r.tableName).
		Where(squirrel.Eq{"owner_id": owner}).
		Where(squirrel.Eq{"id": docID})
}

// selectLines scans the lines of one document ordered by line_no.
func selectLines[L any](ctx context.Context, q postgres.Querier, table, fk string, columns []string, docID id.ID) ([]L, error) {
	sql, args, err := linesQuery(table, fk, columns, docID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var lines []L
	if err := pgxscan.Select(ctx, q, &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	return lines, nil
}

func linesQuery(table, fk string, columns []string, docID id.ID) squirrel.SelectBuilder {
	return postgres.Builder().
		Select(columns...).
		From(table).
		Where(squirrel.Eq{fk: docID}).
		OrderBy("line_no")
}
