// Package catalog_repo provides PostgreSQL implementations for the raw
// material catalog and recipes. Every statement is scoped by owner_id.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/infrastructure/storage/postgres"
)

// BaseOwnedRepo provides common read/insert operations for owner-scoped
// tables. Embed this in specific repositories.
type BaseOwnedRepo[T any] struct {
	txm        *postgres.TxManager
	tableName  string
	selectCols []string
	newFn      func() T
}

// NewBaseOwnedRepo creates a new base repository.
func NewBaseOwnedRepo[T any](
	txm *postgres.TxManager,
	tableName string,
	selectCols []string,
	newFn func() T,
) *BaseOwnedRepo[T] {
	return &BaseOwnedRepo[T]{
		txm:        txm,
		tableName:  tableName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *BaseOwnedRepo[T]) Builder() squirrel.StatementBuilderType {
	return postgres.Builder()
}

func (r *BaseOwnedRepo[T]) querier(ctx context.Context) postgres.Querier {
	return r.txm.GetQuerier(ctx)
}

// baseSelect creates a SELECT builder filtered by owner.
func (r *BaseOwnedRepo[T]) baseSelect(owner id.ID) squirrel.SelectBuilder {
	return r.Builder().
		Select(r.selectCols...).
		From(r.tableName).
		Where(squirrel.Eq{"owner_id": owner})
}

// insertQuery builds an INSERT of entity's "db" columns.
func (r *BaseOwnedRepo[T]) insertQuery(entity T) (squirrel.InsertBuilder, error) {
	data := postgres.StructToMap(entity)
	if len(data) == 0 {
		return squirrel.InsertBuilder{}, fmt.Errorf("no db tags found in entity")
	}

	filtered := make(map[string]any, len(r.selectCols))
	for _, col := range r.selectCols {
		if val, ok := data[col]; ok {
			filtered[col] = val
		}
	}
	return r.Builder().Insert(r.tableName).SetMap(filtered), nil
}

// get runs q and scans a single row. NotFound carries entityID.
func (r *BaseOwnedRepo[T]) get(ctx context.Context, q squirrel.SelectBuilder, entityID any) (T, error) {
	entity := r.newFn()

	sql, args, err := q.Limit(1).ToSql()
	if err != nil {
		return entity, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.querier(ctx), entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entity, apperror.NewNotFound(r.tableName, entityID)
		}
		return entity, fmt.Errorf("get %s: %w", r.tableName, err)
	}
	return entity, nil
}

// selectAll runs q and scans every row.
func (r *BaseOwnedRepo[T]) selectAll(ctx context.Context, q squirrel.SelectBuilder) ([]T, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []T
	if err := pgxscan.Select(ctx, r.querier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", r.tableName, err)
	}
	return items, nil
}

// getByID retrieves an owned row by ID.
func (r *BaseOwnedRepo[T]) getByID(ctx context.Context, owner, entityID id.ID) (T, error) {
	return r.get(ctx, r.baseSelect(owner).Where(squirrel.Eq{"id": entityID}), entityID)
}
