package catalog_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/domain/material"
	"larder/internal/domain/units"
	"larder/internal/infrastructure/storage/postgres"
)

const rawMaterialsTable = "raw_materials"

// identityConflict is the conflict target matching raw_materials_identity_uq.
const identityConflict = "ON CONFLICT (owner_id, name_key, unit, supplier_key) DO NOTHING RETURNING id"

var rawMaterialColumns = postgres.ExtractDBColumns[material.RawMaterial]()

var _ material.Repository = (*MaterialRepo)(nil)

// MaterialRepo implements material.Repository.
type MaterialRepo struct {
	*BaseOwnedRepo[*material.RawMaterial]
}

// NewMaterialRepo creates a new raw material repository.
func NewMaterialRepo(txm *postgres.TxManager) *MaterialRepo {
	return &MaterialRepo{
		BaseOwnedRepo: NewBaseOwnedRepo(txm, rawMaterialsTable, rawMaterialColumns,
			func() *material.RawMaterial { return &material.RawMaterial{} }),
	}
}

// GetByID implements material.Repository.
func (r *MaterialRepo) GetByID(ctx context.Context, owner, rawMaterialID id.ID) (*material.RawMaterial, error) {
	return r.getByID(ctx, owner, rawMaterialID)
}

// GetByIDs implements material.Repository.
func (r *MaterialRepo) GetByIDs(ctx context.Context, owner id.ID, ids []id.ID) (map[id.ID]*material.RawMaterial, error) {
	if len(ids) == 0 {
		return map[id.ID]*material.RawMaterial{}, nil
	}
	items, err := r.selectAll(ctx, r.byIDsQuery(owner, id.SortedUnique(ids)))
	if err != nil {
		return nil, err
	}
	return index(items), nil
}

// List implements material.Repository.
func (r *MaterialRepo) List(ctx context.Context, owner id.ID) ([]*material.RawMaterial, error) {
	return r.selectAll(ctx, r.listQuery(owner))
}

// FindByKey implements material.Repository.
func (r *MaterialRepo) FindByKey(ctx context.Context, owner id.ID, name, unit, supplier string) (*material.RawMaterial, error) {
	return r.get(ctx, r.findByKeyQuery(owner, name, unit, supplier), name)
}

// InsertIfAbsent implements material.Repository. The unique index on the
// normalized identity settles concurrent inserts; the loser re-reads the
// winner's row.
func (r *MaterialRepo) InsertIfAbsent(ctx context.Context, m *material.RawMaterial) (*material.RawMaterial, bool, error) {
	if m.Suppliers == nil {
		m.Suppliers = []string{}
	}
	q, err := r.insertQuery(m)
	if err != nil {
		return nil, false, err
	}
	sql, args, err := q.Suffix(identityConflict).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build insert: %w", err)
	}

	var insertedID id.ID
	err = r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&insertedID)
	switch {
	case err == nil:
		return m, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		existing, ferr := r.FindByKey(ctx, m.OwnerID, m.Name, m.Unit, m.PrimarySupplier())
		if ferr != nil {
			return nil, false, fmt.Errorf("reselect conflicting raw material: %w", ferr)
		}
		return existing, false, nil
	default:
		return nil, false, postgres.MapError(fmt.Errorf("insert raw material: %w", err), rawMaterialsTable)
	}
}

// LockForUpdate implements material.Repository.
func (r *MaterialRepo) LockForUpdate(ctx context.Context, owner id.ID, ids []id.ID) (map[id.ID]*material.RawMaterial, error) {
	if len(ids) == 0 {
		return map[id.ID]*material.RawMaterial{}, nil
	}
	items, err := r.selectAll(ctx, r.lockQuery(owner, ids))
	if err != nil {
		return nil, err
	}
	return index(items), nil
}

// UpdateStock implements material.Repository.
func (r *MaterialRepo) UpdateStock(ctx context.Context, m *material.RawMaterial) error {
	if m.Quantity.IsNegative() {
		return apperror.NewBusinessRule(apperror.CodeInsufficientStock, "quantity cannot be negative").
			WithDetail("raw_material_id", m.ID)
	}

	sql, args, err := r.updateStockQuery(m).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(fmt.Errorf("update raw material stock: %w", err), rawMaterialsTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(rawMaterialsTable, m.ID)
	}
	return nil
}

func (r *MaterialRepo) byIDsQuery(owner id.ID, ids []id.ID) squirrel.SelectBuilder {
	return r.baseSelect(owner).Where(squirrel.Eq{"id": ids})
}

func (r *MaterialRepo) listQuery(owner id.ID) squirrel.SelectBuilder {
	return r.baseSelect(owner).OrderBy("name_key", "id")
}

func (r *MaterialRepo) findByKeyQuery(owner id.ID, name, unit, supplier string) squirrel.SelectBuilder {
	return r.baseSelect(owner).Where(squirrel.Eq{
		"name_key":     material.NameKey(name),
		"unit":         units.Key(unit),
		"supplier_key": material.SupplierKey(supplier),
	})
}

// lockQuery locks rows in ascending id order so overlapping transactions
// queue instead of deadlocking.
func (r *MaterialRepo) lockQuery(owner id.ID, ids []id.ID) squirrel.SelectBuilder {
	return r.byIDsQuery(owner, id.SortedUnique(ids)).
		OrderBy("id").
		Suffix("FOR UPDATE")
}

func (r *MaterialRepo) updateStockQuery(m *material.RawMaterial) squirrel.UpdateBuilder {
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.Builder().
		Update(rawMaterialsTable).
		Set("quantity", m.Quantity).
		Set("wac", m.WAC).
		Set("last_unit_price", m.LastUnitPrice).
		Set("suppliers", nonNil(m.Suppliers)).
		Set("updated_at", updatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"owner_id": m.OwnerID}).
		Where(squirrel.Eq{"id": m.ID})
}

func index(items []*material.RawMaterial) map[id.ID]*material.RawMaterial {
	out := make(map[id.ID]*material.RawMaterial, len(items))
	for _, m := range items {
		out[m.ID] = m
	}
	return out
}

// nonNil keeps an empty supplier list from being written as NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
