package material

import (
	"context"

	"larder/internal/core/id"
)

// Repository defines data access for raw materials.
// Every method is scoped to one owner.
type Repository interface {
	// GetByID returns apperror NotFound when the row does not exist.
	GetByID(ctx context.Context, owner, rawMaterialID id.ID) (*RawMaterial, error)

	// GetByIDs returns the rows that exist; missing ids are absent from the map.
	GetByIDs(ctx context.Context, owner id.ID, ids []id.ID) (map[id.ID]*RawMaterial, error)

	// List returns the owner's whole catalog ordered by name.
	List(ctx context.Context, owner id.ID) ([]*RawMaterial, error)

	// FindByKey looks up the row with the given uniqueness key
	// (name, unit, primary supplier). NotFound when absent.
	FindByKey(ctx context.Context, owner id.ID, name, unit, supplier string) (*RawMaterial, error)

	// InsertIfAbsent inserts m unless a row with the same uniqueness key exists.
	// Returns the row that is stored and whether it is m.
	InsertIfAbsent(ctx context.Context, m *RawMaterial) (*RawMaterial, bool, error)

	// LockForUpdate loads rows with a row lock held until the surrounding
	// transaction ends. Locks are taken in ascending id order.
	LockForUpdate(ctx context.Context, owner id.ID, ids []id.ID) (map[id.ID]*RawMaterial, error)

	// UpdateStock persists quantity, cost, price and supplier columns.
	UpdateStock(ctx context.Context, m *RawMaterial) error
}
