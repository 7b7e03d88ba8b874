package memory

import (
	"context"
	"slices"
	"strings"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/domain/material"
	"larder/internal/domain/units"
)

// MaterialRepo implements material.Repository.
type MaterialRepo struct {
	s *Store
}

var _ material.Repository = (*MaterialRepo)(nil)

type materialKey struct {
	owner    id.ID
	name     string
	unit     string
	supplier string
}

func keyOf(m *material.RawMaterial) materialKey {
	return materialKey{
		owner:    m.OwnerID,
		name:     material.NameKey(m.Name),
		unit:     units.Key(m.Unit),
		supplier: material.SupplierKey(m.PrimarySupplier()),
	}
}

// Seed stores m as is. Test helper.
func (r *MaterialRepo) Seed(m *material.RawMaterial) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.materials[m.ID] = cloneMaterial(m)
}

// Count returns the number of rows of owner.
func (r *MaterialRepo) Count(owner id.ID) int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, m := range r.s.materials {
		if m.OwnerID == owner {
			n++
		}
	}
	return n
}

func (r *MaterialRepo) GetByID(ctx context.Context, owner, rawMaterialID id.ID) (*material.RawMaterial, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("Materials.GetByID"); err != nil {
		return nil, err
	}
	m, ok := r.s.materials[rawMaterialID]
	if !ok || m.OwnerID != owner {
		return nil, apperror.NewNotFound("raw_material", rawMaterialID)
	}
	return cloneMaterial(m), nil
}

func (r *MaterialRepo) GetByIDs(ctx context.Context, owner id.ID, ids []id.ID) (map[id.ID]*material.RawMaterial, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[id.ID]*material.RawMaterial, len(ids))
	for _, rid := range ids {
		if m, ok := r.s.materials[rid]; ok && m.OwnerID == owner {
			out[rid] = cloneMaterial(m)
		}
	}
	return out, nil
}

func (r *MaterialRepo) List(ctx context.Context, owner id.ID) ([]*material.RawMaterial, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("Materials.List"); err != nil {
		return nil, err
	}
	var out []*material.RawMaterial
	for _, m := range r.s.materials {
		if m.OwnerID == owner {
			out = append(out, cloneMaterial(m))
		}
	}
	sortMaterials(out)
	return out, nil
}

func (r *MaterialRepo) FindByKey(ctx context.Context, owner id.ID, name, unit, supplier string) (*material.RawMaterial, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	want := materialKey{owner: owner, name: material.NameKey(name), unit: units.Key(unit), supplier: material.SupplierKey(supplier)}
	for _, m := range r.s.materials {
		if keyOf(m) == want {
			return cloneMaterial(m), nil
		}
	}
	return nil, apperror.NewNotFound("raw_material", name)
}

func (r *MaterialRepo) InsertIfAbsent(ctx context.Context, m *material.RawMaterial) (*material.RawMaterial, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Materials.InsertIfAbsent"); err != nil {
		return nil, false, err
	}
	want := keyOf(m)
	for _, existing := range r.s.materials {
		if keyOf(existing) == want {
			return cloneMaterial(existing), false, nil
		}
	}
	r.s.materials[m.ID] = cloneMaterial(m)
	return cloneMaterial(m), true, nil
}

// LockForUpdate returns copies; the store-wide transaction lock is what
// serializes writers.
func (r *MaterialRepo) LockForUpdate(ctx context.Context, owner id.ID, ids []id.ID) (map[id.ID]*material.RawMaterial, error) {
	return r.GetByIDs(ctx, owner, ids)
}

func (r *MaterialRepo) UpdateStock(ctx context.Context, m *material.RawMaterial) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Materials.UpdateStock"); err != nil {
		return err
	}
	existing, ok := r.s.materials[m.ID]
	if !ok || existing.OwnerID != m.OwnerID {
		return apperror.NewNotFound("raw_material", m.ID)
	}
	if m.Quantity.IsNegative() {
		return apperror.NewBusinessRule(apperror.CodeInsufficientStock, "quantity cannot be negative").
			WithDetail("raw_material_id", m.ID)
	}
	c := cloneMaterial(m)
	c.Version = existing.Version + 1
	r.s.materials[m.ID] = c
	return nil
}

func sortMaterials(ms []*material.RawMaterial) {
	slices.SortFunc(ms, func(a, b *material.RawMaterial) int {
		if c := strings.Compare(material.NameKey(a.Name), material.NameKey(b.Name)); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
}
