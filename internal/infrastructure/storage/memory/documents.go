package memory

import (
	"context"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/domain/order"
	"larder/internal/domain/purchase"
)

// PurchaseRepo implements purchase.Repository.
type PurchaseRepo struct {
	s *Store
}

var _ purchase.Repository = (*PurchaseRepo)(nil)

func (r *PurchaseRepo) GetByID(ctx context.Context, owner, purchaseID id.ID) (*purchase.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.purchases[purchaseID]
	if !ok || p.OwnerID != owner {
		return nil, apperror.NewNotFound("purchase", purchaseID)
	}
	return clonePurchase(p), nil
}

func (r *PurchaseRepo) GetForUpdate(ctx context.Context, owner, purchaseID id.ID) (*purchase.Purchase, error) {
	return r.GetByID(ctx, owner, purchaseID)
}

func (r *PurchaseRepo) Create(ctx context.Context, p *purchase.Purchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Purchases.Create"); err != nil {
		return err
	}
	if _, exists := r.s.purchases[p.ID]; exists {
		return apperror.NewDuplicate("purchase", "id", p.ID.String())
	}
	r.s.purchases[p.ID] = clonePurchase(p)
	return nil
}

func (r *PurchaseRepo) SaveLineRefs(ctx context.Context, p *purchase.Purchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Purchases.SaveLineRefs"); err != nil {
		return err
	}
	stored, ok := r.s.purchases[p.ID]
	if !ok || stored.OwnerID != p.OwnerID {
		return apperror.NewNotFound("purchase", p.ID)
	}
	src := clonePurchase(p)
	for i := range stored.Lines {
		if i < len(src.Lines) {
			stored.Lines[i].RawMaterialID = src.Lines[i].RawMaterialID
		}
	}
	return nil
}

func (r *PurchaseRepo) UpdateStatus(ctx context.Context, p *purchase.Purchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Purchases.UpdateStatus"); err != nil {
		return err
	}
	stored, ok := r.s.purchases[p.ID]
	if !ok || stored.OwnerID != p.OwnerID {
		return apperror.NewNotFound("purchase", p.ID)
	}
	c := clonePurchase(stored)
	c.Status = p.Status
	c.AppliedAt = clonePurchase(p).AppliedAt
	c.Version = stored.Version + 1
	c.UpdatedAt = p.UpdatedAt
	r.s.purchases[p.ID] = c
	return nil
}

func (r *PurchaseRepo) Delete(ctx context.Context, owner, purchaseID id.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.purchases[purchaseID]
	if !ok || p.OwnerID != owner {
		return apperror.NewNotFound("purchase", purchaseID)
	}
	delete(r.s.purchases, purchaseID)
	return nil
}

// OrderRepo implements order.Repository.
type OrderRepo struct {
	s *Store
}

var _ order.Repository = (*OrderRepo)(nil)

func (r *OrderRepo) GetByID(ctx context.Context, owner, orderID id.ID) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[orderID]
	if !ok || o.OwnerID != owner {
		return nil, apperror.NewNotFound("order", orderID)
	}
	return cloneOrder(o), nil
}

func (r *OrderRepo) GetForUpdate(ctx context.Context, owner, orderID id.ID) (*order.Order, error) {
	return r.GetByID(ctx, owner, orderID)
}

func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[o.ID]; exists {
		return apperror.NewDuplicate("order", "id", o.ID.String())
	}
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *OrderRepo) UpdateStatus(ctx context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Orders.UpdateStatus"); err != nil {
		return err
	}
	stored, ok := r.s.orders[o.ID]
	if !ok || stored.OwnerID != o.OwnerID {
		return apperror.NewNotFound("order", o.ID)
	}
	src := cloneOrder(o)
	c := cloneOrder(stored)
	c.Status = src.Status
	c.StatusBeforeCompletion = src.StatusBeforeCompletion
	c.CompletedAt = src.CompletedAt
	c.Version = stored.Version + 1
	c.UpdatedAt = o.UpdatedAt
	r.s.orders[o.ID] = c
	return nil
}

// RecipeRepo implements order.RecipeRepository.
type RecipeRepo struct {
	s *Store
}

var _ order.RecipeRepository = (*RecipeRepo)(nil)

// Save stores a recipe, replacing any other recipe of the same product.
func (r *RecipeRepo) Save(ctx context.Context, rec *order.Recipe) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for rid, existing := range r.s.recipes {
		if existing.OwnerID == rec.OwnerID && existing.ProductID == rec.ProductID {
			delete(r.s.recipes, rid)
		}
	}
	r.s.recipes[rec.ID] = cloneRecipe(rec)
	return nil
}

func (r *RecipeRepo) RecipeForProduct(ctx context.Context, owner, productID id.ID) (*order.Recipe, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, rec := range r.s.recipes {
		if rec.OwnerID == owner && rec.ProductID == productID {
			return cloneRecipe(rec), nil
		}
	}
	return nil, apperror.NewNotFound("recipe", productID)
}
