// Package order deducts recipe-derived raw-material quantities when a
// customer order is completed, and restores them when completion is undone.
package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/core/id"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", apperror.NewValidation("invalid order status").WithDetail("value", s)
}

// Line is one ordered product.
type Line struct {
	LineNo    int             `db:"line_no" json:"lineNo"`
	ProductID id.ID           `db:"product_id" json:"productId"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unitPrice"`
}

// Order is a customer order.
type Order struct {
	entity.OwnedEntity

	Status Status `db:"status" json:"status"`

	// StatusBeforeCompletion is what ReverseCompletion restores.
	StatusBeforeCompletion *Status `db:"status_before_completion" json:"statusBeforeCompletion,omitempty"`

	TotalValue  decimal.Decimal `db:"total_value" json:"totalValue"`
	CompletedAt *time.Time      `db:"completed_at" json:"completedAt,omitempty"`

	Lines []Line `db:"-" json:"lines"`
}

// NewOrder creates a pending order and computes its total.
func NewOrder(owner id.ID, lines []Line) *Order {
	o := &Order{
		OwnedEntity: entity.NewOwnedEntity(owner),
		Status:      StatusPending,
		Lines:       lines,
	}
	total := decimal.Zero
	for i := range o.Lines {
		o.Lines[i].LineNo = i + 1
		total = total.Add(o.Lines[i].Quantity.Mul(o.Lines[i].UnitPrice))
	}
	o.TotalValue = total
	return o
}

// Validate implements entity.Validatable interface.
func (o *Order) Validate(ctx context.Context) error {
	if err := o.ValidateOwner(); err != nil {
		return err
	}
	if _, err := ParseStatus(string(o.Status)); err != nil {
		return err
	}
	for _, l := range o.Lines {
		if id.IsNil(l.ProductID) {
			return apperror.NewValidation("product is required").WithDetail("line_no", l.LineNo)
		}
		if !l.Quantity.IsPositive() {
			return apperror.NewValidation("quantity must be positive").WithDetail("line_no", l.LineNo)
		}
	}
	return nil
}

// Repository defines data access for orders.
type Repository interface {
	GetByID(ctx context.Context, owner, orderID id.ID) (*Order, error)

	// GetForUpdate loads the order and locks its header row.
	GetForUpdate(ctx context.Context, owner, orderID id.ID) (*Order, error)

	Create(ctx context.Context, o *Order) error

	// UpdateStatus persists status, status_before_completion, completed_at,
	// version and updated_at.
	UpdateStatus(ctx context.Context, o *Order) error
}

// Ingredient is one raw material of a recipe, per one unit of product.
type Ingredient struct {
	RawMaterialID id.ID           `db:"raw_material_id" json:"rawMaterialId"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	// Unit of Quantity; empty means the raw material's own unit.
	Unit string `db:"unit" json:"unit"`
}

// Recipe is the bill of materials of one product.
type Recipe struct {
	ID          id.ID        `db:"id" json:"id"`
	OwnerID     id.ID        `db:"owner_id" json:"ownerId"`
	ProductID   id.ID        `db:"product_id" json:"productId"`
	Name        string       `db:"name" json:"name"`
	Ingredients []Ingredient `db:"-" json:"ingredients"`
}

// RecipeProvider supplies the recipe of a product. A product without a
// recipe must yield an apperror NotFound.
type RecipeProvider interface {
	RecipeForProduct(ctx context.Context, owner, productID id.ID) (*Recipe, error)
}

// RecipeRepository stores recipes.
type RecipeRepository interface {
	RecipeProvider

	// Save replaces the recipe of rec.ProductID.
	Save(ctx context.Context, rec *Recipe) error
}

// NewRecipe creates a recipe with a generated ID.
func NewRecipe(owner, productID id.ID, name string, ingredients []Ingredient) *Recipe {
	return &Recipe{
		ID:          id.New(),
		OwnerID:     owner,
		ProductID:   productID,
		Name:        strings.TrimSpace(name),
		Ingredients: ingredients,
	}
}

// Validate checks that the recipe is owned, names a product and has
// positive ingredient quantities.
func (r *Recipe) Validate(ctx context.Context) error {
	if id.IsNil(r.OwnerID) {
		return apperror.NewValidation("owner is required").WithDetail("field", "ownerId")
	}
	if id.IsNil(r.ProductID) {
		return apperror.NewValidation("product is required").WithDetail("field", "productId")
	}
	if len(r.Ingredients) == 0 {
		return apperror.NewValidation("recipe needs at least one ingredient")
	}
	seen := make(map[id.ID]bool, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		if id.IsNil(ing.RawMaterialID) {
			return apperror.NewValidation("raw material is required").WithDetail("ingredient", i+1)
		}
		if seen[ing.RawMaterialID] {
			return apperror.NewValidation("raw material listed twice").
				WithDetail("raw_material_id", ing.RawMaterialID.String())
		}
		seen[ing.RawMaterialID] = true
		if !ing.Quantity.IsPositive() {
			return apperror.NewValidation("ingredient quantity must be positive").WithDetail("ingredient", i+1)
		}
	}
	return nil
}

// BookingState reports whether an order currently carries income.
// It lets the financial synchronizer drop queued jobs that are out of date.
type BookingState struct {
	repo Repository
}

// NewBookingState creates a BookingState over repo.
func NewBookingState(repo Repository) *BookingState {
	return &BookingState{repo: repo}
}

// Booked implements finance.SourceState.
func (b *BookingState) Booked(ctx context.Context, owner, orderID id.ID) (bool, error) {
	o, err := b.repo.GetByID(ctx, owner, orderID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return o.Status == StatusCompleted, nil
}
