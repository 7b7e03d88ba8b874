package dto

import (
	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/domain/order"
)

// OrderLineRequest is one ordered product.
type OrderLineRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// CreateOrderRequest creates a pending order.
type CreateOrderRequest struct {
	Lines []OrderLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// ToLines parses product ids.
func (r *CreateOrderRequest) ToLines() ([]order.Line, error) {
	lines := make([]order.Line, 0, len(r.Lines))
	for i, l := range r.Lines {
		pid, err := id.Parse(l.ProductID)
		if err != nil {
			return nil, apperror.NewValidation("invalid product id").
				WithDetail("line_no", i+1).
				WithDetail("value", l.ProductID)
		}
		lines = append(lines, order.Line{ProductID: pid, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return lines, nil
}

// SetOrderStatusRequest moves an order between non-completion states.
type SetOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// IngredientRequest is one recipe ingredient.
type IngredientRequest struct {
	RawMaterialID string          `json:"rawMaterialId" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
}

// RecipeRequest replaces a product's recipe.
type RecipeRequest struct {
	Name        string              `json:"name"`
	Ingredients []IngredientRequest `json:"ingredients" binding:"required,min=1,dive"`
}

// ToIngredients parses raw material ids.
func (r *RecipeRequest) ToIngredients() ([]order.Ingredient, error) {
	out := make([]order.Ingredient, 0, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		rid, err := id.Parse(ing.RawMaterialID)
		if err != nil {
			return nil, apperror.NewValidation("invalid raw material id").
				WithDetail("index", i).
				WithDetail("value", ing.RawMaterialID)
		}
		out = append(out, order.Ingredient{RawMaterialID: rid, Quantity: ing.Quantity, Unit: ing.Unit})
	}
	return out, nil
}
