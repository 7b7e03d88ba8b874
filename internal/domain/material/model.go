// Package material provides the RawMaterial model (warehouse item) and the
// Item Resolver that maps purchase line items onto it.
package material

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/internal/core/types"
	"larder/internal/domain/units"
)

// RawMaterial is a stocked input consumed by recipes.
// Quantity and WAC are mutated only through ApplyReceipt, ReverseReceipt,
// Deduct and Restore.
type RawMaterial struct {
	entity.OwnedEntity

	Name string `db:"name" json:"name"`

	// Unit is the material's own unit; stock, WAC and prices are per this unit.
	Unit string `db:"unit" json:"unit"`

	Quantity      types.Quantity `db:"quantity" json:"quantity"`
	WAC           types.Money    `db:"wac" json:"wac"`
	LastUnitPrice types.Money    `db:"last_unit_price" json:"lastUnitPrice"`

	// Suppliers in the order they were first seen; Suppliers[0] is part of the
	// uniqueness key.
	Suppliers []string `db:"suppliers" json:"suppliers"`
}

// NewRawMaterial creates an empty stock row valued at initialCost.
func NewRawMaterial(owner id.ID, name, unit string, initialCost decimal.Decimal, supplier string) *RawMaterial {
	m := &RawMaterial{
		OwnedEntity:   entity.NewOwnedEntity(owner),
		Name:          strings.TrimSpace(name),
		Unit:          units.Key(unit),
		Quantity:      decimal.Zero,
		WAC:           initialCost,
		LastUnitPrice: initialCost,
	}
	m.MergeSupplier(supplier)
	return m
}

// Validate implements entity.Validatable interface.
func (m *RawMaterial) Validate(ctx context.Context) error {
	if err := m.ValidateOwner(); err != nil {
		return err
	}
	if m.Name == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}
	if m.Unit == "" {
		return apperror.NewValidation("unit is required").
			WithDetail("field", "unit")
	}
	if m.Quantity.IsNegative() {
		return apperror.NewValidation("quantity cannot be negative").
			WithDetail("field", "quantity").
			WithDetail("value", m.Quantity.String())
	}
	return nil
}

// ApplyReceipt adds qty received at unitPrice and recomputes the weighted
// average cost. This is the only place quantity and cost change together.
// Non-positive quantities leave the row untouched.
func (m *RawMaterial) ApplyReceipt(qty, unitPrice decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	newQty := m.Quantity.Add(qty)
	if newQty.IsPositive() {
		value := m.Quantity.Mul(m.WAC).Add(qty.Mul(unitPrice))
		m.WAC = types.RoundCost(value.Div(newQty))
	}
	m.Quantity = types.RoundQuantity(newQty)
	m.LastUnitPrice = types.RoundCost(unitPrice)
}

// ReverseReceipt takes back qty of a previously applied receipt.
// WAC is not rolled back.
func (m *RawMaterial) ReverseReceipt(qty decimal.Decimal) error {
	return m.Deduct(qty)
}

// Deduct removes qty from stock. The on-hand quantity never goes negative.
func (m *RawMaterial) Deduct(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return nil
	}
	if qty.GreaterThan(m.Quantity) {
		return apperror.NewInsufficientStock(m.ID.String(), qty.String(), m.Quantity.String()).
			WithDetail("unit", m.Unit).
			WithDetail("name", m.Name)
	}
	m.Quantity = types.RoundQuantity(m.Quantity.Sub(qty))
	return nil
}

// Restore adds qty back to stock at the current WAC.
func (m *RawMaterial) Restore(qty decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	m.Quantity = types.RoundQuantity(m.Quantity.Add(qty))
}

// HasSupplier reports whether supplier is already recorded (trimmed, case-insensitive).
func (m *RawMaterial) HasSupplier(supplier string) bool {
	key := SupplierKey(supplier)
	for _, s := range m.Suppliers {
		if SupplierKey(s) == key {
			return true
		}
	}
	return false
}

// MergeSupplier appends supplier if not recorded yet. Reports whether it changed.
func (m *RawMaterial) MergeSupplier(supplier string) bool {
	supplier = strings.TrimSpace(supplier)
	if supplier == "" || m.HasSupplier(supplier) {
		return false
	}
	m.Suppliers = append(m.Suppliers, supplier)
	return true
}

// PrimarySupplier returns the first recorded supplier or "".
func (m *RawMaterial) PrimarySupplier() string {
	if len(m.Suppliers) == 0 {
		return ""
	}
	return m.Suppliers[0]
}

// StockValue is quantity valued at WAC.
func (m *RawMaterial) StockValue() decimal.Decimal {
	return m.Quantity.Mul(m.WAC)
}

// --- Matching keys ---

// NameKey normalizes a name for matching.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SupplierKey normalizes a supplier name for matching.
func SupplierKey(supplier string) string {
	return strings.ToLower(strings.TrimSpace(supplier))
}

// Matches reports a name+unit match, and supplier too when supplier is non-empty.
func (m *RawMaterial) Matches(name, unit, supplier string) bool {
	if NameKey(m.Name) != NameKey(name) || units.Key(m.Unit) != units.Key(unit) {
		return false
	}
	if SupplierKey(supplier) == "" {
		return true
	}
	return m.HasSupplier(supplier)
}
