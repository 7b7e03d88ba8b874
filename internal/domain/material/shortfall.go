package material

import (
	"github.com/shopspring/decimal"

	"larder/internal/core/id"
)

// Shortfall is the deficit between required and available stock of one
// raw material, in the material's unit. It is reported as data, not thrown.
type Shortfall struct {
	RawMaterialID id.ID           `json:"rawMaterialId"`
	Name          string          `json:"name"`
	Required      decimal.Decimal `json:"required"`
	Available     decimal.Decimal `json:"available"`
	Unit          string          `json:"unit"`
}

// Missing is Required minus Available.
func (s Shortfall) Missing() decimal.Decimal {
	return s.Required.Sub(s.Available)
}
