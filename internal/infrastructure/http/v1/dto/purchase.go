package dto

import (
	"larder/internal/core/apperror"
	"larder/internal/domain/purchase"
)

// CreatePurchaseRequest accepts line items in canonical or legacy shape.
type CreatePurchaseRequest struct {
	Supplier string           `json:"supplier"`
	Lines    []map[string]any `json:"lines" binding:"required,min=1"`
}

// NormalizeRequest carries raw line items to translate.
type NormalizeRequest struct {
	Lines []map[string]any `json:"lines" binding:"required"`
}

// TransitionRequest asks for a purchase status change.
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// ToLines translates the request lines to the canonical shape.
func (r *CreatePurchaseRequest) ToLines() ([]purchase.LineItem, error) {
	lines, err := purchase.NormalizeLegacyLines(r.Lines)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperror.NewValidation("at least one line is required")
	}
	return lines, nil
}
