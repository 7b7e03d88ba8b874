// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"github.com/shopspring/decimal"

	"larder/internal/core/id"
)

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse never returns a null items array.
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// ConvertResponse is the result of a unit conversion.
type ConvertResponse struct {
	Value decimal.Decimal `json:"value"`
	From  string          `json:"from"`
	To    string          `json:"to"`
}
