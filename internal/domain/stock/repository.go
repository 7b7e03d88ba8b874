// Package stock provides the stock movement register: an append-only trail
// of every quantity change applied to raw materials.
package stock

import (
	"context"
	"time"

	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/internal/core/types"
)

// Repository defines operations for the stock register.
type Repository interface {
	// CreateMovements batch inserts movements.
	CreateMovements(ctx context.Context, movements []entity.StockMovement) error

	// GetMovementsByRecorder retrieves all movements of a purchase or order.
	GetMovementsByRecorder(ctx context.Context, owner, recorderID id.ID) ([]entity.StockMovement, error)

	// GetMovementHistory returns movement history for a raw material, newest first.
	GetMovementHistory(ctx context.Context, owner, rawMaterialID id.ID, filter MovementFilter) ([]entity.StockMovement, error)

	// GetTurnover calculates receipt and expense totals for a period.
	GetTurnover(ctx context.Context, owner id.ID, filter TurnoverFilter) (Turnover, error)
}

// MovementFilter for filtering movement history.
type MovementFilter struct {
	RecordType *entity.RecordType
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
}

// TurnoverFilter for turnover reports.
type TurnoverFilter struct {
	RawMaterialID *id.ID
	FromDate      time.Time
	ToDate        time.Time
}

// Turnover represents receipt/expense totals.
type Turnover struct {
	RawMaterialID id.ID          `json:"rawMaterialId,omitempty"`
	Receipt       types.Quantity `json:"receipt"`
	Expense       types.Quantity `json:"expense"`
}

// Net is receipt minus expense.
func (t Turnover) Net() types.Quantity {
	return t.Receipt.Sub(t.Expense)
}
