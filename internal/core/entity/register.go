package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"larder/internal/core/id"
	"larder/internal/core/types"
)

// RecordType defines movement direction for the stock register.
type RecordType string

const (
	// RecordTypeReceipt increases on-hand quantity
	RecordTypeReceipt RecordType = "receipt"
	// RecordTypeExpense decreases on-hand quantity
	RecordTypeExpense RecordType = "expense"
)

// Recorder types: the lifecycle event that produced a movement.
const (
	RecorderPurchase         = "purchase"
	RecorderPurchaseReversal = "purchase_reversal"
	RecorderOrder            = "order"
	RecorderOrderReversal    = "order_reversal"
)

// MovementBase contains common fields for all register movements.
// Movements are immutable and append-only.
type MovementBase struct {
	// LineID is unique identifier for this movement line (UUIDv7)
	LineID id.ID `db:"line_id" json:"lineId"`

	// RecorderID is the purchase or order that created this movement
	RecorderID id.ID `db:"recorder_id" json:"recorderId"`

	// RecorderType is one of the Recorder* constants
	RecorderType string `db:"recorder_type" json:"recorderType"`

	// Period is the business date for the movement
	Period time.Time `db:"period" json:"period"`

	RecordType RecordType `db:"record_type" json:"recordType"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewMovementBase creates a new movement base with generated LineID.
func NewMovementBase(recorderID id.ID, recorderType string, period time.Time, recordType RecordType) MovementBase {
	return MovementBase{
		LineID:       id.New(),
		RecorderID:   recorderID,
		RecorderType: recorderType,
		Period:       period,
		RecordType:   recordType,
		CreatedAt:    time.Now().UTC(),
	}
}

// StockMovement is one quantity change of one raw material.
type StockMovement struct {
	MovementBase

	// Dimensions
	OwnerID       id.ID `db:"owner_id" json:"ownerId"`
	RawMaterialID id.ID `db:"raw_material_id" json:"rawMaterialId"`

	// Resources, in the raw material's own unit
	Quantity types.Quantity `db:"quantity" json:"quantity"`
	UnitCost types.Money    `db:"unit_cost" json:"unitCost"`
}

// NewStockMovement creates a new stock movement.
func NewStockMovement(
	recorderID id.ID,
	recorderType string,
	recordType RecordType,
	owner, rawMaterialID id.ID,
	quantity types.Quantity,
	unitCost types.Money,
) StockMovement {
	return StockMovement{
		MovementBase:  NewMovementBase(recorderID, recorderType, time.Now().UTC(), recordType),
		OwnerID:       owner,
		RawMaterialID: rawMaterialID,
		Quantity:      quantity,
		UnitCost:      unitCost,
	}
}

// SignedQuantity returns quantity with sign based on record type.
// Receipt = positive, Expense = negative.
func (m *StockMovement) SignedQuantity() types.Quantity {
	if m.RecordType == RecordTypeExpense {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// NetQuantity sums signed quantities over movements.
func NetQuantity(movements []StockMovement) types.Quantity {
	total := decimal.Zero
	for i := range movements {
		total = total.Add(movements[i].SignedQuantity())
	}
	return total
}
