package purchase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/internal/core/types"
	"larder/internal/domain/material"
	"larder/internal/domain/units"
)

// StockRegister records movements and reports what a recorder has moved.
// Implemented by stock.Service.
type StockRegister interface {
	RecordMovements(ctx context.Context, movements []entity.StockMovement) error
	NetByRecorder(ctx context.Context, owner, recorderID id.ID) (map[id.ID]decimal.Decimal, error)
}

// AppliedLine describes what one line did to its raw material.
// Quantity and UnitPrice are in the material's unit.
type AppliedLine struct {
	LineNo        int             `json:"lineNo"`
	RawMaterialID id.ID           `json:"rawMaterialId"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Unit          string          `json:"unit"`
	NewQuantity   decimal.Decimal `json:"newQuantity"`
	NewWAC        decimal.Decimal `json:"newWac"`
	SupplierOnly  bool            `json:"supplierOnly,omitempty"`
}

// ApplyReport is the outcome of ApplyPurchaseToWarehouse.
type ApplyReport struct {
	PurchaseID id.ID         `json:"purchaseId"`
	Lines      []AppliedLine `json:"lines"`
}

// ReverseReport is the outcome of ReversePurchaseFromWarehouse.
type ReverseReport struct {
	PurchaseID id.ID                     `json:"purchaseId"`
	Restored   map[id.ID]decimal.Decimal `json:"restored"`
	Shortfalls []material.Shortfall      `json:"shortfalls,omitempty"`
}

// CostingEngine applies received purchases to raw-material stock.
//
// It does not deduplicate: calling it twice for one purchase applies it
// twice. The lifecycle gate in Service is what prevents that.
type CostingEngine struct {
	materials material.Repository
	register  StockRegister
}

// NewCostingEngine creates a new costing engine.
func NewCostingEngine(materials material.Repository, register StockRegister) *CostingEngine {
	return &CostingEngine{
		materials: materials,
		register:  register,
	}
}

type plannedLine struct {
	line     *LineItem
	material *material.RawMaterial
	qty      decimal.Decimal // in material unit
	price    decimal.Decimal // per material unit
}

// ApplyPurchaseToWarehouse adds every line's quantity to its raw material,
// recomputes WAC, records last unit price and merges the supplier.
//
// Must run inside the caller's transaction. Rows are locked in ascending id
// order. Every line is validated before any row is changed, so a missing
// row or an unconvertible unit aborts the whole application.
func (e *CostingEngine) ApplyPurchaseToWarehouse(ctx context.Context, p *Purchase) (ApplyReport, error) {
	report := ApplyReport{PurchaseID: p.ID}

	ids := make([]id.ID, 0, len(p.Lines))
	for i := range p.Lines {
		l := &p.Lines[i]
		if !l.Resolved() {
			return report, apperror.NewInconsistentStockRow(nil, l.LineNo).
				WithDetail("purchase_id", p.ID)
		}
		ids = append(ids, *l.RawMaterialID)
	}

	rows, err := e.materials.LockForUpdate(ctx, p.OwnerID, id.SortedUnique(ids))
	if err != nil {
		return report, fmt.Errorf("lock raw materials: %w", err)
	}

	plan := make([]plannedLine, 0, len(p.Lines))
	for i := range p.Lines {
		l := &p.Lines[i]
		m, ok := rows[*l.RawMaterialID]
		if !ok {
			return report, apperror.NewInconsistentStockRow(*l.RawMaterialID, l.LineNo).
				WithDetail("purchase_id", p.ID)
		}

		pl := plannedLine{line: l, material: m}
		if l.Quantity.IsPositive() {
			qty, err := toMaterialUnit(l.Quantity, l.Unit, m.Unit)
			if err != nil {
				if appErr, ok := apperror.AsAppError(err); ok {
					return report, appErr.WithDetail("line_no", l.LineNo)
				}
				return report, err
			}
			if !qty.IsPositive() {
				return report, apperror.NewValidation("line quantity rounds to zero in material unit").
					WithDetail("line_no", l.LineNo)
			}
			pl.qty = qty
			// Price per material unit keeps the line value unchanged.
			pl.price = l.Value().Div(qty)
		}
		plan = append(plan, pl)
	}

	touched := make(map[id.ID]*material.RawMaterial, len(rows))
	movements := make([]entity.StockMovement, 0, len(plan))
	for _, pl := range plan {
		m := pl.material
		if m.MergeSupplier(p.Supplier) {
			touched[m.ID] = m
		}

		applied := AppliedLine{
			LineNo:        pl.line.LineNo,
			RawMaterialID: m.ID,
			Unit:          m.Unit,
		}
		if pl.qty.IsPositive() {
			m.ApplyReceipt(pl.qty, pl.price)
			touched[m.ID] = m
			applied.Quantity = pl.qty
			applied.UnitPrice = types.RoundCost(pl.price)
			movements = append(movements, entity.NewStockMovement(
				p.ID, entity.RecorderPurchase, entity.RecordTypeReceipt,
				p.OwnerID, m.ID, pl.qty, types.RoundCost(pl.price),
			))
		} else {
			applied.SupplierOnly = true
		}
		applied.NewQuantity = m.Quantity
		applied.NewWAC = m.WAC
		report.Lines = append(report.Lines, applied)
	}

	for _, rid := range id.SortedUnique(keys(touched)) {
		m := touched[rid]
		m.Touch()
		if err := e.materials.UpdateStock(ctx, m); err != nil {
			return report, fmt.Errorf("update raw material %s: %w", rid, err)
		}
	}

	if err := e.register.RecordMovements(ctx, movements); err != nil {
		return report, err
	}
	return report, nil
}

// ReversePurchaseFromWarehouse takes back the quantity this purchase added,
// as recorded in the stock register. WAC is left unchanged.
//
// When part of the received stock was already consumed the reversal is
// refused: the report lists shortfalls and the error is INSUFFICIENT_STOCK.
func (e *CostingEngine) ReversePurchaseFromWarehouse(ctx context.Context, p *Purchase) (ReverseReport, error) {
	report := ReverseReport{PurchaseID: p.ID, Restored: map[id.ID]decimal.Decimal{}}

	net, err := e.register.NetByRecorder(ctx, p.OwnerID, p.ID)
	if err != nil {
		return report, fmt.Errorf("load purchase movements: %w", err)
	}

	ids := make([]id.ID, 0, len(net))
	for rid, q := range net {
		if q.IsPositive() {
			ids = append(ids, rid)
		}
	}
	ids = id.SortedUnique(ids)
	if len(ids) == 0 {
		return report, nil
	}

	rows, err := e.materials.LockForUpdate(ctx, p.OwnerID, ids)
	if err != nil {
		return report, fmt.Errorf("lock raw materials: %w", err)
	}

	for _, rid := range ids {
		m, ok := rows[rid]
		if !ok {
			return report, apperror.NewInconsistentStockRow(rid, 0).WithDetail("purchase_id", p.ID)
		}
		if net[rid].GreaterThan(m.Quantity) {
			report.Shortfalls = append(report.Shortfalls, material.Shortfall{
				RawMaterialID: rid,
				Name:          m.Name,
				Required:      net[rid],
				Available:     m.Quantity,
				Unit:          m.Unit,
			})
		}
	}
	if len(report.Shortfalls) > 0 {
		return report, apperror.NewBusinessRule(apperror.CodeInsufficientStock,
			"received stock was already consumed; purchase cannot be reversed").
			WithDetail("purchase_id", p.ID).
			WithDetail("shortfalls", report.Shortfalls)
	}

	movements := make([]entity.StockMovement, 0, len(ids))
	for _, rid := range ids {
		m := rows[rid]
		if err := m.ReverseReceipt(net[rid]); err != nil {
			return report, err
		}
		m.Touch()
		if err := e.materials.UpdateStock(ctx, m); err != nil {
			return report, fmt.Errorf("update raw material %s: %w", rid, err)
		}
		report.Restored[rid] = net[rid]
		movements = append(movements, entity.NewStockMovement(
			p.ID, entity.RecorderPurchaseReversal, entity.RecordTypeExpense,
			p.OwnerID, rid, net[rid], m.WAC,
		))
	}

	if err := e.register.RecordMovements(ctx, movements); err != nil {
		return report, err
	}
	return report, nil
}

func toMaterialUnit(qty decimal.Decimal, lineUnit, materialUnit string) (decimal.Decimal, error) {
	if units.Key(lineUnit) == units.Key(materialUnit) {
		return qty, nil
	}
	converted, err := units.Convert(qty, lineUnit, materialUnit)
	if err != nil {
		return decimal.Zero, err
	}
	return types.RoundQuantity(converted), nil
}

func keys[V any](m map[id.ID]V) []id.ID {
	out := make([]id.ID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
