package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/core/event"
	"larder/internal/core/id"
	"larder/internal/core/tx"
	"larder/internal/core/types"
	"larder/internal/domain/material"
	"larder/internal/domain/units"
	"larder/pkg/logger"
)

var tracer = otel.Tracer("larder/order")

// StockRegister records movements. Implemented by stock.Service.
type StockRegister interface {
	RecordMovements(ctx context.Context, movements []entity.StockMovement) error
}

// Requirement is the aggregated need of one raw material, in its own unit.
type Requirement struct {
	RawMaterialID    id.ID           `json:"rawMaterialId"`
	Name             string          `json:"name"`
	TotalRequiredQty decimal.Decimal `json:"totalRequiredQty"`
	Unit             string          `json:"unit"`
}

// Feasibility is the outcome of a sufficiency check.
type Feasibility struct {
	OK         bool                 `json:"ok"`
	Shortfalls []material.Shortfall `json:"shortfalls"`
}

// Completion is the outcome of CompleteAndDeductStock.
type Completion struct {
	Order        *Order        `json:"order"`
	Feasibility  Feasibility   `json:"feasibility"`
	Requirements []Requirement `json:"requirements"`
	// Completed is false when shortfalls prevented the deduction.
	Completed bool `json:"completed"`
}

// Reversal is the outcome of ReverseCompletion.
type Reversal struct {
	Order        *Order        `json:"order"`
	Requirements []Requirement `json:"requirements"`
}

// Engine is the Order Fulfillment Engine.
type Engine struct {
	orders    Repository
	recipes   RecipeProvider
	materials material.Repository
	register  StockRegister
	events    event.Publisher
	txm       tx.Manager
}

// EngineConfig configures the engine.
type EngineConfig struct {
	Orders    Repository
	Recipes   RecipeProvider
	Materials material.Repository
	Register  StockRegister
	Events    event.Publisher // optional
	TxManager tx.Manager
}

// NewEngine creates a new fulfillment engine.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		orders:    cfg.Orders,
		recipes:   cfg.Recipes,
		materials: cfg.Materials,
		register:  cfg.Register,
		events:    cfg.Events,
		txm:       cfg.TxManager,
	}
}

// recipeAmount is one scaled ingredient before unit normalization.
type recipeAmount struct {
	qty  decimal.Decimal
	unit string
}

// scaleRecipes looks up every line's recipe and scales ingredients by the
// ordered quantity. A product without a recipe aborts with MISSING_RECIPE.
func (e *Engine) scaleRecipes(ctx context.Context, o *Order) (map[id.ID][]recipeAmount, []id.ID, error) {
	amounts := make(map[id.ID][]recipeAmount)
	var ids []id.ID
	for _, l := range o.Lines {
		r, err := e.recipes.RecipeForProduct(ctx, o.OwnerID, l.ProductID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return nil, nil, apperror.NewMissingRecipe(l.ProductID).WithDetail("line_no", l.LineNo)
			}
			return nil, nil, fmt.Errorf("load recipe for product %s: %w", l.ProductID, err)
		}
		if r == nil {
			return nil, nil, apperror.NewMissingRecipe(l.ProductID).WithDetail("line_no", l.LineNo)
		}
		for _, ing := range r.Ingredients {
			if _, seen := amounts[ing.RawMaterialID]; !seen {
				ids = append(ids, ing.RawMaterialID)
			}
			amounts[ing.RawMaterialID] = append(amounts[ing.RawMaterialID], recipeAmount{
				qty:  ing.Quantity.Mul(l.Quantity),
				unit: ing.Unit,
			})
		}
	}
	return amounts, id.SortedUnique(ids), nil
}

// aggregate converts scaled amounts into each material's unit and sums them
// into one requirement per material, sorted by material id.
func aggregate(amounts map[id.ID][]recipeAmount, ids []id.ID, rows map[id.ID]*material.RawMaterial) ([]Requirement, error) {
	out := make([]Requirement, 0, len(ids))
	for _, rid := range ids {
		m, ok := rows[rid]
		if !ok {
			return nil, apperror.NewInconsistentStockRow(rid, 0).WithDetail("source", "recipe")
		}
		total := decimal.Zero
		for _, a := range amounts[rid] {
			q := a.qty
			if a.unit != "" && units.Key(a.unit) != units.Key(m.Unit) {
				var err error
				q, err = units.Convert(a.qty, a.unit, m.Unit)
				if err != nil {
					if appErr, ok := apperror.AsAppError(err); ok {
						return nil, appErr.WithDetail("raw_material_id", rid)
					}
					return nil, err
				}
			}
			total = total.Add(q)
		}
		rounded := types.RoundQuantity(total)
		if total.IsPositive() && rounded.IsZero() {
			return nil, belowPrecision(rid, total, m.Unit)
		}
		out = append(out, Requirement{
			RawMaterialID:    rid,
			Name:             m.Name,
			TotalRequiredQty: rounded,
			Unit:             m.Unit,
		})
	}
	return out, nil
}

// check compares requirements with on-hand quantities.
func check(reqs []Requirement, rows map[id.ID]*material.RawMaterial) Feasibility {
	f := Feasibility{OK: true, Shortfalls: []material.Shortfall{}}
	for _, r := range reqs {
		m := rows[r.RawMaterialID]
		if r.TotalRequiredQty.GreaterThan(m.Quantity) {
			f.OK = false
			f.Shortfalls = append(f.Shortfalls, material.Shortfall{
				RawMaterialID: r.RawMaterialID,
				Name:          m.Name,
				Required:      r.TotalRequiredQty,
				Available:     m.Quantity,
				Unit:          m.Unit,
			})
		}
	}
	return f
}

// GetRequiredIngredients returns one aggregated requirement per raw
// material, in the material's unit, sorted by material id.
func (e *Engine) GetRequiredIngredients(ctx context.Context, o *Order) ([]Requirement, error) {
	amounts, ids, err := e.scaleRecipes(ctx, o)
	if err != nil {
		return nil, err
	}
	rows, err := e.materials.GetByIDs(ctx, o.OwnerID, ids)
	if err != nil {
		return nil, fmt.Errorf("load raw materials: %w", err)
	}
	return aggregate(amounts, ids, rows)
}

// Requirements loads an order and returns its requirements.
func (e *Engine) Requirements(ctx context.Context, owner, orderID id.ID) ([]Requirement, error) {
	o, err := e.orders.GetByID(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}
	return e.GetRequiredIngredients(ctx, o)
}

// CanComplete reports whether current stock covers the order. It never
// mutates anything.
func (e *Engine) CanComplete(ctx context.Context, owner, orderID id.ID) (Feasibility, error) {
	o, err := e.orders.GetByID(ctx, owner, orderID)
	if err != nil {
		return Feasibility{}, err
	}
	amounts, ids, err := e.scaleRecipes(ctx, o)
	if err != nil {
		return Feasibility{}, err
	}
	rows, err := e.materials.GetByIDs(ctx, owner, ids)
	if err != nil {
		return Feasibility{}, fmt.Errorf("load raw materials: %w", err)
	}
	reqs, err := aggregate(amounts, ids, rows)
	if err != nil {
		return Feasibility{}, err
	}
	return check(reqs, rows), nil
}

// CompleteAndDeductStock deducts the order's requirements and marks it
// completed, all in one transaction. Only a confirmed order can complete.
//
// Sufficiency is re-checked against locked rows; when short, nothing is
// changed and the shortfalls are returned with Completed=false.
func (e *Engine) CompleteAndDeductStock(ctx context.Context, owner, orderID id.ID) (*Completion, error) {
	ctx, span := tracer.Start(ctx, "order.complete",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	result := &Completion{}
	err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := e.orders.GetForUpdate(ctx, owner, orderID)
		if err != nil {
			return err
		}
		result.Order = o
		if o.Status != StatusConfirmed {
			return apperror.NewInvalidTransition("order", string(o.Status), string(StatusCompleted)).
				WithDetail("order_id", orderID)
		}

		amounts, ids, err := e.scaleRecipes(ctx, o)
		if err != nil {
			return err
		}
		rows, err := e.materials.LockForUpdate(ctx, owner, ids)
		if err != nil {
			return fmt.Errorf("lock raw materials: %w", err)
		}
		reqs, err := aggregate(amounts, ids, rows)
		if err != nil {
			return err
		}
		result.Requirements = reqs
		result.Feasibility = check(reqs, rows)
		if !result.Feasibility.OK {
			return nil
		}

		movements := make([]entity.StockMovement, 0, len(reqs))
		for _, r := range reqs {
			if !r.TotalRequiredQty.IsPositive() {
				continue
			}
			m := rows[r.RawMaterialID]
			if err := m.Deduct(r.TotalRequiredQty); err != nil {
				return err
			}
			m.Touch()
			if err := e.materials.UpdateStock(ctx, m); err != nil {
				return fmt.Errorf("update raw material %s: %w", m.ID, err)
			}
			movements = append(movements, entity.NewStockMovement(
				o.ID, entity.RecorderOrder, entity.RecordTypeExpense,
				owner, m.ID, r.TotalRequiredQty, m.WAC,
			))
		}
		if err := e.register.RecordMovements(ctx, movements); err != nil {
			return err
		}

		prev := o.Status
		now := time.Now().UTC()
		o.StatusBeforeCompletion = &prev
		o.Status = StatusCompleted
		o.CompletedAt = &now
		o.Touch()
		if err := e.orders.UpdateStatus(ctx, o); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if err := e.publish(ctx, o, event.OrderCompleted, reqs); err != nil {
			return err
		}
		result.Completed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Completed {
		logger.Info(ctx, "order completed, stock deducted",
			"order_id", orderID, "materials", len(result.Requirements))
	} else {
		logger.Info(ctx, "order not completed: insufficient stock",
			"order_id", orderID, "shortfalls", len(result.Feasibility.Shortfalls))
	}
	return result, nil
}

// ReverseCompletion puts the order's requirements back into stock and
// restores the status it had before completion. Requirements are recomputed
// from the current recipes. WAC is not restored.
func (e *Engine) ReverseCompletion(ctx context.Context, owner, orderID id.ID) (*Reversal, error) {
	ctx, span := tracer.Start(ctx, "order.reverse",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	result := &Reversal{}
	err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		o, err := e.orders.GetForUpdate(ctx, owner, orderID)
		if err != nil {
			return err
		}
		result.Order = o
		if o.Status != StatusCompleted {
			return apperror.NewInvalidTransition("order", string(o.Status), string(StatusConfirmed)).
				WithDetail("order_id", orderID)
		}

		amounts, ids, err := e.scaleRecipes(ctx, o)
		if err != nil {
			return err
		}
		rows, err := e.materials.LockForUpdate(ctx, owner, ids)
		if err != nil {
			return fmt.Errorf("lock raw materials: %w", err)
		}
		reqs, err := aggregate(amounts, ids, rows)
		if err != nil {
			return err
		}
		result.Requirements = reqs

		movements := make([]entity.StockMovement, 0, len(reqs))
		for _, r := range reqs {
			if !r.TotalRequiredQty.IsPositive() {
				continue
			}
			m := rows[r.RawMaterialID]
			m.Restore(r.TotalRequiredQty)
			m.Touch()
			if err := e.materials.UpdateStock(ctx, m); err != nil {
				return fmt.Errorf("update raw material %s: %w", m.ID, err)
			}
			movements = append(movements, entity.NewStockMovement(
				o.ID, entity.RecorderOrderReversal, entity.RecordTypeReceipt,
				owner, m.ID, r.TotalRequiredQty, m.WAC,
			))
		}
		if err := e.register.RecordMovements(ctx, movements); err != nil {
			return err
		}

		restored := StatusConfirmed
		if o.StatusBeforeCompletion != nil {
			restored = *o.StatusBeforeCompletion
		}
		o.Status = restored
		o.StatusBeforeCompletion = nil
		o.CompletedAt = nil
		o.Touch()
		if err := e.orders.UpdateStatus(ctx, o); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return e.publish(ctx, o, event.OrderReverted, reqs)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "order completion reversed, stock restored",
		"order_id", orderID, "status", result.Order.Status)
	return result, nil
}

func (e *Engine) publish(ctx context.Context, o *Order, eventType string, reqs []Requirement) error {
	if e.events == nil {
		return nil
	}
	err := e.events.Publish(ctx, event.DomainEvent{
		AggregateType: "order",
		AggregateID:   o.ID,
		OwnerID:       o.OwnerID,
		EventType:     eventType,
		Payload: map[string]any{
			"orderId":      o.ID,
			"status":       o.Status,
			"requirements": reqs,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// checkIngredients verifies that every ingredient references an existing raw
// material and that its unit converts into the material's unit.
func (e *Engine) checkIngredients(ctx context.Context, rec *Recipe) error {
	ids := make([]id.ID, 0, len(rec.Ingredients))
	for _, ing := range rec.Ingredients {
		ids = append(ids, ing.RawMaterialID)
	}
	rows, err := e.materials.GetByIDs(ctx, rec.OwnerID, ids)
	if err != nil {
		return fmt.Errorf("load raw materials: %w", err)
	}
	for _, ing := range rec.Ingredients {
		m, ok := rows[ing.RawMaterialID]
		if !ok {
			return apperror.NewNotFound("raw material", ing.RawMaterialID)
		}
		qty := ing.Quantity
		if ing.Unit != "" && units.Key(ing.Unit) != units.Key(m.Unit) {
			qty, err = units.Convert(ing.Quantity, ing.Unit, m.Unit)
			if err != nil {
				return err
			}
		}
		if qty.IsPositive() && types.RoundQuantity(qty).IsZero() {
			return belowPrecision(ing.RawMaterialID, qty, m.Unit)
		}
	}
	return nil
}

// belowPrecision rejects amounts that the stock columns would store as zero.
func belowPrecision(rawMaterialID id.ID, qty decimal.Decimal, unit string) *apperror.AppError {
	return apperror.NewValidation("amount is below the stock quantity precision").
		WithDetail("raw_material_id", rawMaterialID).
		WithDetail("quantity", qty.String()).
		WithDetail("unit", unit).
		WithDetail("places", types.QuantityPlaces)
}
