// Package purchase applies received purchases to raw-material stock and
// gates the purchase lifecycle so stock is applied at most once.
package purchase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/internal/domain/material"
)

// Status is the purchase lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", apperror.NewValidation("invalid purchase status").WithDetail("value", s)
}

// LineSchemaVersion is the version of the canonical line item shape.
const LineSchemaVersion = 2

// LineItem is one row of a purchase in canonical shape.
type LineItem struct {
	LineNo int `db:"line_no" json:"lineNo"`

	// RawMaterialID is nil until the resolver matched the line.
	RawMaterialID *id.ID `db:"raw_material_id" json:"rawMaterialId,omitempty"`

	Name      string          `db:"name" json:"name"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	Unit      string          `db:"unit" json:"unit"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`

	SchemaVersion int `db:"-" json:"schemaVersion"`
}

// Value returns quantity times unit price.
func (l *LineItem) Value() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Resolved reports whether the line carries a raw material reference.
func (l *LineItem) Resolved() bool {
	return l.RawMaterialID != nil && !id.IsNil(*l.RawMaterialID)
}

// Validate checks the line invariants.
func (l *LineItem) Validate() error {
	if strings.TrimSpace(l.Name) == "" && !l.Resolved() {
		return apperror.NewValidation("line name is required").WithDetail("line_no", l.LineNo)
	}
	if strings.TrimSpace(l.Unit) == "" {
		return apperror.NewValidation("line unit is required").WithDetail("line_no", l.LineNo)
	}
	if l.UnitPrice.IsNegative() {
		return apperror.NewValidation("unit price cannot be negative").WithDetail("line_no", l.LineNo)
	}
	return nil
}

// Purchase is a supplier purchase whose completion is applied to stock.
type Purchase struct {
	entity.OwnedEntity

	Supplier   string          `db:"supplier" json:"supplier"`
	Status     Status          `db:"status" json:"status"`
	TotalValue decimal.Decimal `db:"total_value" json:"totalValue"`

	// AppliedAt is set while the purchase's stock is applied.
	AppliedAt *time.Time `db:"applied_at" json:"appliedAt,omitempty"`

	Lines []LineItem `db:"-" json:"lines"`
}

// NewPurchase creates a pending purchase.
func NewPurchase(owner id.ID, supplier string, lines []LineItem) *Purchase {
	p := &Purchase{
		OwnedEntity: entity.NewOwnedEntity(owner),
		Supplier:    strings.TrimSpace(supplier),
		Status:      StatusPending,
		Lines:       lines,
	}
	p.Renumber()
	p.RecomputeTotal()
	return p
}

// Validate implements entity.Validatable interface.
func (p *Purchase) Validate(ctx context.Context) error {
	if err := p.ValidateOwner(); err != nil {
		return err
	}
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return err
	}
	for i := range p.Lines {
		if err := p.Lines[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Renumber assigns 1-based line numbers in slice order.
func (p *Purchase) Renumber() {
	for i := range p.Lines {
		p.Lines[i].LineNo = i + 1
		if p.Lines[i].Subtotal.IsZero() {
			p.Lines[i].Subtotal = p.Lines[i].Value()
		}
	}
}

// RecomputeTotal sets TotalValue to the sum of line subtotals.
func (p *Purchase) RecomputeTotal() {
	total := decimal.Zero
	for i := range p.Lines {
		total = total.Add(p.Lines[i].Subtotal)
	}
	p.TotalValue = total
}

// IsApplied reports whether stock currently reflects this purchase.
func (p *Purchase) IsApplied() bool {
	return p.Status == StatusCompleted && p.AppliedAt != nil
}

// Candidates returns the resolver view of every line.
func (p *Purchase) Candidates() []material.Candidate {
	out := make([]material.Candidate, len(p.Lines))
	for i, l := range p.Lines {
		out[i] = material.Candidate{
			RawMaterialID: l.RawMaterialID,
			Name:          l.Name,
			Unit:          l.Unit,
			UnitPrice:     l.UnitPrice,
		}
	}
	return out
}

// ApplyResolutions copies resolved references onto the lines.
// Returns how many lines gained a reference.
func (p *Purchase) ApplyResolutions(report []material.LineResolution) int {
	n := 0
	for _, r := range report {
		if !r.Resolved || r.Index < 0 || r.Index >= len(p.Lines) {
			continue
		}
		line := &p.Lines[r.Index]
		if line.Resolved() {
			continue
		}
		rid := *r.RawMaterialID
		line.RawMaterialID = &rid
		n++
	}
	return n
}

// UnresolvedLines returns line numbers without a raw material reference.
func (p *Purchase) UnresolvedLines() []int {
	var out []int
	for _, l := range p.Lines {
		if !l.Resolved() {
			out = append(out, l.LineNo)
		}
	}
	return out
}

func (p *Purchase) String() string {
	return fmt.Sprintf("purchase %s (%s, %d lines)", p.ID, p.Status, len(p.Lines))
}

// Repository defines data access for purchases.
type Repository interface {
	// GetByID loads a purchase with its lines.
	GetByID(ctx context.Context, owner, purchaseID id.ID) (*Purchase, error)

	// GetForUpdate loads a purchase with its lines and locks the header row.
	GetForUpdate(ctx context.Context, owner, purchaseID id.ID) (*Purchase, error)

	// Create inserts a purchase and its lines.
	Create(ctx context.Context, p *Purchase) error

	// SaveLineRefs persists raw_material_id of every line.
	SaveLineRefs(ctx context.Context, p *Purchase) error

	// UpdateStatus persists status, applied_at, version and updated_at.
	UpdateStatus(ctx context.Context, p *Purchase) error

	// Delete removes a purchase and its lines.
	Delete(ctx context.Context, owner, purchaseID id.ID) error
}

// BookingState reports whether a purchase currently carries an expense.
// It lets the financial synchronizer drop queued jobs that are out of date.
type BookingState struct {
	repo Repository
}

// NewBookingState creates a BookingState over repo.
func NewBookingState(repo Repository) *BookingState {
	return &BookingState{repo: repo}
}

// Booked implements finance.SourceState.
func (b *BookingState) Booked(ctx context.Context, owner, purchaseID id.ID) (bool, error) {
	p, err := b.repo.GetByID(ctx, owner, purchaseID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return p.IsApplied(), nil
}
