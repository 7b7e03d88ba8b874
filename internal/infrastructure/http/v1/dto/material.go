package dto

import (
	"time"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/domain/stock"
)

// MovementQuery filters a raw material's movement history.
type MovementQuery struct {
	RecordType string `form:"recordType"`
	From       string `form:"from"`
	To         string `form:"to"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// DefaultMovementLimit caps history responses without an explicit limit.
const DefaultMovementLimit = 100

// ToFilter validates the query and applies the default limit.
// Dates are RFC 3339.
func (q *MovementQuery) ToFilter() (stock.MovementFilter, error) {
	f := stock.MovementFilter{Limit: q.Limit}
	if f.Limit == 0 {
		f.Limit = DefaultMovementLimit
	}
	var err error
	if f.FromDate, err = parseTime("from", q.From); err != nil {
		return f, err
	}
	if f.ToDate, err = parseTime("to", q.To); err != nil {
		return f, err
	}
	if q.RecordType != "" {
		rt := entity.RecordType(q.RecordType)
		if rt != entity.RecordTypeReceipt && rt != entity.RecordTypeExpense {
			return f, apperror.NewValidation("invalid record type").WithDetail("value", q.RecordType)
		}
		f.RecordType = &rt
	}
	return f, nil
}

// ConvertQuery is the input of the unit conversion endpoint.
type ConvertQuery struct {
	Value string `form:"value" binding:"required"`
	From  string `form:"from" binding:"required"`
	To    string `form:"to" binding:"required"`
}

func parseTime(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperror.NewValidation("invalid date").WithDetail("field", field).WithDetail("value", v)
	}
	return &t, nil
}
