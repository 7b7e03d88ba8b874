// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Quantity is an on-hand or requested amount expressed in some unit.
// Stored as NUMERIC(18,4) in Postgres.
type Quantity = decimal.Decimal

const (
	// QuantityPlaces matches the scale of quantity columns.
	QuantityPlaces int32 = 4
	// CostPlaces matches the scale of wac/last_unit_price columns.
	CostPlaces int32 = 6
)

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustDecimal creates a decimal from a string, panics on error.
// Use only for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero value.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// RoundQuantity rounds to the stored quantity scale.
func RoundQuantity(q Quantity) Quantity {
	return q.Round(QuantityPlaces)
}

// RoundCost rounds to the stored unit-cost scale.
func RoundCost(m Money) Money {
	return m.Round(CostPlaces)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
