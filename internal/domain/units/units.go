// Package units converts quantities between measurement units of the same
// family (mass, volume, count) through one base unit per family.
//
// Conversion is always value * from.factor / to.factor. The package is pure:
// no I/O, no shared mutable state.
package units

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
)

// Family groups units that can be converted into each other.
type Family string

const (
	FamilyMass   Family = "mass"
	FamilyVolume Family = "volume"
	FamilyCount  Family = "count"
)

// Base unit symbols.
const (
	Gram       = "g"
	Milliliter = "ml"
	Piece      = "pcs"
)

// Unit is one entry of the conversion table.
type Unit struct {
	Symbol string
	Family Family
	// Factor converts one of this unit into the family base unit.
	Factor decimal.Decimal
}

func mustFactor(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var table = map[string]Unit{
	// mass, base g
	"mg": {Symbol: "mg", Family: FamilyMass, Factor: mustFactor("0.001")},
	"g":  {Symbol: "g", Family: FamilyMass, Factor: decimal.NewFromInt(1)},
	"kg": {Symbol: "kg", Family: FamilyMass, Factor: decimal.NewFromInt(1000)},
	"oz": {Symbol: "oz", Family: FamilyMass, Factor: mustFactor("28.349523125")},
	"lb": {Symbol: "lb", Family: FamilyMass, Factor: mustFactor("453.59237")},

	// volume, base ml
	"ml":    {Symbol: "ml", Family: FamilyVolume, Factor: decimal.NewFromInt(1)},
	"cl":    {Symbol: "cl", Family: FamilyVolume, Factor: decimal.NewFromInt(10)},
	"dl":    {Symbol: "dl", Family: FamilyVolume, Factor: decimal.NewFromInt(100)},
	"l":     {Symbol: "l", Family: FamilyVolume, Factor: decimal.NewFromInt(1000)},
	"tsp":   {Symbol: "tsp", Family: FamilyVolume, Factor: mustFactor("4.92892159375")},
	"tbsp":  {Symbol: "tbsp", Family: FamilyVolume, Factor: mustFactor("14.78676478125")},
	"fl_oz": {Symbol: "fl_oz", Family: FamilyVolume, Factor: mustFactor("29.5735295625")},
	"cup":   {Symbol: "cup", Family: FamilyVolume, Factor: mustFactor("236.5882365")},
	"gal":   {Symbol: "gal", Family: FamilyVolume, Factor: mustFactor("3785.411784")},

	// count, base pcs
	"pcs":   {Symbol: "pcs", Family: FamilyCount, Factor: decimal.NewFromInt(1)},
	"pair":  {Symbol: "pair", Family: FamilyCount, Factor: decimal.NewFromInt(2)},
	"dozen": {Symbol: "dozen", Family: FamilyCount, Factor: decimal.NewFromInt(12)},
	// a pack has no fixed size; treated as one countable item
	"pack": {Symbol: "pack", Family: FamilyCount, Factor: decimal.NewFromInt(1)},
}

var aliases = map[string]string{
	"gram": "g", "grams": "g", "gr": "g", "gm": "g",
	"milligram": "mg", "milligrams": "mg",
	"kilogram": "kg", "kilograms": "kg", "kilo": "kg", "kilos": "kg", "kgs": "kg",
	"ounce": "oz", "ounces": "oz",
	"pound": "lb", "pounds": "lb", "lbs": "lb",

	"milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml", "mls": "ml",
	"centiliter": "cl", "centilitre": "cl",
	"deciliter": "dl", "decilitre": "dl",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l", "lt": "l", "ltr": "l",
	"teaspoon": "tsp", "teaspoons": "tsp",
	"tablespoon": "tbsp", "tablespoons": "tbsp",
	"floz": "fl_oz", "fl oz": "fl_oz", "fl. oz": "fl_oz", "fluid ounce": "fl_oz", "fluid ounces": "fl_oz",
	"cups": "cup",
	"gallon": "gal", "gallons": "gal",

	"pc": "pcs", "piece": "pcs", "pieces": "pcs", "unit": "pcs", "units": "pcs",
	"each": "pcs", "ea": "pcs", "item": "pcs", "items": "pcs",
	"pairs": "pair",
	"dozens": "dozen", "dz": "dozen",
	"packs": "pack", "package": "pack", "packet": "pack",
}

var baseOf = map[Family]string{
	FamilyMass:   Gram,
	FamilyVolume: Milliliter,
	FamilyCount:  Piece,
}

// Lookup returns the table entry for a unit string.
// Input is trimmed and matched case-insensitively against symbols and aliases.
func Lookup(unit string) (Unit, error) {
	key := strings.ToLower(strings.TrimSpace(unit))
	if a, ok := aliases[key]; ok {
		key = a
	}
	u, ok := table[key]
	if !ok {
		return Unit{}, apperror.NewUnknownUnit(unit)
	}
	return u, nil
}

// Canonical returns the canonical symbol for unit ("Kilograms" -> "kg").
func Canonical(unit string) (string, error) {
	u, err := Lookup(unit)
	if err != nil {
		return "", err
	}
	return u.Symbol, nil
}

// FamilyOf returns the family unit belongs to.
func FamilyOf(unit string) (Family, error) {
	u, err := Lookup(unit)
	if err != nil {
		return "", err
	}
	return u.Family, nil
}

// BaseUnit returns the base unit symbol of unit's family.
func BaseUnit(unit string) (string, error) {
	u, err := Lookup(unit)
	if err != nil {
		return "", err
	}
	return baseOf[u.Family], nil
}

// Compatible reports whether a and b are known units of the same family.
func Compatible(a, b string) bool {
	ua, err := Lookup(a)
	if err != nil {
		return false
	}
	ub, err := Lookup(b)
	if err != nil {
		return false
	}
	return ua.Family == ub.Family
}

// Convert converts value from one unit into another of the same family.
// The result is not rounded; callers round to their storage scale.
func Convert(value decimal.Decimal, from, to string) (decimal.Decimal, error) {
	src, err := Lookup(from)
	if err != nil {
		return decimal.Zero, err
	}
	dst, err := Lookup(to)
	if err != nil {
		return decimal.Zero, err
	}
	if src.Family != dst.Family {
		return decimal.Zero, apperror.NewIncompatibleUnits(from, to, string(src.Family), string(dst.Family))
	}
	if src.Symbol == dst.Symbol {
		return value, nil
	}
	return value.Mul(src.Factor).Div(dst.Factor), nil
}

// ToBase converts value into its family base unit and returns the base symbol.
func ToBase(value decimal.Decimal, unit string) (decimal.Decimal, string, error) {
	u, err := Lookup(unit)
	if err != nil {
		return decimal.Zero, "", err
	}
	return value.Mul(u.Factor), baseOf[u.Family], nil
}

// Symbols lists every canonical unit symbol of a family.
func Symbols(f Family) []string {
	var out []string
	for sym, u := range table {
		if u.Family == f {
			out = append(out, sym)
		}
	}
	slices.Sort(out)
	return out
}

// Key returns the matching key used for unit comparisons: the canonical
// symbol when the unit is known, the trimmed lowercased input otherwise.
func Key(unit string) string {
	if c, err := Canonical(unit); err == nil {
		return c
	}
	return strings.ToLower(strings.TrimSpace(unit))
}
