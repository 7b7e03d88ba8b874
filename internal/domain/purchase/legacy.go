package purchase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
)

// Field names seen from older producers of purchase line items, in
// precedence order. Only this adapter knows about them.
var (
	legacyQuantityKeys = []string{"quantity", "qty", "amount"}
	legacyPriceKeys    = []string{"unit_price", "unitPrice", "price", "cost"}
	legacyNameKeys     = []string{"name", "item_name", "itemName"}
	legacyUnitKeys     = []string{"unit", "uom"}
	legacyRefKeys      = []string{"raw_material_id", "rawMaterialId", "warehouse_item_id"}
	legacySubtotalKeys = []string{"subtotal", "line_total", "total"}
)

// NormalizeLegacyLine translates a loosely shaped line item into the
// canonical LineItem. Missing subtotal is derived from quantity and price.
func NormalizeLegacyLine(raw map[string]any) (LineItem, error) {
	var line LineItem
	line.SchemaVersion = LineSchemaVersion

	name, _ := firstString(raw, legacyNameKeys)
	line.Name = strings.TrimSpace(name)

	unit, _ := firstString(raw, legacyUnitKeys)
	line.Unit = strings.TrimSpace(unit)

	qty, found, err := firstDecimal(raw, legacyQuantityKeys)
	if err != nil {
		return LineItem{}, err
	}
	if !found {
		return LineItem{}, apperror.NewValidation("line quantity is required").
			WithDetail("accepted_fields", legacyQuantityKeys)
	}
	line.Quantity = qty

	price, _, err := firstDecimal(raw, legacyPriceKeys)
	if err != nil {
		return LineItem{}, err
	}
	line.UnitPrice = price

	subtotal, found, err := firstDecimal(raw, legacySubtotalKeys)
	if err != nil {
		return LineItem{}, err
	}
	if found {
		line.Subtotal = subtotal
	} else {
		line.Subtotal = line.Value()
	}

	if ref, ok := firstString(raw, legacyRefKeys); ok && strings.TrimSpace(ref) != "" {
		rid, err := id.Parse(strings.TrimSpace(ref))
		if err != nil {
			return LineItem{}, apperror.NewValidation("invalid raw material reference").
				WithDetail("value", ref).WithCause(err)
		}
		line.RawMaterialID = &rid
	}

	if err := line.Validate(); err != nil {
		return LineItem{}, err
	}
	return line, nil
}

// NormalizeLegacyLines normalizes a list and numbers the lines from 1.
func NormalizeLegacyLines(raws []map[string]any) ([]LineItem, error) {
	out := make([]LineItem, 0, len(raws))
	for i, raw := range raws {
		line, err := NormalizeLegacyLine(raw)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				return nil, appErr.WithDetail("index", i)
			}
			return nil, err
		}
		line.LineNo = i + 1
		out = append(out, line)
	}
	return out, nil
}

func firstString(raw map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			return s, true
		case fmt.Stringer:
			return s.String(), true
		}
	}
	return "", false
}

func firstDecimal(raw map[string]any, keys []string) (decimal.Decimal, bool, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		d, err := toDecimal(v)
		if err != nil {
			return decimal.Zero, false, apperror.NewValidation("invalid number").
				WithDetail("field", k).
				WithDetail("value", fmt.Sprint(v))
		}
		return d, true, nil
	}
	return decimal.Zero, false, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	default:
		return decimal.Zero, fmt.Errorf("unsupported number type %T", v)
	}
}
