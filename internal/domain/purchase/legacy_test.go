package purchase_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/domain/purchase"
)

func TestNormalizeLegacyLine_FieldAliases(t *testing.T) {
	ref := id.New()
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{
			name: "canonical",
			raw:  map[string]any{"name": "Sugar", "quantity": "10", "unit": "kg", "unit_price": "2"},
		},
		{
			name: "short names",
			raw:  map[string]any{"item_name": "Sugar", "qty": 10.0, "uom": "kg", "price": 2},
		},
		{
			name: "camel case",
			raw:  map[string]any{"itemName": "Sugar", "amount": json.Number("10"), "unit": "kg", "unitPrice": "2"},
		},
		{
			name: "warehouse reference and cost",
			raw:  map[string]any{
				"warehouse_item_id": ref.String(), "name": "Sugar", "qty": int64(10), "unit": " kg ", "cost": "2.0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := purchase.NormalizeLegacyLine(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, "Sugar", line.Name)
			assert.Equal(t, "kg", line.Unit)
			assert.True(t, line.Quantity.Equal(dec("10")))
			assert.True(t, line.UnitPrice.Equal(dec("2")))
			assert.True(t, line.Subtotal.Equal(dec("20")))
			assert.Equal(t, purchase.LineSchemaVersion, line.SchemaVersion)
		})
	}
}

func TestNormalizeLegacyLine_Reference(t *testing.T) {
	ref := id.New()
	line, err := purchase.NormalizeLegacyLine(map[string]any{
		"rawMaterialId": ref.String(), "quantity": 1, "unit": "pcs",
	})
	require.NoError(t, err)
	require.NotNil(t, line.RawMaterialID)
	assert.Equal(t, ref, *line.RawMaterialID)
}

func TestNormalizeLegacyLine_PrecedenceAndSubtotal(t *testing.T) {
	line, err := purchase.NormalizeLegacyLine(map[string]any{
		"name": "Milk", "quantity": "2", "qty": "99", "unit": "l",
		"unit_price": "1.5", "price": "7", "line_total": "3.10",
	})
	require.NoError(t, err)
	assert.True(t, line.Quantity.Equal(dec("2")))
	assert.True(t, line.UnitPrice.Equal(dec("1.5")))
	assert.True(t, line.Subtotal.Equal(dec("3.10")), "explicit subtotal wins")
}

func TestNormalizeLegacyLine_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"missing quantity", map[string]any{"name": "Milk", "unit": "l"}},
		{"bad number", map[string]any{"name": "Milk", "qty": "two", "unit": "l"}},
		{"bad reference", map[string]any{"raw_material_id": "nope", "qty": 1, "unit": "l"}},
		{"missing unit", map[string]any{"name": "Milk", "qty": 1}},
		{"unsupported type", map[string]any{"name": "Milk", "qty": []int{1}, "unit": "l"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := purchase.NormalizeLegacyLine(tt.raw)
			assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "got %v", err)
		})
	}
}

func TestNormalizeLegacyLines_NumbersAndReportsIndex(t *testing.T) {
	lines, err := purchase.NormalizeLegacyLines([]map[string]any{
		{"name": "A", "qty": 1, "unit": "kg"},
		{"name": "B", "qty": 2, "unit": "kg"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, lines[0].LineNo)
	assert.Equal(t, 2, lines[1].LineNo)

	_, err = purchase.NormalizeLegacyLines([]map[string]any{
		{"name": "A", "qty": 1, "unit": "kg"},
		{"name": "B", "unit": "kg"},
	})
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 1, appErr.Details["index"])
}
