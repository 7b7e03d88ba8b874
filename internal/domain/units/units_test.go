package units

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/apperror"
)

func TestConvert_SameFamily(t *testing.T) {
	tests := []struct {
		name  string
		value string
		from  string
		to    string
		want  string
	}{
		{"kg to g", "1.5", "kg", "g", "1500"},
		{"g to kg", "250", "g", "kg", "0.25"},
		{"l to ml", "2", "l", "ml", "2000"},
		{"dozen to pcs", "3", "dozen", "pcs", "36"},
		{"alias and case", "1", " Kilograms ", "GRAMS", "1000"},
		{"identity", "7", "pcs", "piece", "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(decimal.RequireFromString(tt.value), tt.from, tt.to)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestConvert_IncompatibleUnits(t *testing.T) {
	_, err := Convert(decimal.NewFromInt(1), "kg", "l")
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeIncompatibleUnits, appErr.Code)
	assert.Equal(t, "mass", appErr.Details["from_family"])
	assert.Equal(t, "volume", appErr.Details["to_family"])
}

func TestConvert_UnknownUnit(t *testing.T) {
	_, err := Convert(decimal.NewFromInt(1), "bushel", "kg")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownUnit))

	_, err = BaseUnit("")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownUnit))
}

func TestConvert_RoundTrip(t *testing.T) {
	tolerance := decimal.RequireFromString("0.000001")
	values := []decimal.Decimal{
		decimal.RequireFromString("0.001"),
		decimal.RequireFromString("1"),
		decimal.RequireFromString("3.75"),
		decimal.RequireFromString("12345.6789"),
	}

	for _, fam := range []Family{FamilyMass, FamilyVolume, FamilyCount} {
		symbols := Symbols(fam)
		for _, a := range symbols {
			for _, b := range symbols {
				for _, x := range values {
					there, err := Convert(x, a, b)
					require.NoError(t, err)
					back, err := Convert(there, b, a)
					require.NoError(t, err)
					assert.True(t, back.Sub(x).Abs().LessThanOrEqual(tolerance),
						"%s %s -> %s -> %s = %s", x, a, b, a, back)
				}
			}
		}
	}
}

func TestBaseUnit(t *testing.T) {
	for unit, want := range map[string]string{
		"kg": "g", "lb": "g", "tbsp": "ml", "Litre": "ml", "dozen": "pcs", "each": "pcs",
	} {
		got, err := BaseUnit(unit)
		require.NoError(t, err, unit)
		assert.Equal(t, want, got, unit)
	}
}

func TestToBase(t *testing.T) {
	v, base, err := ToBase(decimal.RequireFromString("0.3"), "kg")
	require.NoError(t, err)
	assert.Equal(t, "g", base)
	assert.True(t, v.Equal(decimal.NewFromInt(300)))
}

func TestCompatibleAndKey(t *testing.T) {
	assert.True(t, Compatible("kg", "oz"))
	assert.False(t, Compatible("kg", "ml"))
	assert.False(t, Compatible("kg", "sack"))

	assert.Equal(t, "kg", Key(" KG "))
	assert.Equal(t, "sack", Key(" Sack"))
}
