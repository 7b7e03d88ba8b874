package purchase_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/internal/domain/purchase"
)

func TestApply_WeightedAverageAcrossPurchases(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")

	first := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2000"))
	second := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "5", "kg", "2500"))

	f.apply(first)
	report := f.apply(second)

	got := f.material(sugar.ID)
	assert.True(t, got.Quantity.Equal(dec("15")))
	assert.True(t, got.WAC.Sub(dec("2166.67")).Abs().LessThan(dec("0.01")), "wac %s", got.WAC)
	assert.True(t, got.LastUnitPrice.Equal(dec("2500")))

	require.Len(t, report.Lines, 1)
	assert.True(t, report.Lines[0].NewQuantity.Equal(dec("15")))

	movements := f.store.Stock().Movements(f.owner)
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, entity.RecordTypeReceipt, m.RecordType)
		assert.Equal(t, entity.RecorderPurchase, m.RecorderType)
	}
}

func TestApply_ConvertsIntoMaterialUnit(t *testing.T) {
	f := newFixture(t)
	flour := f.seedMaterial("Flour", "g", "0", "0")

	p := f.createPurchase("Mill Co", refLine(flour.ID, "Flour", "2", "kg", "3"))
	report := f.apply(p)

	got := f.material(flour.ID)
	assert.True(t, got.Quantity.Equal(dec("2000")))
	assert.True(t, got.WAC.Equal(dec("0.003")), "wac %s", got.WAC)
	assert.Equal(t, "g", report.Lines[0].Unit)
	assert.True(t, got.StockValue().Equal(dec("6")), "line value is preserved")
}

func TestApply_MissingRowAbortsEverything(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")

	p := f.createPurchase("Acme",
		refLine(sugar.ID, "Sugar", "1", "kg", "2"),
		refLine(id.New(), "Ghost", "1", "kg", "2"),
	)

	err := f.store.RunInTransaction(context.Background(), func(ctx context.Context) error {
		_, err := f.costing.ApplyPurchaseToWarehouse(ctx, f.load(p.ID))
		return err
	})
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInconsistentStockRow, appErr.Code)
	assert.Equal(t, 2, appErr.Details["line_no"])

	assert.True(t, f.material(sugar.ID).Quantity.IsZero())
	assert.Empty(t, f.store.Stock().Movements(f.owner))
}

func TestApply_UnresolvedLineIsInconsistent(t *testing.T) {
	f := newFixture(t)
	p := f.createPurchase("Acme", nameLine("Sugar", "1", "kg", "2"))

	_, err := f.costing.ApplyPurchaseToWarehouse(context.Background(), f.load(p.ID))
	assert.True(t, apperror.HasCode(err, apperror.CodeInconsistentStockRow))
}

func TestApply_IncompatibleUnits(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "1", "l", "2"))

	_, err := f.costing.ApplyPurchaseToWarehouse(context.Background(), f.load(p.ID))
	assert.True(t, apperror.HasCode(err, apperror.CodeIncompatibleUnits))
}

func TestApply_ZeroQuantityOnlyMergesSupplier(t *testing.T) {
	f := newFixture(t)
	salt := f.seedMaterial("Salt", "g", "0", "1")

	p := f.createPurchase("New Supplier", refLine(salt.ID, "Salt", "0", "g", "5"))
	report := f.apply(p)

	got := f.material(salt.ID)
	assert.True(t, got.Quantity.IsZero())
	assert.True(t, got.WAC.Equal(dec("1")))
	assert.Contains(t, got.Suppliers, "New Supplier")
	assert.True(t, report.Lines[0].SupplierOnly)
	assert.Empty(t, f.store.Stock().Movements(f.owner))
}

func TestReverse_TakesBackWhatWasApplied(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "4", "1000")

	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "6", "kg", "1500"))
	f.apply(p)
	wacAfterApply := f.material(sugar.ID).WAC

	var report purchase.ReverseReport
	err := f.store.RunInTransaction(context.Background(), func(ctx context.Context) error {
		var err error
		report, err = f.costing.ReversePurchaseFromWarehouse(ctx, f.load(p.ID))
		return err
	})
	require.NoError(t, err)

	got := f.material(sugar.ID)
	assert.True(t, got.Quantity.Equal(dec("4")))
	assert.True(t, got.WAC.Equal(wacAfterApply), "WAC is not rolled back")
	assert.True(t, report.Restored[sugar.ID].Equal(dec("6")))

	movements := f.store.Stock().Movements(f.owner)
	require.Len(t, movements, 2)
	assert.True(t, entity.NetQuantity(movements).IsZero())
}

func TestReverse_RefusesWhenStockWasConsumed(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")

	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))
	f.apply(p)
	f.consume(sugar.ID, "8")

	var report purchase.ReverseReport
	err := f.store.RunInTransaction(context.Background(), func(ctx context.Context) error {
		var err error
		report, err = f.costing.ReversePurchaseFromWarehouse(ctx, f.load(p.ID))
		return err
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))
	require.Len(t, report.Shortfalls, 1)
	short := report.Shortfalls[0]
	assert.Equal(t, sugar.ID, short.RawMaterialID)
	assert.True(t, short.Required.Equal(dec("10")))
	assert.True(t, short.Available.Equal(dec("2")))
	assert.True(t, short.Missing().Equal(dec("8")))
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("2")))
}

func TestReverse_NothingAppliedIsNoop(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "3", "1")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	report, err := f.costing.ReversePurchaseFromWarehouse(context.Background(), f.load(p.ID))
	require.NoError(t, err)
	assert.Empty(t, report.Restored)
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("3")))
}

func TestApply_TotalMatchesLineValues(t *testing.T) {
	lines := []purchase.LineItem{
		{Name: "A", Quantity: dec("2"), Unit: "kg", UnitPrice: dec("1.5")},
		{Name: "B", Quantity: dec("3"), Unit: "pcs", UnitPrice: dec("0.25")},
	}
	p := purchase.NewPurchase(id.New(), "Acme", lines)
	assert.True(t, p.TotalValue.Equal(decimal.RequireFromString("3.75")))
	assert.Equal(t, []int{1, 2}, p.UnresolvedLines())
}
