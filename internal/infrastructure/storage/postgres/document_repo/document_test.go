package document_repo

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/id"
	"larder/internal/domain/order"
	"larder/internal/domain/purchase"
)

func TestHeaderQuery_ScopedByOwner(t *testing.T) {
	repo := NewPurchaseRepo(nil)
	owner, docID := id.New(), id.New()

	sql, args, err := repo.headerQuery(owner, docID, true).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, owner_id, version, created_at, updated_at, supplier, status, total_value, applied_at FROM purchases WHERE owner_id = $1 AND id = $2 FOR UPDATE",
		sql)
	assert.Equal(t, owner.String(), fmt.Sprint(args[0]))
	assert.Equal(t, docID.String(), fmt.Sprint(args[1]))

	sql, _, err = repo.headerQuery(owner, docID, false).ToSql()
	require.NoError(t, err)
	assert.NotContains(t, sql, "FOR UPDATE")
}

func TestLinesQuery(t *testing.T) {
	docID := id.New()

	sql, args, err := linesQuery(purchaseLinesTable, "purchase_id", purchaseLineColumns, docID).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT line_no, raw_material_id, name, quantity, unit, unit_price, subtotal FROM purchase_lines WHERE purchase_id = $1 ORDER BY line_no",
		sql)
	assert.Len(t, args, 1)
}

func TestInsertLinesQuery(t *testing.T) {
	rid := id.New()
	p := purchase.NewPurchase(id.New(), "Acme", []purchase.LineItem{
		{RawMaterialID: &rid, Name: "Flour", Quantity: decimal.NewFromInt(10), Unit: "kg", UnitPrice: decimal.NewFromInt(2)},
		{Name: "Sugar", Quantity: decimal.NewFromInt(1), Unit: "kg", UnitPrice: decimal.NewFromInt(3)},
	})

	sql, args, err := NewPurchaseRepo(nil).insertLinesQuery(p).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"INSERT INTO purchase_lines (purchase_id,line_no,raw_material_id,name,quantity,unit,unit_price,subtotal) VALUES ($1,$2,$3,$4,$5,$6,$7,$8),($9,$10,$11,$12,$13,$14,$15,$16)",
		sql)
	require.Len(t, args, 16)
	assert.Equal(t, p.ID, args[0])
	assert.Equal(t, 1, args[1])
	assert.Equal(t, &rid, args[2])
	assert.Equal(t, 2, args[9])
	assert.Nil(t, args[10], "unresolved line has no reference")
}

func TestPurchaseUpdateStatusQuery(t *testing.T) {
	p := purchase.NewPurchase(id.New(), "Acme", nil)
	now := time.Now().UTC()
	p.Status = purchase.StatusCompleted
	p.AppliedAt = &now

	sql, args, err := NewPurchaseRepo(nil).updateStatusQuery(p).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE purchases SET status = $1, applied_at = $2, updated_at = $3, version = version + 1 WHERE owner_id = $4 AND id = $5",
		sql)
	assert.Equal(t, purchase.StatusCompleted, args[0])
	assert.Equal(t, &now, args[1])
}

func TestOrderUpdateStatusQuery(t *testing.T) {
	o := order.NewOrder(id.New(), nil)
	prev := order.StatusConfirmed
	o.StatusBeforeCompletion = &prev
	o.Status = order.StatusCompleted

	sql, args, err := NewOrderRepo(nil).updateStatusQuery(o).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE orders SET status = $1, status_before_completion = $2, completed_at = $3, updated_at = $4, version = version + 1 WHERE owner_id = $5 AND id = $6",
		sql)
	assert.Equal(t, order.StatusCompleted, args[0])
	assert.Equal(t, o.OwnerID.String(), fmt.Sprint(args[4]))
}

func TestDeleteQuery(t *testing.T) {
	owner, docID := id.New(), id.New()

	sql, args, err := NewOrderRepo(nil).deleteQuery(owner, docID).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "DELETE FROM orders WHERE owner_id = $1 AND id = $2", sql)
	assert.Len(t, args, 2)
}
