package catalog_repo

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/id"
	"larder/internal/domain/material"
)

const selectMaterials = "SELECT id, owner_id, version, created_at, updated_at, name, unit, quantity, wac, last_unit_price, suppliers FROM raw_materials"

func newTestRepo() *MaterialRepo {
	return NewMaterialRepo(nil)
}

func strs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

func TestListQuery_ScopedAndOrdered(t *testing.T) {
	owner := id.New()

	sql, args, err := newTestRepo().listQuery(owner).ToSql()
	require.NoError(t, err)

	assert.Equal(t, selectMaterials+" WHERE owner_id = $1 ORDER BY name_key, id", sql)
	assert.Equal(t, []string{owner.String()}, strs(args))
}

func TestFindByKeyQuery_NormalizesIdentity(t *testing.T) {
	owner := id.New()

	sql, args, err := newTestRepo().findByKeyQuery(owner, "  Flour ", "KG", " Acme ").ToSql()
	require.NoError(t, err)

	assert.Equal(t, selectMaterials+" WHERE owner_id = $1 AND name_key = $2 AND supplier_key = $3 AND unit = $4", sql)
	assert.Equal(t, []string{owner.String(), "flour", "acme", "kg"}, strs(args))
}

func TestLockQuery_SortsIDsAndLocks(t *testing.T) {
	owner := id.New()
	a, b := id.New(), id.New()

	sql, args, err := newTestRepo().lockQuery(owner, []id.ID{b, a, b}).ToSql()
	require.NoError(t, err)

	assert.Equal(t, selectMaterials+" WHERE owner_id = $1 AND id IN ($2,$3) ORDER BY id FOR UPDATE", sql)
	assert.Equal(t, []string{owner.String(), a.String(), b.String()}, strs(args), "ascending id order, deduplicated")
}

func TestUpdateStockQuery(t *testing.T) {
	owner := id.New()
	m := material.NewRawMaterial(owner, "Sugar", "g", decimal.RequireFromString("0.003"), "")

	sql, args, err := newTestRepo().updateStockQuery(m).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE raw_materials SET quantity = $1, wac = $2, last_unit_price = $3, suppliers = $4, updated_at = $5, version = version + 1 WHERE owner_id = $6 AND id = $7",
		sql)
	require.Len(t, args, 7)
	assert.Equal(t, []string{}, args[3], "empty supplier list is not NULL")
	assert.Equal(t, owner.String(), fmt.Sprint(args[5]))
	assert.Equal(t, m.ID.String(), fmt.Sprint(args[6]))
}

func TestInsertQuery_UsesEntityColumns(t *testing.T) {
	m := material.NewRawMaterial(id.New(), "Butter", "kg", decimal.NewFromInt(9), "Dairy Co")

	q, err := newTestRepo().insertQuery(m)
	require.NoError(t, err)
	sql, args, err := q.Suffix(identityConflict).ToSql()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "INSERT INTO raw_materials (created_at,id,last_unit_price,name,owner_id,quantity,suppliers,unit,updated_at,version,wac) VALUES"), sql)
	assert.True(t, strings.HasSuffix(sql, identityConflict))
	assert.Len(t, args, len(rawMaterialColumns))
}

func TestIngredientsQuery(t *testing.T) {
	recipeID := id.New()

	sql, args, err := NewRecipeRepo(nil).ingredientsQuery(recipeID).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "SELECT raw_material_id, quantity, unit FROM recipe_ingredients WHERE recipe_id = $1 ORDER BY line_no", sql)
	assert.Equal(t, []string{recipeID.String()}, strs(args))
}
