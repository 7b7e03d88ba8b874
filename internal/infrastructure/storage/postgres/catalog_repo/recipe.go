package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/domain/order"
	"larder/internal/infrastructure/storage/postgres"
)

const (
	recipesTable           = "recipes"
	recipeIngredientsTable = "recipe_ingredients"
)

var _ order.RecipeRepository = (*RecipeRepo)(nil)

// RecipeRepo stores one bill of materials per product.
type RecipeRepo struct {
	*BaseOwnedRepo[*order.Recipe]
	batch *postgres.BatchExecutor
}

// NewRecipeRepo creates a new recipe repository.
func NewRecipeRepo(txm *postgres.TxManager) *RecipeRepo {
	return &RecipeRepo{
		BaseOwnedRepo: NewBaseOwnedRepo(txm, recipesTable,
			postgres.ExtractDBColumns[order.Recipe](),
			func() *order.Recipe { return &order.Recipe{} }),
		batch: postgres.NewBatchExecutor(txm),
	}
}

// RecipeForProduct implements order.RecipeProvider.
func (r *RecipeRepo) RecipeForProduct(ctx context.Context, owner, productID id.ID) (*order.Recipe, error) {
	rec, err := r.get(ctx, r.baseSelect(owner).Where(squirrel.Eq{"product_id": productID}), productID)
	if err != nil {
		return nil, err
	}

	sql, args, err := r.ingredientsQuery(rec.ID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.querier(ctx), &rec.Ingredients, sql, args...); err != nil {
		return nil, fmt.Errorf("select recipe ingredients: %w", err)
	}
	return rec, nil
}

// Save replaces the recipe of rec.ProductID. MUST be called inside a
// transaction context.
func (r *RecipeRepo) Save(ctx context.Context, rec *order.Recipe) error {
	if id.IsNil(rec.OwnerID) || id.IsNil(rec.ProductID) {
		return apperror.NewValidation("recipe owner and product are required")
	}
	if len(rec.Ingredients) == 0 {
		return apperror.NewValidation("recipe needs at least one ingredient")
	}
	if id.IsNil(rec.ID) {
		rec.ID = id.New()
	}

	// The upsert keeps the existing recipe id for the product.
	err := r.querier(ctx).QueryRow(ctx, `
		INSERT INTO recipes (id, owner_id, product_id, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, product_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, rec.ID, rec.OwnerID, rec.ProductID, rec.Name).Scan(&rec.ID)
	if err != nil {
		return postgres.MapError(fmt.Errorf("upsert recipe: %w", err), recipesTable)
	}

	queries := []postgres.BatchQuery{{
		SQL:  "DELETE FROM recipe_ingredients WHERE recipe_id = $1",
		Args: []any{rec.ID},
	}}
	for i, ing := range rec.Ingredients {
		if !ing.Quantity.IsPositive() {
			return apperror.NewValidation("ingredient quantity must be positive").WithDetail("line_no", i+1)
		}
		queries = append(queries, postgres.BatchQuery{
			SQL: `INSERT INTO recipe_ingredients (recipe_id, line_no, raw_material_id, quantity, unit)
				VALUES ($1, $2, $3, $4, $5)`,
			Args: []any{rec.ID, i + 1, ing.RawMaterialID, ing.Quantity, ing.Unit},
		})
	}
	if err := r.batch.ExecuteBatch(ctx, queries); err != nil {
		return postgres.MapError(err, recipeIngredientsTable)
	}
	return nil
}

func (r *RecipeRepo) ingredientsQuery(recipeID id.ID) squirrel.SelectBuilder {
	return r.Builder().
		Select("raw_material_id", "quantity", "unit").
		From(recipeIngredientsTable).
		Where(squirrel.Eq{"recipe_id": recipeID}).
		OrderBy("line_no")
}
