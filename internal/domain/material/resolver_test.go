package material_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/domain/material"
	"larder/internal/infrastructure/storage/memory"
)

type countingMetrics struct {
	created   atomic.Int64
	conflicts atomic.Int64
}

func (m *countingMetrics) ResolverCreated()  { m.created.Add(1) }
func (m *countingMetrics) ResolverConflict() { m.conflicts.Add(1) }

// failingInserts fails every InsertIfAbsent with a non-duplicate error.
type failingInserts struct {
	*memory.MaterialRepo
	calls atomic.Int64
}

func (f *failingInserts) InsertIfAbsent(ctx context.Context, m *material.RawMaterial) (*material.RawMaterial, bool, error) {
	f.calls.Add(1)
	return nil, false, errors.New("connection reset")
}

func candidate(name, unit, price string) material.Candidate {
	return material.Candidate{Name: name, Unit: unit, UnitPrice: decimal.RequireFromString(price)}
}

func TestResolve_ExistingReferenceIsKept(t *testing.T) {
	store := memory.New()
	r := material.NewResolver(store.Materials())

	ref := id.New()
	c := candidate("Sugar", "kg", "2")
	c.RawMaterialID = &ref

	res, err := r.Resolve(context.Background(), id.New(), c, "Acme", nil)
	require.NoError(t, err)
	assert.Equal(t, ref, res.RawMaterialID)
	assert.Equal(t, material.MatchReference, res.MatchedBy)
}

func TestResolve_PrefersSupplierMatch(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()

	acme := material.NewRawMaterial(owner, "Sugar", "kg", decimal.NewFromInt(2), "Acme")
	bulk := material.NewRawMaterial(owner, "Sugar", "kg", decimal.NewFromInt(2), "Bulk Foods")
	store.Materials().Seed(acme)
	store.Materials().Seed(bulk)

	r := material.NewResolver(store.Materials())
	catalog, err := store.Materials().List(ctx, owner)
	require.NoError(t, err)

	res, err := r.Resolve(ctx, owner, candidate("  sugar ", "KG", "2"), " bulk foods", catalog)
	require.NoError(t, err)
	assert.Equal(t, bulk.ID, res.RawMaterialID)
	assert.Equal(t, material.MatchNameSupplier, res.MatchedBy)
}

func TestResolve_FallsBackToNameAndUnit(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()

	flour := material.NewRawMaterial(owner, "Flour", "g", decimal.NewFromInt(1), "Mill Co")
	store.Materials().Seed(flour)
	catalog, err := store.Materials().List(ctx, owner)
	require.NoError(t, err)

	r := material.NewResolver(store.Materials())
	res, err := r.Resolve(ctx, owner, candidate("flour", "grams", "1"), "Someone Else", catalog)
	require.NoError(t, err)
	assert.Equal(t, flour.ID, res.RawMaterialID)
	assert.Equal(t, material.MatchName, res.MatchedBy)
}

func TestResolve_DifferentUnitCreatesNewRow(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()
	store.Materials().Seed(material.NewRawMaterial(owner, "Milk", "l", decimal.NewFromInt(1), ""))
	catalog, err := store.Materials().List(ctx, owner)
	require.NoError(t, err)

	r := material.NewResolver(store.Materials())
	res, err := r.Resolve(ctx, owner, candidate("Milk", "pcs", "1"), "", catalog)
	require.NoError(t, err)
	assert.Equal(t, material.MatchCreated, res.MatchedBy)
	assert.Equal(t, 2, store.Materials().Count(owner))
}

func TestResolve_CreatesEmptyRowValuedAtLinePrice(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()
	metrics := &countingMetrics{}
	r := material.NewResolver(store.Materials(), material.WithResolverMetrics(metrics))

	res, err := r.Resolve(ctx, owner, candidate("Cocoa", "kg", "12.5"), "Acme", nil)
	require.NoError(t, err)
	assert.Equal(t, material.MatchCreated, res.MatchedBy)

	stored, err := store.Materials().GetByID(ctx, owner, res.RawMaterialID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.IsZero())
	assert.True(t, stored.WAC.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, []string{"Acme"}, stored.Suppliers)
	assert.Equal(t, int64(1), metrics.created.Load())
}

func TestResolve_AdoptsConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()
	metrics := &countingMetrics{}

	// Inserted by someone else after our catalog snapshot was taken.
	winner := material.NewRawMaterial(owner, "Butter", "kg", decimal.NewFromInt(9), "Dairy")
	store.Materials().Seed(winner)

	r := material.NewResolver(store.Materials(), material.WithResolverMetrics(metrics))
	res, err := r.Resolve(ctx, owner, candidate("butter", "kg", "10"), "dairy", nil)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, res.RawMaterialID)
	assert.Equal(t, material.MatchWinner, res.MatchedBy)
	assert.Equal(t, 1, store.Materials().Count(owner))
	assert.Equal(t, int64(1), metrics.conflicts.Load())
}

func TestResolve_DuplicateErrorRequeriesWinner(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()

	winner := material.NewRawMaterial(owner, "Salt", "g", decimal.NewFromInt(1), "")
	store.Materials().Seed(winner)
	store.FailNext("Materials.InsertIfAbsent", apperror.NewDuplicate("raw_material", "name", "Salt"))

	r := material.NewResolver(store.Materials())
	res, err := r.Resolve(ctx, owner, candidate("Salt", "g", "1"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, res.RawMaterialID)
	assert.Equal(t, material.MatchWinner, res.MatchedBy)
}

func TestResolveAll_ExhaustedLeavesLineUnresolved(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()
	repo := &failingInserts{MaterialRepo: store.Materials()}

	r := material.NewResolver(repo, material.WithMaxAttempts(4))
	report, err := r.ResolveAll(ctx, owner, []material.Candidate{candidate("Yeast", "g", "0.5")}, "")
	require.NoError(t, err)
	require.Len(t, report, 1)

	assert.False(t, report[0].Resolved)
	assert.Nil(t, report[0].RawMaterialID)
	require.NotNil(t, report[0].Err)
	assert.Equal(t, apperror.CodeResolutionExhausted, report[0].Err.Code)
	assert.Equal(t, int64(4), repo.calls.Load())
	assert.Equal(t, 0, store.Materials().Count(owner))
	assert.Len(t, material.Unresolved(report), 1)
}

func TestResolveAll_RepeatedNewNameSharesOneRow(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()
	r := material.NewResolver(store.Materials())

	report, err := r.ResolveAll(ctx, owner, []material.Candidate{
		candidate("Vanilla", "ml", "3"),
		candidate("VANILLA ", "milliliters", "3.2"),
	}, "Spice House")
	require.NoError(t, err)

	require.True(t, report[0].Resolved)
	require.True(t, report[1].Resolved)
	assert.Equal(t, *report[0].RawMaterialID, *report[1].RawMaterialID)
	assert.Equal(t, material.MatchCreated, report[0].MatchedBy)
	assert.Equal(t, material.MatchNameSupplier, report[1].MatchedBy)
	assert.Equal(t, 1, store.Materials().Count(owner))
}

func TestResolveAll_CatalogLoadFailure(t *testing.T) {
	store := memory.New()
	store.FailNext("Materials.List", errors.New("db down"))

	r := material.NewResolver(store.Materials())
	_, err := r.ResolveAll(context.Background(), id.New(), []material.Candidate{candidate("Egg", "pcs", "1")}, "")
	require.Error(t, err)
}

func TestResolveAll_CancelledContext(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := material.NewResolver(store.Materials())
	_, err := r.ResolveAll(ctx, id.New(), []material.Candidate{candidate("Egg", "pcs", "1")}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_ConcurrentCallersCreateOneRow(t *testing.T) {
	ctx := context.Background()
	owner := id.New()
	store := memory.New()
	r := material.NewResolver(store.Materials())

	const workers = 16
	ids := make([]id.ID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(ctx, owner, candidate("Honey", "kg", "7"), "Bees Ltd", nil)
			if assert.NoError(t, err) {
				ids[i] = res.RawMaterialID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.Materials().Count(owner))
	for _, got := range ids {
		assert.Equal(t, ids[0], got)
	}
}
