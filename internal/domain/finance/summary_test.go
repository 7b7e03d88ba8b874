package finance_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/id"
	"larder/internal/domain/finance"
	"larder/internal/infrastructure/storage/memory"
)

type mapCache map[string][]byte

func (m mapCache) Get(ctx context.Context, owner id.ID, key string, dst any) (bool, error) {
	data, ok := m[owner.String()+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (m mapCache) Set(ctx context.Context, owner id.ID, key string, value any) error {
	data, err := json.Marshal(value)
	m[owner.String()+key] = data
	return err
}

func (m mapCache) Invalidate(ctx context.Context, owner id.ID, keys ...string) error {
	for _, k := range keys {
		delete(m, owner.String()+k)
	}
	return nil
}

func TestSummary_ReadThroughAndInvalidatedBySync(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache := mapCache{}
	s := newSync(store, cache, nil)
	svc := finance.NewSummaryService(store.Finance(), cache)
	owner := id.New()

	job := purchaseJob(owner)
	require.NoError(t, s.OnCompleted(ctx, job))

	sum, err := svc.Get(ctx, owner)
	require.NoError(t, err)
	assert.True(t, sum.Expense.Equal(job.Amount))
	assert.True(t, sum.Net.Equal(job.Amount.Neg()))
	assert.Equal(t, int64(1), sum.Transactions)
	assert.Len(t, cache, 1)

	income := finance.Job{
		Op:        finance.OpOrderCompleted,
		OwnerID:   owner,
		RelatedID: id.New(),
		Amount:    decimal.NewFromInt(50000),
	}
	require.NoError(t, s.OnOrderCompleted(ctx, income))
	assert.Empty(t, cache, "booking drops the cached summary")

	sum, err = svc.Get(ctx, owner)
	require.NoError(t, err)
	assert.True(t, sum.Income.Equal(decimal.NewFromInt(50000)))
	assert.True(t, sum.Net.Equal(decimal.NewFromInt(17500)))
}

func TestSummary_OtherOwnersExcluded(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSync(store, nil, nil)
	svc := finance.NewSummaryService(store.Finance(), nil)

	require.NoError(t, s.OnCompleted(ctx, purchaseJob(id.New())))

	sum, err := svc.Get(ctx, id.New())
	require.NoError(t, err)
	assert.True(t, sum.Expense.IsZero())
	assert.Zero(t, sum.Transactions)
}
