package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/id"
	"larder/internal/domain/finance"
)

type recorder struct {
	err   error
	calls []Notification
}

func (r *recorder) Invalidate(ctx context.Context, owner id.ID, keys ...string) error {
	r.calls = append(r.calls, Notification{OwnerID: owner, Keys: keys})
	return r.err
}

type panicker struct{}

func (panicker) Invalidate(context.Context, id.ID, ...string) error { panic("boom") }

func TestKey_OwnerScoped(t *testing.T) {
	owner := id.MustParse("0190f5c2-0000-7000-8000-000000000001")
	assert.Equal(t, "larder:0190f5c2-0000-7000-8000-000000000001:financial_summary",
		Key(owner, finance.KeyFinancialSummary))
}

func TestMulti_CallsEveryMemberAndJoinsErrors(t *testing.T) {
	a := &recorder{err: errors.New("redis down")}
	b := &recorder{}
	owner := id.New()

	err := Multi{a, nil, b}.Invalidate(context.Background(), owner, "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Len(t, a.calls, 1)
	assert.Len(t, b.calls, 1)
}

func TestLocal_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(time.Minute)
	owner, other := id.New(), id.New()

	sum := finance.Summary{OwnerID: owner, Income: decimal.NewFromInt(10), Expense: decimal.NewFromInt(4)}
	require.NoError(t, l.Set(ctx, owner, finance.KeyFinancialSummary, sum))

	var got finance.Summary
	ok, err := l.Get(ctx, owner, finance.KeyFinancialSummary, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Income.Equal(sum.Income))

	ok, err = l.Get(ctx, other, finance.KeyFinancialSummary, &got)
	require.NoError(t, err)
	assert.False(t, ok, "entries are owner-scoped")

	require.NoError(t, l.Invalidate(ctx, owner, finance.DependentKeys...))
	ok, _ = l.Get(ctx, owner, finance.KeyFinancialSummary, &got)
	assert.False(t, ok)
	assert.Zero(t, l.Len())
}

func TestLocal_Expires(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	owner := id.New()

	require.NoError(t, l.Set(ctx, owner, "k", 1))
	now = now.Add(2 * time.Minute)

	var v int
	ok, err := l.Get(ctx, owner, "k", &v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, l.Len(), "expired entry is removed on read")
}

func TestLocal_SetSweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		require.NoError(t, l.Set(ctx, id.New(), finance.KeyFinancialSummary, i))
	}
	require.Equal(t, 50, l.Len())

	now = now.Add(2 * time.Minute)
	require.NoError(t, l.Set(ctx, id.New(), finance.KeyFinancialSummary, 1))
	assert.Equal(t, 1, l.Len())
}

func TestNotification_RoundTrip(t *testing.T) {
	owner := id.New()
	payload, err := EncodeNotification(owner, finance.DependentKeys)
	require.NoError(t, err)

	n, err := DecodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, owner, n.OwnerID)
	assert.Equal(t, finance.DependentKeys, n.Keys)

	_, err = DecodeNotification(`{"keys":["a"]}`)
	assert.Error(t, err)
	_, err = DecodeNotification("not json")
	assert.Error(t, err)
}

func TestListener_HandleFansOutAndSurvivesPanics(t *testing.T) {
	target := &recorder{}
	l := NewListener(nil, panicker{}, target)
	owner := id.New()
	payload, err := EncodeNotification(owner, []string{finance.KeyFinancialSummary})
	require.NoError(t, err)

	l.Handle(payload)
	l.Handle("garbage")

	require.Len(t, target.calls, 1)
	assert.Equal(t, owner, target.calls[0].OwnerID)
	assert.Equal(t, []string{finance.KeyFinancialSummary}, target.calls[0].Keys)
}

func TestNoMutex_AlwaysRuns(t *testing.T) {
	ran := false
	ok, err := NoMutex{}.TryRun(context.Background(), "purge", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ran)
}
