package finance_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/apperror"
	"larder/internal/core/event"
	"larder/internal/core/id"
	"larder/internal/domain/finance"
	"larder/internal/infrastructure/storage/memory"
)

type recordingCache struct {
	err   error
	calls [][]string
}

func (c *recordingCache) Invalidate(ctx context.Context, owner id.ID, keys ...string) error {
	c.calls = append(c.calls, keys)
	return c.err
}

type failureCounter map[string]int

func (f failureCounter) SyncFailure(op string) { f[op]++ }

func newSync(store *memory.Store, cache finance.CacheInvalidator, metrics finance.SyncMetrics) *finance.Synchronizer {
	return finance.NewSynchronizer(finance.SynchronizerConfig{
		Repo:      store.Finance(),
		TxManager: store,
		Events:    store.Outbox(),
		Cache:     cache,
		Metrics:   metrics,
	})
}

func purchaseJob(owner id.ID) finance.Job {
	return finance.Job{
		Op:         finance.OpPurchaseCompleted,
		OwnerID:    owner,
		RelatedID:  id.New(),
		Amount:     decimal.RequireFromString("32500"),
		Label:      "Acme",
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestOnCompleted_BooksOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache := &recordingCache{}
	s := newSync(store, cache, nil)
	job := purchaseJob(id.New())

	require.NoError(t, s.OnCompleted(ctx, job))
	require.NoError(t, s.OnCompleted(ctx, job))

	rows, err := store.Finance().ListByRelated(ctx, job.OwnerID, job.RelatedID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, finance.TypeExpense, rows[0].Type)
	assert.Equal(t, finance.CategoryRawMaterialPurchase, rows[0].Category)
	assert.True(t, rows[0].Amount.Equal(job.Amount))
	assert.Equal(t, "Acme", rows[0].Description)
	assert.Equal(t, job.OccurredAt, rows[0].OccurredAt)

	assert.Len(t, store.Outbox().Events(event.ExpenseBooked), 1)
	require.Len(t, cache.calls, 2)
	assert.Equal(t, finance.DependentKeys, cache.calls[0])
}

func TestOnReverted_RemovesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSync(store, nil, nil)
	job := purchaseJob(id.New())

	require.NoError(t, s.OnCompleted(ctx, job))
	require.NoError(t, s.OnReverted(ctx, job.RelatedID, job.OwnerID))
	require.NoError(t, s.OnReverted(ctx, job.RelatedID, job.OwnerID))

	rows, err := store.Finance().ListByRelated(ctx, job.OwnerID, job.RelatedID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Len(t, store.Outbox().Events(event.ExpenseRemoved), 1)
}

func TestOnReverted_NeverBookedIsNoop(t *testing.T) {
	store := memory.New()
	s := newSync(store, nil, nil)
	assert.NoError(t, s.OnReverted(context.Background(), id.New(), id.New()))
	assert.Empty(t, store.Outbox().Events(""))
}

func TestOnOrderCompleted_BooksIncome(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newSync(store, nil, nil)
	owner, orderID := id.New(), id.New()

	job := finance.Job{OwnerID: owner, RelatedID: orderID, Amount: decimal.NewFromInt(42)}
	require.NoError(t, s.OnOrderCompleted(ctx, job))

	rows, err := store.Finance().ListByRelated(ctx, owner, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, finance.TypeIncome, rows[0].Type)
	assert.Equal(t, finance.CategoryOrderRevenue, rows[0].Category)

	// removing expenses for the same related id leaves income alone
	require.NoError(t, s.OnReverted(ctx, orderID, owner))
	rows, _ = store.Finance().ListByRelated(ctx, owner, orderID)
	assert.Len(t, rows, 1)

	require.NoError(t, s.OnOrderReverted(ctx, orderID, owner))
	rows, _ = store.Finance().ListByRelated(ctx, owner, orderID)
	assert.Empty(t, rows)
}

func TestInvalidationFailureIsNotReturned(t *testing.T) {
	store := memory.New()
	cache := &recordingCache{err: errors.New("redis unavailable")}
	s := newSync(store, cache, nil)

	assert.NoError(t, s.OnCompleted(context.Background(), purchaseJob(id.New())))
	assert.Len(t, cache.calls, 1)
}

func TestRunOrQueue_QueuesRetry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	failures := failureCounter{}
	s := newSync(store, nil, failures)
	job := purchaseJob(id.New())

	store.FailNext("Finance.InsertIfAbsent", errors.New("deadlock detected"))
	warning := s.RunOrQueue(ctx, job)
	require.NotNil(t, warning)
	assert.Equal(t, apperror.CodeSyncCleanupFailure, warning.Code)
	assert.Equal(t, true, warning.Details["queued"])
	assert.Equal(t, 1, failures[string(finance.OpPurchaseCompleted)])

	queued := store.Outbox().Events(event.SyncRetry)
	require.Len(t, queued, 1)
	assert.Empty(t, store.Outbox().Events(event.ExpenseBooked), "failed booking published nothing")

	// the worker replays the job
	payload, err := json.Marshal(queued[0].Payload)
	require.NoError(t, err)
	replayed, err := finance.DecodeJob(payload)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, replayed))

	rows, err := store.Finance().ListByRelated(ctx, job.OwnerID, job.RelatedID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunOrQueue_QueueFailure(t *testing.T) {
	store := memory.New()
	s := newSync(store, nil, nil)

	store.FailNext("Finance.InsertIfAbsent", errors.New("deadlock detected"))
	store.FailNext("Outbox.Publish", errors.New("outbox full"))
	warning := s.RunOrQueue(context.Background(), purchaseJob(id.New()))
	require.NotNil(t, warning)
	assert.Equal(t, false, warning.Details["queued"])
	assert.Empty(t, store.Outbox().Events(""))
}

func TestRunOrQueue_SuccessReturnsNil(t *testing.T) {
	store := memory.New()
	s := newSync(store, nil, nil)
	assert.Nil(t, s.RunOrQueue(context.Background(), purchaseJob(id.New())))
}

func TestApply_UnknownOp(t *testing.T) {
	s := newSync(memory.New(), nil, nil)
	err := s.Apply(context.Background(), finance.Job{Op: "refund", OwnerID: id.New(), RelatedID: id.New()})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestDecodeJob_RejectsIncomplete(t *testing.T) {
	_, err := finance.DecodeJob([]byte(`{"op":"purchase_completed"}`))
	assert.Error(t, err)

	_, err = finance.DecodeJob([]byte(`not json`))
	assert.Error(t, err)
}

type bookedSet map[id.ID]bool

func (b bookedSet) Booked(ctx context.Context, owner, relatedID id.ID) (bool, error) {
	return b[relatedID], nil
}

type brokenSource struct{}

func (brokenSource) Booked(context.Context, id.ID, id.ID) (bool, error) {
	return false, errors.New("db down")
}

func newReplaySync(store *memory.Store, purchases, orders finance.SourceState) *finance.Synchronizer {
	return finance.NewSynchronizer(finance.SynchronizerConfig{
		Repo:      store.Finance(),
		TxManager: store,
		Events:    store.Outbox(),
		Purchases: purchases,
		Orders:    orders,
	})
}

func TestReplay_FollowsSourceState(t *testing.T) {
	tests := []struct {
		name        string
		op          finance.Op
		booked      bool
		preBooked   bool
		wantApplied bool
		wantRows    int
	}{
		{"purchase completion still applied", finance.OpPurchaseCompleted, true, false, true, 1},
		{"purchase completion after reversal", finance.OpPurchaseCompleted, false, false, false, 0},
		{"purchase reversal still reverted", finance.OpPurchaseReverted, false, true, true, 0},
		{"purchase reversal after re-completion", finance.OpPurchaseReverted, true, true, false, 1},
		{"order completion still completed", finance.OpOrderCompleted, true, false, true, 1},
		{"order completion after reversal", finance.OpOrderCompleted, false, false, false, 0},
		{"order reversal still reverted", finance.OpOrderReverted, false, true, true, 0},
		{"order reversal after re-completion", finance.OpOrderReverted, true, true, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			owner, related := id.New(), id.New()
			state := bookedSet{related: tt.booked}
			s := newReplaySync(store, state, state)

			job := finance.Job{Op: tt.op, OwnerID: owner, RelatedID: related, Amount: decimal.NewFromInt(70)}
			if tt.preBooked {
				seed := job
				if tt.op == finance.OpPurchaseReverted {
					require.NoError(t, s.OnCompleted(ctx, seed))
				} else {
					require.NoError(t, s.OnOrderCompleted(ctx, seed))
				}
			}

			applied, err := s.Replay(ctx, job)
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, applied)

			rows, err := store.Finance().ListByRelated(ctx, owner, related)
			require.NoError(t, err)
			assert.Len(t, rows, tt.wantRows)
		})
	}
}

func TestReplay_SourceErrorIsReturned(t *testing.T) {
	store := memory.New()
	s := newReplaySync(store, brokenSource{}, nil)

	applied, err := s.Replay(context.Background(), purchaseJob(id.New()))

	require.Error(t, err)
	assert.False(t, applied)
	assert.Contains(t, err.Error(), "db down")
}

func TestReplay_WithoutSourceStateApplies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := newReplaySync(store, nil, nil)
	job := purchaseJob(id.New())

	applied, err := s.Replay(ctx, job)
	require.NoError(t, err)
	assert.True(t, applied)

	rows, err := store.Finance().ListByRelated(ctx, job.OwnerID, job.RelatedID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
