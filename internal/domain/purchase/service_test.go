package purchase_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/apperror"
	"larder/internal/core/event"
	"larder/internal/core/id"
	"larder/internal/domain/finance"
	"larder/internal/domain/material"
	"larder/internal/domain/purchase"
	"larder/internal/domain/stock"
	"larder/internal/infrastructure/storage/memory"
)

type gateMetrics struct {
	applied  atomic.Int64
	reversed atomic.Int64
}

func (m *gateMetrics) PurchaseApplied()                        { m.applied.Add(1) }
func (m *gateMetrics) PurchaseReversed()                       { m.reversed.Add(1) }
func (m *gateMetrics) ObserveTransition(string, time.Duration) {}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	owner   id.ID
	store   *memory.Store
	costing *purchase.CostingEngine
	svc     *purchase.Service
	sync    *finance.Synchronizer
	metrics *gateMetrics
}

func newFixture(t *testing.T, opts ...material.ResolverOption) *fixture {
	t.Helper()
	store := memory.New()
	register := stock.NewService(store.Stock(), nil)
	costing := purchase.NewCostingEngine(store.Materials(), register)
	sync := finance.NewSynchronizer(finance.SynchronizerConfig{
		Repo:      store.Finance(),
		TxManager: store,
		Events:    store.Outbox(),
		Purchases: purchase.NewBookingState(store.Purchases()),
	})
	metrics := &gateMetrics{}
	svc := purchase.NewService(purchase.ServiceConfig{
		Repo:      store.Purchases(),
		TxManager: store,
		Resolver:  material.NewResolver(store.Materials(), opts...),
		Costing:   costing,
		Finance:   sync,
		Events:    store.Outbox(),
		Metrics:   metrics,
	})
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		owner:   id.New(),
		store:   store,
		costing: costing,
		svc:     svc,
		sync:    sync,
		metrics: metrics,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func refLine(rid id.ID, name, qty, unit, price string) purchase.LineItem {
	return purchase.LineItem{RawMaterialID: &rid, Name: name, Quantity: dec(qty), Unit: unit, UnitPrice: dec(price)}
}

func nameLine(name, qty, unit, price string) purchase.LineItem {
	return purchase.LineItem{Name: name, Quantity: dec(qty), Unit: unit, UnitPrice: dec(price)}
}

func (f *fixture) seedMaterial(name, unit, qty, wac string) *material.RawMaterial {
	m := material.NewRawMaterial(f.owner, name, unit, dec(wac), "")
	m.Quantity = dec(qty)
	f.store.Materials().Seed(m)
	return m
}

func (f *fixture) createPurchase(supplier string, lines ...purchase.LineItem) *purchase.Purchase {
	f.t.Helper()
	p := purchase.NewPurchase(f.owner, supplier, lines)
	require.NoError(f.t, f.svc.Create(f.ctx, p))
	return p
}

func (f *fixture) load(purchaseID id.ID) *purchase.Purchase {
	f.t.Helper()
	p, err := f.store.Purchases().GetByID(f.ctx, f.owner, purchaseID)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) material(rid id.ID) *material.RawMaterial {
	f.t.Helper()
	m, err := f.store.Materials().GetByID(f.ctx, f.owner, rid)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) apply(p *purchase.Purchase) purchase.ApplyReport {
	f.t.Helper()
	var report purchase.ApplyReport
	err := f.store.RunInTransaction(f.ctx, func(ctx context.Context) error {
		var err error
		report, err = f.costing.ApplyPurchaseToWarehouse(ctx, f.load(p.ID))
		return err
	})
	require.NoError(f.t, err)
	return report
}

func (f *fixture) consume(rid id.ID, qty string) {
	f.t.Helper()
	m := f.material(rid)
	require.NoError(f.t, m.Deduct(dec(qty)))
	require.NoError(f.t, f.store.Materials().UpdateStock(f.ctx, m))
}

func (f *fixture) expenses(purchaseID id.ID) []finance.Transaction {
	f.t.Helper()
	rows, err := f.store.Finance().ListByRelated(f.ctx, f.owner, purchaseID)
	require.NoError(f.t, err)
	return rows
}

func TestTransition_CompleteResolvesAppliesAndBooks(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")

	p := f.createPurchase("Acme",
		nameLine("sugar", "10", "kg", "2000"),
		nameLine("Cardamom", "200", "g", "0.5"),
	)

	res, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.Blocked())
	assert.Nil(t, res.Warning)
	assert.Equal(t, purchase.StatusCompleted, res.Purchase.Status)
	require.Len(t, res.Resolution, 2)
	assert.Equal(t, material.MatchName, res.Resolution[0].MatchedBy)
	assert.Equal(t, material.MatchCreated, res.Resolution[1].MatchedBy)

	stored := f.load(p.ID)
	assert.Equal(t, purchase.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.AppliedAt)
	assert.Empty(t, stored.UnresolvedLines())
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("10")))

	expenses := f.expenses(p.ID)
	require.Len(t, expenses, 1)
	assert.Equal(t, finance.TypeExpense, expenses[0].Type)
	assert.Equal(t, finance.CategoryRawMaterialPurchase, expenses[0].Category)
	assert.True(t, expenses[0].Amount.Equal(dec("20100")))

	assert.Len(t, f.store.Outbox().Events(event.PurchaseCompleted), 1)
	assert.Len(t, f.store.Outbox().Events(event.ExpenseBooked), 1)
	assert.Equal(t, int64(1), f.metrics.applied.Load())
}

func TestTransition_CompletedTwiceAppliesOnce(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	first, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("10")))
	assert.Len(t, f.expenses(p.ID), 1)
	assert.Equal(t, int64(1), f.metrics.applied.Load())
}

func TestTransition_UnresolvedLineBlocksCompletion(t *testing.T) {
	f := newFixture(t, material.WithMaxAttempts(1))
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme",
		nameLine("Sugar", "1", "kg", "2"),
		nameLine("Saffron", "5", "g", "9"),
	)

	f.store.FailNext("Materials.InsertIfAbsent", errors.New("connection reset"))
	res, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, res.Blocked())
	assert.False(t, res.Applied)

	unresolved := material.Unresolved(res.Resolution)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "Saffron", unresolved[0].Name)
	assert.Equal(t, apperror.CodeResolutionExhausted, unresolved[0].Err.Code)

	stored := f.load(p.ID)
	assert.Equal(t, purchase.StatusPending, stored.Status)
	assert.Equal(t, []int{2}, stored.UnresolvedLines(), "resolved refs are persisted")
	assert.True(t, f.material(sugar.ID).Quantity.IsZero())
	assert.Empty(t, f.expenses(p.ID))

	// The fault was transient; retrying completes.
	res, err = f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("1")))
}

func TestTransition_RevertTakesStockAndExpenseBack(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	_, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)

	res, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, res.Reversed)
	assert.Nil(t, res.Warning)

	stored := f.load(p.ID)
	assert.Equal(t, purchase.StatusCancelled, stored.Status)
	assert.Nil(t, stored.AppliedAt)
	assert.True(t, f.material(sugar.ID).Quantity.IsZero())
	assert.Empty(t, f.expenses(p.ID))
	assert.Len(t, f.store.Outbox().Events(event.ExpenseRemoved), 1)

	// cancelled -> completed applies again
	res, err = f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("10")))
	assert.Len(t, f.expenses(p.ID), 1)
}

func TestTransition_RevertRefusedWhenConsumed(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	_, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	f.consume(sugar.ID, "9")

	_, err = f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusPending)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))

	assert.Equal(t, purchase.StatusCompleted, f.load(p.ID).Status)
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("1")))
	assert.Len(t, f.expenses(p.ID), 1)
}

func TestTransition_PlainStatusChange(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	res, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.False(t, res.Reversed)
	assert.Equal(t, purchase.StatusCancelled, f.load(p.ID).Status)
	assert.True(t, f.material(sugar.ID).Quantity.IsZero())
}

func TestTransition_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(f.ctx, f.owner, id.New(), purchase.Status("shipped"))
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestTransition_SyncFailureIsWarningAndQueued(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	f.store.FailNext("Finance.InsertIfAbsent", errors.New("finance table locked"))
	res, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, res.Applied, "stock change stays committed")
	require.NotNil(t, res.Warning)
	assert.Equal(t, apperror.CodeSyncCleanupFailure, res.Warning.Code)
	assert.Equal(t, true, res.Warning.Details["queued"])

	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("10")))
	assert.Empty(t, f.expenses(p.ID))

	queued := f.store.Outbox().Events(event.SyncRetry)
	require.Len(t, queued, 1)
	job, ok := queued[0].Payload.(finance.Job)
	require.True(t, ok)
	assert.Equal(t, finance.OpPurchaseCompleted, job.Op)
	assert.Equal(t, p.ID, job.RelatedID)
}

func TestDelete_CompletedPurchaseIsReversed(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "2", "1")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	_, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)

	res, err := f.svc.Delete(f.ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.True(t, res.Reversed)
	assert.Nil(t, res.Warning)

	_, err = f.store.Purchases().GetByID(f.ctx, f.owner, p.ID)
	assert.True(t, apperror.IsNotFound(err))
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("2")))
	assert.Empty(t, f.expenses(p.ID))
	assert.Equal(t, int64(1), f.metrics.reversed.Load())
}

func TestDelete_PendingPurchaseTouchesNothing(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "2", "1")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	res, err := f.svc.Delete(f.ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.False(t, res.Reversed)
	assert.True(t, f.material(sugar.ID).Quantity.Equal(dec("2")))
}

func TestTransition_OtherOwnerCannotSeePurchase(t *testing.T) {
	f := newFixture(t)
	p := f.createPurchase("Acme", nameLine("Sugar", "1", "kg", "2"))

	_, err := f.svc.Transition(f.ctx, id.New(), p.ID, purchase.StatusCompleted)
	assert.True(t, apperror.IsNotFound(err))
}

func (f *fixture) queuedJob() finance.Job {
	f.t.Helper()
	queued := f.store.Outbox().Events(event.SyncRetry)
	require.NotEmpty(f.t, queued)
	job, ok := queued[len(queued)-1].Payload.(finance.Job)
	require.True(f.t, ok)
	return job
}

func TestQueuedCompletion_DroppedAfterDelete(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	f.store.FailNext("Finance.InsertIfAbsent", errors.New("finance table locked"))
	_, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	job := f.queuedJob()

	_, err = f.svc.Delete(f.ctx, f.owner, p.ID)
	require.NoError(t, err)

	applied, err := f.sync.Replay(f.ctx, job)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, f.expenses(p.ID))
}

func TestQueuedCompletion_DroppedAfterRevert(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	f.store.FailNext("Finance.InsertIfAbsent", errors.New("finance table locked"))
	_, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)
	job := f.queuedJob()

	_, err = f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCancelled)
	require.NoError(t, err)

	applied, err := f.sync.Replay(f.ctx, job)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, f.expenses(p.ID))
}

func TestQueuedReversal_DroppedAfterRecompletion(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	_, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)

	f.store.FailNext("Finance.DeleteByRelated", errors.New("finance table locked"))
	_, err = f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusPending)
	require.NoError(t, err)
	job := f.queuedJob()
	assert.Equal(t, finance.OpPurchaseReverted, job.Op)

	_, err = f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)

	applied, err := f.sync.Replay(f.ctx, job)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, f.expenses(p.ID), 1)
}

func TestQueuedCompletion_AppliedWhileStillCompleted(t *testing.T) {
	f := newFixture(t)
	sugar := f.seedMaterial("Sugar", "kg", "0", "0")
	p := f.createPurchase("Acme", refLine(sugar.ID, "Sugar", "10", "kg", "2"))

	f.store.FailNext("Finance.InsertIfAbsent", errors.New("finance table locked"))
	_, err := f.svc.Transition(f.ctx, f.owner, p.ID, purchase.StatusCompleted)
	require.NoError(t, err)

	applied, err := f.sync.Replay(f.ctx, f.queuedJob())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Len(t, f.expenses(p.ID), 1)
}
