package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larder/internal/core/event"
	"larder/internal/core/id"
	"larder/internal/domain/finance"
	"larder/internal/domain/purchase"
	"larder/internal/infrastructure/storage/memory"
	"larder/internal/infrastructure/storage/postgres"
)

type fakePublisher struct {
	err  error
	sent []Message
}

func (f *fakePublisher) Publish(ctx context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeSync struct {
	err   error
	stale bool
	jobs  []finance.Job
}

func (f *fakeSync) Replay(ctx context.Context, job finance.Job) (bool, error) {
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return false, f.err
	}
	return !f.stale, nil
}

func outboxMsg(t *testing.T, eventType string, payload any) *postgres.OutboxMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &postgres.OutboxMessage{
		ID:            id.New(),
		OwnerID:       id.New(),
		AggregateType: "purchase",
		AggregateID:   id.New(),
		EventType:     eventType,
		Payload:       data,
	}
}

func TestDispatcher_PublishesDomainEvents(t *testing.T) {
	pub := &fakePublisher{}
	sync := &fakeSync{}
	d := NewDispatcher(sync, pub)
	msg := outboxMsg(t, event.PurchaseCompleted, map[string]string{"supplier": "Acme"})

	require.NoError(t, d.Handle(context.Background(), msg))

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "larder.purchase.completed", sent.Subject)
	assert.Equal(t, msg.ID.String(), sent.ID, "outbox id doubles as dedup id")
	assert.Equal(t, msg.OwnerID.String(), sent.Headers[HeaderOwner])
	assert.Equal(t, msg.AggregateID.String(), sent.Headers[HeaderAggregateID])
	assert.JSONEq(t, `{"supplier":"Acme"}`, string(sent.Data))
	assert.Empty(t, sync.jobs)
}

func TestDispatcher_RoutesSyncRetry(t *testing.T) {
	pub := &fakePublisher{}
	sync := &fakeSync{}
	d := NewDispatcher(sync, pub)
	job := finance.Job{
		Op:        finance.OpPurchaseCompleted,
		OwnerID:   id.New(),
		RelatedID: id.New(),
		Amount:    decimal.NewFromInt(100),
	}

	require.NoError(t, d.Handle(context.Background(), outboxMsg(t, event.SyncRetry, job)))

	require.Len(t, sync.jobs, 1)
	assert.Equal(t, job.RelatedID, sync.jobs[0].RelatedID)
	assert.True(t, sync.jobs[0].Amount.Equal(job.Amount))
	assert.Empty(t, pub.sent, "retries are not fanned out")
}

func TestDispatcher_SyncFailureIsReturned(t *testing.T) {
	sync := &fakeSync{err: errors.New("db down")}
	d := NewDispatcher(sync, nil)
	job := finance.Job{Op: finance.OpOrderReverted, OwnerID: id.New(), RelatedID: id.New()}

	err := d.Handle(context.Background(), outboxMsg(t, event.SyncRetry, job))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestDispatcher_MalformedRetryRejected(t *testing.T) {
	sync := &fakeSync{}
	d := NewDispatcher(sync, nil)

	err := d.Handle(context.Background(), outboxMsg(t, event.SyncRetry, map[string]string{"op": ""}))

	require.Error(t, err)
	assert.Empty(t, sync.jobs)
}

func TestDispatcher_NoPublisherAcksEvents(t *testing.T) {
	d := NewDispatcher(&fakeSync{}, nil)
	assert.NoError(t, d.Handle(context.Background(), outboxMsg(t, event.OrderCompleted, map[string]int{"n": 1})))
}

func TestDispatcher_PublishErrorPropagates(t *testing.T) {
	d := NewDispatcher(&fakeSync{}, &fakePublisher{err: errors.New("no ack")})
	err := d.Handle(context.Background(), outboxMsg(t, event.IncomeBooked, 1))
	assert.Error(t, err)
}

func TestDispatcher_StaleRetryIsAcked(t *testing.T) {
	sync := &fakeSync{stale: true}
	d := NewDispatcher(sync, nil)
	job := finance.Job{Op: finance.OpPurchaseCompleted, OwnerID: id.New(), RelatedID: id.New(), Amount: decimal.NewFromInt(5)}

	assert.NoError(t, d.Handle(context.Background(), outboxMsg(t, event.SyncRetry, job)))
	assert.Len(t, sync.jobs, 1)
}

func TestDispatcher_RetryForDeletedPurchaseBooksNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sync := finance.NewSynchronizer(finance.SynchronizerConfig{
		Repo:      store.Finance(),
		TxManager: store,
		Events:    store.Outbox(),
		Purchases: purchase.NewBookingState(store.Purchases()),
	})
	d := NewDispatcher(sync, nil)
	job := finance.Job{
		Op:        finance.OpPurchaseCompleted,
		OwnerID:   id.New(),
		RelatedID: id.New(),
		Amount:    decimal.NewFromInt(100),
	}

	require.NoError(t, d.Handle(ctx, outboxMsg(t, event.SyncRetry, job)))

	booked, err := store.Finance().ListByRelated(ctx, job.OwnerID, job.RelatedID)
	require.NoError(t, err)
	assert.Empty(t, booked)
}
