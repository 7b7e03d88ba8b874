package broker

import (
	"context"
	"fmt"

	"larder/internal/core/event"
	"larder/internal/domain/finance"
	"larder/internal/infrastructure/storage/postgres"
	"larder/pkg/logger"
)

// SyncApplier replays a queued financial sync job.
type SyncApplier interface {
	Replay(ctx context.Context, job finance.Job) (applied bool, err error)
}

// Dispatcher is the outbox handler of the worker.
// finance.sync_retry messages go back into the synchronizer; everything
// else is published to the broker.
type Dispatcher struct {
	sync      SyncApplier
	publisher Publisher
}

var _ postgres.OutboxHandler = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. A nil publisher marks fan-out
// events as delivered without sending them.
func NewDispatcher(sync SyncApplier, publisher Publisher) *Dispatcher {
	return &Dispatcher{sync: sync, publisher: publisher}
}

// Handle implements postgres.OutboxHandler.
func (d *Dispatcher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	if msg.EventType == event.SyncRetry {
		job, err := finance.DecodeJob(msg.Payload)
		if err != nil {
			return err
		}
		applied, err := d.sync.Replay(ctx, job)
		if err != nil {
			return fmt.Errorf("retry %s for %s: %w", job.Op, job.RelatedID, err)
		}
		if !applied {
			return nil
		}
		logger.Info(ctx, "financial sync retried", "op", job.Op, "related_id", job.RelatedID, "attempt", msg.RetryCount+1)
		return nil
	}

	if d.publisher == nil {
		logger.Debug(ctx, "no broker configured, event dropped", "event_type", msg.EventType, "id", msg.ID)
		return nil
	}
	return d.publisher.Publish(ctx, ToMessage(msg))
}

// ToMessage maps an outbox row to a broker message.
func ToMessage(msg *postgres.OutboxMessage) Message {
	return Message{
		ID:      msg.ID.String(),
		Subject: Subject(msg.EventType),
		Headers: map[string]string{
			HeaderOwner:         msg.OwnerID.String(),
			HeaderAggregateType: msg.AggregateType,
			HeaderAggregateID:   msg.AggregateID.String(),
			HeaderEventType:     msg.EventType,
		},
		Data: msg.Payload,
	}
}
