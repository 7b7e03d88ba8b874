package memory

import (
	"context"

	"larder/internal/core/event"
)

// Outbox implements event.Publisher. Events written inside a failed
// transaction are discarded with it.
type Outbox struct {
	s *Store
}

var _ event.Publisher = (*Outbox)(nil)

func (o *Outbox) Publish(ctx context.Context, e event.DomainEvent) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if err := o.s.fault("Outbox.Publish"); err != nil {
		return err
	}
	o.s.events = append(o.s.events, e)
	return nil
}

// Events returns published events of the given type, or all when eventType
// is empty.
func (o *Outbox) Events(eventType string) []event.DomainEvent {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	var out []event.DomainEvent
	for _, e := range o.s.events {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
