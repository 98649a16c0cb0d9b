package catalog

import (
	"context"
	"time"

	"github.com/tphakala/biosig-go/internal/events"
)

// writeTimeout bounds each catalog write made from the event bus
const writeTimeout = 5 * time.Second

// Consumer writes bus events into the store
type Consumer struct {
	store *Store
}

// NewConsumer returns an events.EventConsumer for store
func NewConsumer(store *Store) *Consumer {
	return &Consumer{store: store}
}

// Name implements events.EventConsumer
func (c *Consumer) Name() string { return "catalog" }

// ProcessEvent implements events.EventConsumer. Failure events are ignored.
func (c *Consumer) ProcessEvent(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch ev := event.(type) {
	case events.SessionEvent:
		if ev.EventKind == events.KindSessionStopped {
			return c.store.SessionStopped(ctx, ev)
		}
		return c.store.SessionStarted(ctx, ev)
	case events.SegmentEvent:
		return c.store.AddSegment(ctx, ev)
	default:
		return nil
	}
}
