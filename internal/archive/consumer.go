package archive

import (
	"github.com/tphakala/biosig-go/internal/events"
)

// Consumer queues every closed segment for upload
type Consumer struct {
	archiver *Archiver
}

// NewConsumer returns an event consumer feeding a
func NewConsumer(a *Archiver) *Consumer {
	return &Consumer{archiver: a}
}

// Name returns the consumer name
func (c *Consumer) Name() string { return "archive" }

// ProcessEvent enqueues segment events and ignores the rest. A full queue is
// counted by the archiver, not reported as a consumer error.
func (c *Consumer) ProcessEvent(event events.Event) error {
	if seg, ok := event.(events.SegmentEvent); ok && seg.Path != "" {
		c.archiver.Enqueue(seg.Path)
	}
	return nil
}
