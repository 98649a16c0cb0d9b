package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/biosig-go/internal/events"
)

// Consumer turns failure events into alerts. Session and segment events are
// ignored.
type Consumer struct {
	notifier *Notifier
	node     string
}

// NewConsumer returns an event consumer sending through n. node names the
// acquisition host in alert titles.
func NewConsumer(n *Notifier, node string) *Consumer {
	return &Consumer{notifier: n, node: node}
}

// Name returns the consumer name
func (c *Consumer) Name() string { return "notification" }

// ProcessEvent sends an alert for device and recording failures
func (c *Consumer) ProcessEvent(event events.Event) error {
	failure, ok := event.(events.FailureEvent)
	if !ok {
		return nil
	}
	msg, ok := c.format(failure)
	if !ok {
		return nil
	}
	return c.notifier.Send(context.Background(), msg)
}

func (c *Consumer) format(e events.FailureEvent) (Message, bool) {
	var what string
	switch e.EventKind {
	case events.KindDeviceFailure:
		what = "Device failure"
	case events.KindRecordingFailure:
		what = "Recording failure"
	default:
		return Message{}, false
	}

	title := what
	if c.node != "" {
		title = fmt.Sprintf("%s on %s", what, c.node)
	}
	body := e.Message()
	if e.MeasurementID != "" {
		body = fmt.Sprintf("%s\nmeasurement: %s", body, e.MeasurementID)
	}
	if e.Component != "" {
		body = fmt.Sprintf("%s\ncomponent: %s", body, e.Component)
	}
	if !e.At.IsZero() {
		body = fmt.Sprintf("%s\nat: %s", body, e.At.Format(time.RFC3339))
	}
	return Message{Title: title, Body: body}, true
}
