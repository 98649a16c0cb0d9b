// Package events provides an asynchronous event bus that decouples the
// acquisition pipeline from slow consumers such as the catalog database,
// the segment archive and failure notifications.
package events

import (
	"time"
)

// Kind identifies an event type
type Kind string

const (
	KindSessionStarted   Kind = "session.started"
	KindSessionStopped   Kind = "session.stopped"
	KindSegmentClosed    Kind = "segment.closed"
	KindDeviceFailure    Kind = "device.failure"
	KindRecordingFailure Kind = "recording.failure"
)

// Event is published on the bus. Implementations must be safe to read from
// several goroutines once published.
type Event interface {
	// Kind returns the event type
	Kind() Kind

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// SessionEvent reports the start or end of an acquisition session
type SessionEvent struct {
	EventKind       Kind
	MeasurementID   string
	DeviceIDs       []string
	Labels          []string
	Channels        int
	SampleRate      int
	SamplesPerBlock int
	StartedAt       time.Time
	StoppedAt       time.Time // zero for KindSessionStarted
	BlocksConsumed  uint64
}

func (e SessionEvent) Kind() Kind { return e.EventKind }

func (e SessionEvent) Timestamp() time.Time {
	if e.EventKind == KindSessionStopped {
		return e.StoppedAt
	}
	return e.StartedAt
}

// SegmentEvent reports a finalized recording segment
type SegmentEvent struct {
	MeasurementID string
	Path          string
	Number        int           // 0 for the first segment of a chain
	Samples       int64         // sample columns written
	Duration      time.Duration // Samples / sample rate
	Next          string        // file name of the successor, empty for the last segment
	OpenedAt      time.Time
	ClosedAt      time.Time
}

func (e SegmentEvent) Kind() Kind { return KindSegmentClosed }

func (e SegmentEvent) Timestamp() time.Time { return e.ClosedAt }

// FailureEvent reports a contained device or recorder failure
type FailureEvent struct {
	EventKind     Kind
	Component     string
	MeasurementID string
	Err           error
	At            time.Time
}

func (e FailureEvent) Kind() Kind { return e.EventKind }

func (e FailureEvent) Timestamp() time.Time { return e.At }

// Message returns the failure text, or the kind when no error is attached
func (e FailureEvent) Message() string {
	if e.Err == nil {
		return string(e.EventKind)
	}
	return e.Err.Error()
}

// EventConsumer processes events delivered by the bus
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
}
