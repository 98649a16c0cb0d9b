package acquisition

import (
	"time"
)

// Metrics receives pipeline measurements. The Prometheus implementation lives
// in internal/observability/metrics.
type Metrics interface {
	RecordBlockProduced()
	RecordBlockConsumed(latency time.Duration)
	RecordBlockPublished()
	RecordReleasedPop()
	RecordRotation()
	RecordSegmentOpened()
	RecordRecorderError(operation string)
	RecordProducerFailure(kind string)
	SetBufferDepth(depth int)
	SetSessionState(state string)
}

type nopMetrics struct{}

func (nopMetrics) RecordBlockProduced()              {}
func (nopMetrics) RecordBlockConsumed(time.Duration) {}
func (nopMetrics) RecordBlockPublished()             {}
func (nopMetrics) RecordReleasedPop()                {}
func (nopMetrics) RecordRotation()                   {}
func (nopMetrics) RecordSegmentOpened()              {}
func (nopMetrics) RecordRecorderError(string)        {}
func (nopMetrics) RecordProducerFailure(string)      {}
func (nopMetrics) SetBufferDepth(int)                {}
func (nopMetrics) SetSessionState(string)            {}

// meteredQueue counts produced blocks on their way into the buffer
type meteredQueue struct {
	buf     *SampleBuffer
	metrics Metrics
}

func (q meteredQueue) Push(block *SampleBlock) bool {
	if !q.buf.Push(block) {
		return false
	}
	q.metrics.RecordBlockProduced()
	q.metrics.SetBufferDepth(q.buf.Len())
	return true
}

func (q meteredQueue) Interrupt() {
	q.buf.Interrupt()
}
