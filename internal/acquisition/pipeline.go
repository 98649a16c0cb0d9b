package acquisition

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/biosig-go/internal/events"
	"github.com/tphakala/biosig-go/internal/logger"
)

// DefaultScaleFactor converts amplifier µV to V
const DefaultScaleFactor = 1e-6

// defaultIdleInterval bounds how long the consumer sleeps while the producer is down
const defaultIdleInterval = 50 * time.Millisecond

// sessionStats is written by the consumer and read by Status
type sessionStats struct {
	blocksConsumed atomic.Uint64
	segments       atomic.Int64
	recording      atomic.Bool

	mu          sync.Mutex
	segment     string
	recorderErr error
}

func (s *sessionStats) setSegment(path string) {
	s.mu.Lock()
	s.segment = path
	s.mu.Unlock()
}

func (s *sessionStats) setRecorderErr(err error) {
	s.mu.Lock()
	s.recorderErr = err
	s.mu.Unlock()
}

func (s *sessionStats) snapshot() (segment string, recorderErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segment, s.recorderErr
}

// consumer drains the buffer on its own goroutine. Fields below the marker
// are touched only by that goroutine, or by the controller before the
// goroutine starts and after it has been joined.
type consumer struct {
	producer Producer
	buf      *SampleBuffer
	sink     Sink
	desc     *Descriptor
	scale    float64
	idle     time.Duration
	metrics  Metrics
	log      logger.Logger

	active    *atomic.Bool
	done      <-chan struct{}
	recordReq *atomic.Bool
	stats     *sessionStats

	rec      Recorder
	nextPath PathFunc
	splitMs  int

	// consumer goroutine state
	recording    bool
	accumulated  int64 // sample columns since the last rotation
	rotationDue  bool
	producerDown bool
}

// run loops until the controller clears the active flag
func (c *consumer) run() {
	for c.active.Load() {
		c.syncRecording()

		if !c.producer.IsRunning() {
			c.producerStopped()
			c.idleWait()
			continue
		}

		block, ok := c.buf.Pop()
		if !ok {
			// Released or interrupted: re-check the loop condition
			c.metrics.RecordReleasedPop()
			continue
		}
		c.consume(block)
	}
}

// consume scales and publishes one block and feeds the recorder
func (c *consumer) consume(block *SampleBlock) {
	c.sink.Publish(block.Scaled(c.scale))
	c.metrics.RecordBlockPublished()

	if c.recording {
		c.record(block)
	} else {
		c.accumulated = 0
		c.rotationDue = false
	}
	c.stats.blocksConsumed.Add(1)

	if !block.Timestamp.IsZero() {
		c.metrics.RecordBlockConsumed(time.Since(block.Timestamp))
	}
	c.metrics.SetBufferDepth(c.buf.Len())
}

// record writes the raw block, performing a pending rotation first
func (c *consumer) record(block *SampleBlock) {
	if c.rotationDue {
		if err := c.rec.Rotate(); err != nil {
			c.recorderFailed(err, "rotate")
			return
		}
		c.rotationDue = false
		c.stats.setSegment(c.rec.CurrentPath())
		c.stats.segments.Add(1)
		c.metrics.RecordRotation()
		c.metrics.RecordSegmentOpened()
		c.log.Debug("segment rotated", logger.String("path", c.rec.CurrentPath()))
	}

	n, err := c.rec.WriteBlock(block)
	if err != nil {
		c.recorderFailed(err, "write")
		return
	}

	c.accumulated += int64(n)
	// accumulated/rate*1000 > splitMs in integer arithmetic
	if c.splitMs > 0 && c.accumulated*1000 > int64(c.splitMs)*int64(c.desc.SampleRate) {
		c.rotationDue = true
		c.accumulated = 0
	}
}

// syncRecording applies a recording toggle requested through the controller
func (c *consumer) syncRecording() {
	want := c.recordReq.Load()
	if want == c.recording {
		return
	}
	if want {
		c.openRecording()
		return
	}
	if err := c.closeRecording(); err != nil {
		c.log.Warn("closing recording failed", logger.Error(err))
	}
}

// openRecording starts a new segment chain
func (c *consumer) openRecording() {
	if c.rec == nil || c.nextPath == nil {
		c.recordReq.Store(false)
		return
	}

	path, err := c.nextPath(c.desc)
	if err != nil {
		c.recorderFailed(err, "resolve_path")
		return
	}
	if err := c.rec.Open(path, c.desc); err != nil {
		c.recorderFailed(err, "open")
		return
	}

	c.recording = true
	c.accumulated = 0
	c.rotationDue = false
	c.stats.setSegment(path)
	c.stats.setRecorderErr(nil)
	c.stats.recording.Store(true)
	c.stats.segments.Add(1)
	c.metrics.RecordSegmentOpened()
	c.log.Info("recording started", logger.String("path", path))
}

// closeRecording finalizes the current chain
func (c *consumer) closeRecording() error {
	if !c.recording {
		return nil
	}
	path := c.rec.CurrentPath()
	c.recording = false
	c.accumulated = 0
	c.rotationDue = false
	c.stats.recording.Store(false)

	if err := c.rec.Close(); err != nil {
		wrapped := recorderIO(err, "close", path)
		c.stats.setRecorderErr(wrapped)
		c.metrics.RecordRecorderError("close")
		return wrapped
	}
	c.log.Info("recording stopped", logger.String("path", path))
	return nil
}

// recorderFailed stops recording and reports the failure. Acquisition goes on.
func (c *consumer) recorderFailed(err error, operation string) {
	path := ""
	if c.rec != nil {
		path = c.rec.CurrentPath()
		if c.rec.IsOpen() {
			_ = c.rec.Close()
		}
	}
	wrapped := recorderIO(err, operation, path)

	c.recording = false
	c.accumulated = 0
	c.rotationDue = false
	c.recordReq.Store(false)
	c.stats.recording.Store(false)
	c.stats.setRecorderErr(wrapped)
	c.metrics.RecordRecorderError(operation)

	c.log.Error("recording stopped after I/O failure",
		logger.String("operation", operation),
		logger.String("path", path),
		logger.Error(err))

	events.TryPublish(events.FailureEvent{
		EventKind:     events.KindRecordingFailure,
		Component:     "recorder",
		MeasurementID: c.desc.MeasurementID.String(),
		Err:           wrapped,
		At:            time.Now(),
	})
}

// producerStopped reports a producer that ended on its own, once per session
func (c *consumer) producerStopped() {
	if c.producerDown {
		return
	}
	err := c.producer.Err()
	if err == nil {
		// Stopped by the controller
		return
	}
	c.producerDown = true

	c.log.Warn("producer stopped after read failure, no further data is forwarded", logger.Error(err))
	c.metrics.RecordProducerFailure("read")
	events.TryPublish(events.FailureEvent{
		EventKind:     events.KindDeviceFailure,
		Component:     "producer",
		MeasurementID: c.desc.MeasurementID.String(),
		Err:           err,
		At:            time.Now(),
	})
}

// idleWait sleeps until the next poll or until the session ends
func (c *consumer) idleWait() {
	timer := time.NewTimer(c.idle)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
	}
}
