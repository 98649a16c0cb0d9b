package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Session states exported by the session_state gauge, one series per state
var sessionStates = []string{"idle", "starting", "running", "stopping"}

// AcquisitionMetrics implements the pipeline metrics hooks
type AcquisitionMetrics struct {
	BlocksProduced   prometheus.Counter
	BlocksConsumed   prometheus.Counter
	BlocksPublished  prometheus.Counter
	ReleasedPops     prometheus.Counter
	Rotations        prometheus.Counter
	SegmentsOpened   prometheus.Counter
	RecorderErrors   *prometheus.CounterVec
	ProducerFailures *prometheus.CounterVec
	BufferDepth      prometheus.Gauge
	SessionState     *prometheus.GaugeVec
	ConsumerLatency  prometheus.Histogram
}

// NewAcquisitionMetrics creates the collectors and registers them with registry
func NewAcquisitionMetrics(registry prometheus.Registerer) (*AcquisitionMetrics, error) {
	m := &AcquisitionMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register acquisition metrics: %w", err)
	}
	m.SetSessionState("idle")
	return m, nil
}

func (m *AcquisitionMetrics) initMetrics() {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "acquisition",
			Name:      name,
			Help:      help,
		})
	}

	m.BlocksProduced = counter("blocks_produced_total", "Blocks pushed into the sample buffer")
	m.BlocksConsumed = counter("blocks_consumed_total", "Blocks popped by the consumer")
	m.BlocksPublished = counter("blocks_published_total", "Scaled blocks handed to the sink")
	m.ReleasedPops = counter("released_pops_total", "Pops answered with the release sentinel")
	m.Rotations = counter("segment_rotations_total", "Recording segment rotations")
	m.SegmentsOpened = counter("segments_opened_total", "Recording segments opened")

	m.RecorderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "acquisition",
		Name:      "recorder_errors_total",
		Help:      "Recorder failures by operation",
	}, []string{"operation"}) // open, write, rotate, close

	m.ProducerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "acquisition",
		Name:      "producer_failures_total",
		Help:      "Producer failures by kind",
	}, []string{"kind"}) // open, read

	m.BufferDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "acquisition",
		Name:      "buffer_depth_blocks",
		Help:      "Blocks waiting in the sample buffer",
	})

	m.SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "acquisition",
		Name:      "session_state",
		Help:      "Current session state (1 for the active state)",
	}, []string{"state"})

	m.ConsumerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "acquisition",
		Name:      "consumer_block_latency_seconds",
		Help:      "Time from block production to the end of its consumption",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
}

func (m *AcquisitionMetrics) RecordBlockProduced() { m.BlocksProduced.Inc() }

func (m *AcquisitionMetrics) RecordBlockConsumed(latency time.Duration) {
	m.BlocksConsumed.Inc()
	m.ConsumerLatency.Observe(latency.Seconds())
}

func (m *AcquisitionMetrics) RecordBlockPublished() { m.BlocksPublished.Inc() }
func (m *AcquisitionMetrics) RecordReleasedPop()    { m.ReleasedPops.Inc() }
func (m *AcquisitionMetrics) RecordRotation()       { m.Rotations.Inc() }
func (m *AcquisitionMetrics) RecordSegmentOpened()  { m.SegmentsOpened.Inc() }

func (m *AcquisitionMetrics) RecordRecorderError(operation string) {
	m.RecorderErrors.WithLabelValues(operation).Inc()
}

func (m *AcquisitionMetrics) RecordProducerFailure(kind string) {
	m.ProducerFailures.WithLabelValues(kind).Inc()
}

func (m *AcquisitionMetrics) SetBufferDepth(depth int) { m.BufferDepth.Set(float64(depth)) }

// SetSessionState sets the series of state to 1 and every other known state to 0
func (m *AcquisitionMetrics) SetSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *AcquisitionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.BlocksProduced.Collect(ch)
	m.BlocksConsumed.Collect(ch)
	m.BlocksPublished.Collect(ch)
	m.ReleasedPops.Collect(ch)
	m.Rotations.Collect(ch)
	m.SegmentsOpened.Collect(ch)
	m.RecorderErrors.Collect(ch)
	m.ProducerFailures.Collect(ch)
	m.BufferDepth.Collect(ch)
	m.SessionState.Collect(ch)
	m.ConsumerLatency.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *AcquisitionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.BlocksProduced.Describe(ch)
	m.BlocksConsumed.Describe(ch)
	m.BlocksPublished.Describe(ch)
	m.ReleasedPops.Describe(ch)
	m.Rotations.Describe(ch)
	m.SegmentsOpened.Describe(ch)
	m.RecorderErrors.Describe(ch)
	m.ProducerFailures.Describe(ch)
	m.BufferDepth.Describe(ch)
	m.SessionState.Describe(ch)
	m.ConsumerLatency.Describe(ch)
}
