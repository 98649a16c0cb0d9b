package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// HTTPMetrics contains Prometheus metrics for the control API
type HTTPMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Websocket stream metrics
	streamActiveConnections prometheus.Gauge
	streamTotalConnections  prometheus.Counter
	streamConnectionSeconds prometheus.Histogram
	streamBlocksSent        prometheus.Counter
	streamErrors            *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the API metrics
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route pattern, not the raw URL
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.streamActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "stream_active_connections",
		Help:      "Open websocket stream connections",
	})

	m.streamTotalConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "stream_connections_total",
		Help:      "Websocket stream connections accepted",
	})

	m.streamConnectionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "stream_connection_duration_seconds",
		Help:      "Lifetime of websocket stream connections",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	m.streamBlocksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "stream_blocks_sent_total",
		Help:      "Blocks written to websocket clients",
	})

	m.streamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "stream_errors_total",
		Help:      "Websocket stream errors by type",
	}, []string{"error_type"})
}

func (m *HTTPMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.streamActiveConnections,
		m.streamTotalConnections,
		m.streamConnectionSeconds,
		m.streamBlocksSent,
		m.streamErrors,
	}
}

// Describe implements the prometheus.Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// RecordHTTPRequest records a served request
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// StreamConnectionStarted records a new websocket client
func (m *HTTPMetrics) StreamConnectionStarted() {
	m.streamActiveConnections.Inc()
	m.streamTotalConnections.Inc()
}

// StreamConnectionClosed records the end of a websocket client
func (m *HTTPMetrics) StreamConnectionClosed(duration time.Duration) {
	m.streamActiveConnections.Dec()
	m.streamConnectionSeconds.Observe(duration.Seconds())
}

// RecordStreamBlockSent counts a block written to a client
func (m *HTTPMetrics) RecordStreamBlockSent() {
	m.streamBlocksSent.Inc()
}

// RecordStreamError counts a stream failure
func (m *HTTPMetrics) RecordStreamError(errorType string) {
	m.streamErrors.WithLabelValues(errorType).Inc()
}

// ActiveStreams returns the current number of websocket clients
func (m *HTTPMetrics) ActiveStreams() float64 {
	metric := &dto.Metric{}
	if err := m.streamActiveConnections.Write(metric); err != nil {
		return 0
	}
	return metric.GetGauge().GetValue()
}
