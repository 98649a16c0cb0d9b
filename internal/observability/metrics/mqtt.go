package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains the metrics of the MQTT block sink
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	LastConnectTime   prometheus.Gauge
	MessagesDelivered prometheus.Counter
	MessagesDropped   prometheus.Counter
	Errors            prometheus.Counter
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates the collectors and registers them with registry
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "mqtt_connection_status",
		Help:      "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})

	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "mqtt_last_connect_time_seconds",
		Help:      "Timestamp of the last successful MQTT connection",
	})

	m.MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_messages_delivered_total",
		Help:      "Block messages acknowledged by the broker client",
	})

	m.MessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_messages_dropped_total",
		Help:      "Blocks dropped because the publish queue was full",
	})

	m.Errors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_errors_total",
		Help:      "Failed block publications",
	})

	m.MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "mqtt_message_size_bytes",
		Help:      "Size of MQTT messages in bytes",
		Buckets:   prometheus.ExponentialBuckets(256, 2, 12),
	})

	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "mqtt_publish_latency_seconds",
		Help:      "Latency of MQTT publish operations in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
	})
}

// UpdateConnectionStatus updates the connection gauge and, on connect, the
// last connect time
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
	} else {
		m.ConnectionStatus.Set(0)
	}
}

// RecordDelivered records an acknowledged message
func (m *MQTTMetrics) RecordDelivered(sizeBytes int, latency time.Duration) {
	m.MessagesDelivered.Inc()
	m.MessageSize.Observe(float64(sizeBytes))
	m.PublishLatency.Observe(latency.Seconds())
}

// RecordDropped counts a block rejected by the full queue
func (m *MQTTMetrics) RecordDropped() {
	m.MessagesDropped.Inc()
}

// RecordError counts a failed publication
func (m *MQTTMetrics) RecordError() {
	m.Errors.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	ch <- m.LastConnectTime
	ch <- m.MessagesDelivered
	ch <- m.MessagesDropped
	ch <- m.Errors
	ch <- m.MessageSize
	ch <- m.PublishLatency
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	ch <- m.LastConnectTime.Desc()
	ch <- m.MessagesDelivered.Desc()
	ch <- m.MessagesDropped.Desc()
	ch <- m.Errors.Desc()
	ch <- m.MessageSize.Desc()
	ch <- m.PublishLatency.Desc()
}
