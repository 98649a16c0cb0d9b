// Package observability provides the Prometheus metrics of biosig.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/biosig-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry    *prometheus.Registry
	Acquisition *metrics.AcquisitionMetrics
	MQTT        *metrics.MQTTMetrics
	HTTP        *metrics.HTTPMetrics
}

// NewMetrics creates a private registry with the process and Go runtime
// collectors and all biosig collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	acquisitionMetrics, err := metrics.NewAcquisitionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:    registry,
		Acquisition: acquisitionMetrics,
		MQTT:        mqttMetrics,
		HTTP:        httpMetrics,
	}, nil
}

// Registry returns the registry backing the handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLog{},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
