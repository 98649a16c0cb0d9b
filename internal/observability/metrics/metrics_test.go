package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquisitionMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAcquisitionMetrics(registry)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("idle")), 0, "new metrics start idle")

	for range 3 {
		m.RecordBlockProduced()
	}
	m.RecordBlockConsumed(time.Millisecond)
	m.RecordBlockPublished()
	m.RecordReleasedPop()
	m.RecordRotation()
	m.RecordSegmentOpened()
	m.RecordSegmentOpened()
	m.RecordProducerFailure("read")
	m.SetBufferDepth(5)

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"produced", m.BlocksProduced, 3},
		{"consumed", m.BlocksConsumed, 1},
		{"published", m.BlocksPublished, 1},
		{"released pops", m.ReleasedPops, 1},
		{"rotations", m.Rotations, 1},
		{"segments", m.SegmentsOpened, 2},
		{"producer read failures", m.ProducerFailures.WithLabelValues("read"), 1},
		{"buffer depth", m.BufferDepth, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, testutil.ToFloat64(tt.collector), 0)
		})
	}
}

func TestSessionStateIsExclusive(t *testing.T) {
	m, err := NewAcquisitionMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	for _, state := range []string{"starting", "running", "stopping", "idle"} {
		m.SetSessionState(state)
		for _, s := range sessionStates {
			want := 0.0
			if s == state {
				want = 1
			}
			assert.InDelta(t, want, testutil.ToFloat64(m.SessionState.WithLabelValues(s)), 0, "%s while %s", s, state)
		}
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewMQTTMetrics(registry)
	require.NoError(t, err)
	_, err = NewMQTTMetrics(registry)
	assert.Error(t, err)
}

func TestMQTTMetrics(t *testing.T) {
	m, err := NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.Positive(t, testutil.ToFloat64(m.LastConnectTime))

	m.RecordDelivered(1024, 3*time.Millisecond)
	m.RecordDropped()
	m.RecordError()
	m.UpdateConnectionStatus(false)

	assert.InDelta(t, 0.0, testutil.ToFloat64(m.ConnectionStatus), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.MessagesDelivered), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.MessagesDropped), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Errors), 0)
}

func TestHTTPStreamGauge(t *testing.T) {
	m, err := NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.StreamConnectionStarted()
	m.StreamConnectionStarted()
	m.RecordStreamBlockSent()
	m.StreamConnectionClosed(time.Second)
	assert.InDelta(t, 1.0, m.ActiveStreams(), 0)

	m.RecordHTTPRequest("GET", "/api/v1/status", 200, 5*time.Millisecond)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/v1/status", "200")), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.streamTotalConnections), 0)
}
