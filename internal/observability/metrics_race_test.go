package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// since every instance owns its registry
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 50

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.registry)
			assert.NotNil(t, m.Acquisition)
			assert.NotNil(t, m.MQTT)
			assert.NotNil(t, m.HTTP)
		})
	}
	wg.Wait()
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Acquisition.RecordBlockProduced()
	m.Acquisition.RecordBlockConsumed(2 * time.Millisecond)
	m.Acquisition.RecordRecorderError("write")
	m.Acquisition.SetSessionState("running")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		"biosig_acquisition_blocks_produced_total 1",
		"biosig_acquisition_blocks_consumed_total 1",
		`biosig_acquisition_recorder_errors_total{operation="write"} 1`,
		`biosig_acquisition_session_state{state="running"} 1`,
		`biosig_acquisition_session_state{state="idle"} 0`,
		"biosig_acquisition_consumer_block_latency_seconds_count 1",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Acquisition.BlocksProduced), 0)
}
