package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerFieldsAndModules(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).
		Module("acquisition").
		Module("consumer").
		With(String("session_id", "abc"))

	log.Info("block consumed",
		Int("channels", 16),
		Float64("scale", 0.0000012345),
		Duration("latency", 1500*time.Microsecond),
		Error(errors.New("boom")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "block consumed", entry["msg"])
	assert.Equal(t, "acquisition.consumer", entry["module"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.InDelta(t, 16, entry["channels"], 0)
	assert.Equal(t, "1.5ms", entry["latency"])
	assert.Equal(t, "boom", entry["error"])
}

func TestSlogLoggerLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)

	log.Debug("hidden")
	log.Info("hidden")
	log.Trace("hidden")
	log.Warn("shown")
	log.Log(LogLevelError, "shown too")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}

func TestTraceLevelRendering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)
	log.Trace("fine grained")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "TRACE", lines[0]["level"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	ctx := WithTraceID(context.Background(), "req-42")
	log.WithContext(ctx).Info("handled")
	log.WithContext(context.Background()).Info("plain")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "req-42", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestCentralLoggerFileOutputAndModuleLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "biosig.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"recorder": "debug"},
	})
	require.NoError(t, err)

	cl.Module("recorder").Module("segment").Debug("segment opened", String("path", "a.wav"))
	cl.Module("acquisition").Debug("filtered by module level")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "segment opened")
	assert.Contains(t, text, `"module":"recorder.segment"`)
	assert.NotContains(t, text, "filtered by module level")
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}
