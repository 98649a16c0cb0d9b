package inspect

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/logger"
	"github.com/tphakala/biosig-go/internal/recorder"
)

func recordChain(t *testing.T, segments int) string {
	t.Helper()
	desc, err := acquisition.NewDescriptor(acquisition.ProducerConfig{
		DeviceIDs:  []string{"UB-2015.05.16"},
		SampleRate: 100,
	}, acquisition.BlockShape{Channels: 2, SamplesPerBlock: 5}, 0.001)
	require.NoError(t, err)

	base := filepath.Join(t.TempDir(), recorder.BaseName(time.Now(), 1))
	r := recorder.New(recorder.Options{Logger: logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)})
	require.NoError(t, r.Open(base, desc))
	for seq := range segments {
		if seq > 0 {
			require.NoError(t, r.Rotate())
		}
		_, err := r.WriteBlock(acquisition.NewSampleBlock(2, 5))
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())
	return base
}

func TestInspectPrintsChain(t *testing.T) {
	first := recordChain(t, 2)

	var out bytes.Buffer
	cmd := Command()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{first})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "Devices:     UB-2015.05.16")
	assert.Contains(t, text, "2 @ 100 Hz, 5 samples per block")
	assert.Contains(t, text, filepath.Base(recorder.SegmentPath(first, 1))+" (#1)")
	assert.Contains(t, text, "2 segments, 10 samples, 100ms")
}

func TestInspectMissingChain(t *testing.T) {
	cmd := Command()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.wav")})
	require.Error(t, cmd.Execute())
}
