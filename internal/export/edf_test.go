package export

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpenPSG/edf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
	"github.com/tphakala/biosig-go/internal/recorder"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// value is the sample written at channel ch, absolute column col
func value(ch, col int) float64 {
	return float64(ch*1000) + float64(col)/4 - 100
}

// recordChain writes blocksPerSegment blocks per segment for segments
// segments and returns the first segment path
func recordChain(t *testing.T, channels, rate, blockLen, segments, blocksPerSegment int) string {
	t.Helper()
	desc, err := acquisition.NewDescriptor(acquisition.ProducerConfig{
		DeviceIDs:  []string{"UB-2015.05.16"},
		SampleRate: rate,
	}, acquisition.BlockShape{Channels: channels, SamplesPerBlock: blockLen}, 0.001)
	require.NoError(t, err)

	base := filepath.Join(t.TempDir(), recorder.BaseName(time.Now(), 1))
	r := recorder.New(recorder.Options{Logger: testLogger()})
	require.NoError(t, r.Open(base, desc))

	col := 0
	for s := range segments {
		if s > 0 {
			require.NoError(t, r.Rotate())
		}
		for range blocksPerSegment {
			b := acquisition.NewSampleBlock(channels, blockLen)
			for i := range blockLen {
				for ch := range channels {
					b.Set(ch, i, value(ch, col+i))
				}
			}
			col += blockLen
			_, err := r.WriteBlock(b)
			require.NoError(t, err)
		}
	}
	require.NoError(t, r.Close())
	return base
}

func TestChainToEDF(t *testing.T) {
	first := recordChain(t, 2, 100, 30, 2, 3)
	out := filepath.Join(t.TempDir(), "out.edf")

	res, err := ChainToEDF(first, out, Options{PhysicalMin: -3200, PhysicalMax: 3200, Log: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, &Result{Path: out, Segments: 2, Records: 2, Samples: 180, Padding: 20}, res)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	headerBytes := 256 + 2*256
	require.Len(t, raw, headerBytes+2*2*100*2)
	assert.Equal(t, "X X X X", strings.TrimSpace(string(raw[8:88])))
	assert.Equal(t, "2", strings.TrimSpace(string(raw[236:244])), "record count")
	assert.Equal(t, "1", strings.TrimSpace(string(raw[244:252])), "record duration")
	assert.Equal(t, "EEG 000", strings.TrimSpace(string(raw[256:272])))
	assert.Equal(t, "EEG 001", strings.TrimSpace(string(raw[272:288])))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	reader, err := edf.Open(f)
	require.NoError(t, err)

	step := 6400.0 / 65535
	for ch := range 2 {
		sr, err := reader.Signal(ch)
		require.NoError(t, err)
		samples := make([]float64, 200)
		n, err := sr.Read(samples)
		require.NoError(t, err)
		require.Equal(t, 200, n)

		for col := range 180 {
			assert.InDelta(t, value(ch, col), samples[col], 2*step, "ch %d col %d", ch, col)
		}
		for col := 180; col < 200; col++ {
			assert.InDelta(t, 0, samples[col], 2*step, "padding ch %d col %d", ch, col)
		}
	}
}

func TestChainToEDFClipsToPhysicalRange(t *testing.T) {
	first := recordChain(t, 2, 50, 50, 1, 1)
	out := filepath.Join(t.TempDir(), "clip.edf")

	// Channel 1 sits near 900 µV, outside ±500
	res, err := ChainToEDF(first, out, Options{PhysicalMin: -500, PhysicalMax: 500, Log: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Clipped)
	assert.Equal(t, 0, res.Padding)
}

func TestChainToEDFRejects(t *testing.T) {
	t.Run("inverted physical range", func(t *testing.T) {
		first := recordChain(t, 1, 10, 10, 1, 1)
		_, err := ChainToEDF(first, filepath.Join(t.TempDir(), "x.edf"), Options{PhysicalMin: 10, PhysicalMax: -10})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	})

	t.Run("record too large", func(t *testing.T) {
		first := recordChain(t, 32, 1200, 100, 1, 1)
		out := filepath.Join(t.TempDir(), "big.edf")
		_, err := ChainToEDF(first, out, Options{})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		assert.NoFileExists(t, out)
	})

	t.Run("missing chain", func(t *testing.T) {
		_, err := ChainToEDF(filepath.Join(t.TempDir(), "none_raw.wav"), filepath.Join(t.TempDir(), "x.edf"), Options{})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
	})
}

func TestCheckRecordSize(t *testing.T) {
	tests := []struct {
		channels, rate int
		ok             bool
	}{
		{16, 1200, true},
		{25, 1200, true},
		{26, 1200, false},
		{64, 512, false},
		{1, 30720, true},
	}
	for _, tt := range tests {
		err := CheckRecordSize(tt.channels, tt.rate)
		assert.Equal(t, tt.ok, err == nil, "%d channels at %d Hz", tt.channels, tt.rate)
	}
}
