package recorder

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func testDescriptor(t *testing.T, channels, samples, rate int) *acquisition.Descriptor {
	t.Helper()
	desc, err := acquisition.NewDescriptor(acquisition.ProducerConfig{
		DeviceIDs:  []string{"UB-2015.05.16"},
		SampleRate: rate,
	}, acquisition.BlockShape{Channels: channels, SamplesPerBlock: samples}, 0.001)
	require.NoError(t, err)
	return desc
}

// rampBlock fills channel ch, column i with seq*100 + ch + i/10
func rampBlock(channels, samples, seq int) *acquisition.SampleBlock {
	b := acquisition.NewSampleBlock(channels, samples)
	for ch := range channels {
		for i := range samples {
			b.Set(ch, i, float64(seq*100+ch)+float64(i)/10)
		}
	}
	b.Sequence = uint64(seq)
	return b
}

func TestSegmentPath(t *testing.T) {
	tests := []struct {
		base string
		n    int
		want string
	}{
		{"/rec/2024_03_07_EEG_001_raw.wav", 0, "/rec/2024_03_07_EEG_001_raw.wav"},
		{"/rec/2024_03_07_EEG_001_raw.wav", 1, "/rec/2024_03_07_EEG_001-1_raw.wav"},
		{"/rec/2024_03_07_EEG_001_raw.wav", 12, "/rec/2024_03_07_EEG_001-12_raw.wav"},
		{"/rec/custom.wav", 2, "/rec/custom.wav-2_raw.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, SegmentPath(tt.base, tt.n))
		})
	}
}

func TestNextBasePath(t *testing.T) {
	day := time.Date(2024, time.March, 7, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{"empty directory", nil, "2024_03_07_EEG_001_raw.wav"},
		{"after earlier runs", []string{
			"2024_03_07_EEG_001_raw.wav",
			"2024_03_07_EEG_002_raw.wav",
			"2024_03_07_EEG_002-1_raw.wav",
		}, "2024_03_07_EEG_003_raw.wav"},
		{"gap is not reused", []string{"2024_03_07_EEG_004_raw.wav"}, "2024_03_07_EEG_005_raw.wav"},
		{"other days ignored", []string{
			"2024_03_06_EEG_009_raw.wav",
			"notes.txt",
		}, "2024_03_07_EEG_001_raw.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, name := range tt.existing {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
			}
			got, err := NextBasePath(dir, day)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), got)
		})
	}

	t.Run("missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "Sequence_01", "Subject_01")
		got, err := NextBasePath(dir, day)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "2024_03_07_EEG_001_raw.wav"), got)
	})
}

func TestRecorderWritesReadableSegment(t *testing.T) {
	desc := testDescriptor(t, 4, 10, 250)
	path := filepath.Join(t.TempDir(), "a", "b", BaseName(time.Now(), 1))

	r := New(Options{Logger: testLogger()})
	require.NoError(t, r.Open(path, desc))
	assert.Equal(t, StateOpen, r.State())
	assert.Equal(t, path, r.CurrentPath())

	for seq := range 3 {
		n, err := r.WriteBlock(rampBlock(4, 10, seq))
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	}
	require.NoError(t, r.Close())
	assert.Equal(t, StateClosed, r.State())
	assert.Empty(t, r.CurrentPath())

	seg, err := ReadSegment(path)
	require.NoError(t, err)

	h := seg.Header
	assert.Equal(t, desc.MeasurementID.String(), h.MeasurementID)
	assert.Equal(t, 0, h.Number)
	assert.Equal(t, int64(0), h.FirstSample)
	assert.Equal(t, 250, h.SampleRate)
	assert.Equal(t, 10, h.SamplesPerBlock)
	assert.Equal(t, 4, h.Channels)
	assert.Equal(t, []string{"EEG 000", "EEG 001", "EEG 002", "EEG 003"}, h.Labels)
	assert.Equal(t, []string{"UB-2015.05.16"}, h.DeviceIDs)
	assert.InDelta(t, DefaultCalibration, h.Calibration, 1e-12)
	assert.InDelta(t, 0.001, h.HighPass, 1e-12)
	assert.InDelta(t, 125.0, h.LowPass, 1e-12)
	assert.Equal(t, int64(30), h.Samples)
	assert.Equal(t, 120*time.Millisecond, h.Duration())
	assert.Nil(t, h.Next)
	assert.WithinDuration(t, desc.StartTime, h.StartTime, time.Microsecond)

	require.Len(t, seg.Data, 4)
	for ch := range 4 {
		require.Len(t, seg.Data[ch], 30)
		for col := range 30 {
			seq, i := col/10, col%10
			want := float64(seq*100+ch) + float64(i)/10
			assert.InDelta(t, want, seg.Data[ch][col], 1e-6, "ch %d col %d", ch, col)
		}
	}
}

func TestRecorderRotationLinksSegments(t *testing.T) {
	desc := testDescriptor(t, 2, 5, 100)
	base := filepath.Join(t.TempDir(), BaseName(time.Now(), 1))

	r := New(Options{Logger: testLogger()})
	require.NoError(t, r.Open(base, desc))

	for seq := range 3 {
		if seq > 0 {
			require.NoError(t, r.Rotate())
		}
		_, err := r.WriteBlock(rampBlock(2, 5, seq))
		require.NoError(t, err)
	}
	assert.Equal(t, SegmentPath(base, 2), r.CurrentPath())
	require.NoError(t, r.Close())

	chain, err := ReadChain(base)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	for i, entry := range chain {
		assert.Equal(t, SegmentPath(base, i), entry.Path)
		assert.Equal(t, i, entry.Header.Number)
		assert.Equal(t, int64(0), entry.Header.FirstSample, "every segment restarts at sample 0")
		assert.Equal(t, int64(5), entry.Header.Samples)
		if i < 2 {
			require.NotNil(t, entry.Header.Next)
			assert.Equal(t, filepath.Base(SegmentPath(base, i+1)), entry.Header.Next.File)
			assert.Equal(t, i+1, entry.Header.Next.Number)
			assert.Equal(t, desc.MeasurementID.String(), entry.Header.Next.MeasurementID)
		} else {
			assert.Nil(t, entry.Header.Next)
		}
	}

	samples, rate := ChainSamples(chain)
	assert.Equal(t, int64(15), samples)
	assert.Equal(t, 100, rate)

	last, err := ReadSegment(chain[2].Path)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, last.Data[0][0], 1e-6)
	assert.InDelta(t, 201.4, last.Data[1][4], 1e-6)
}

func TestRecorderRejectsUseWhileClosed(t *testing.T) {
	r := New(Options{Logger: testLogger()})

	_, err := r.WriteBlock(rampBlock(1, 1, 0))
	require.ErrorIs(t, err, ErrNotOpen)
	require.ErrorIs(t, r.Rotate(), ErrNotOpen)
	require.NoError(t, r.Close(), "closing a closed recorder is a no-op")
	assert.False(t, r.IsOpen())
}

func TestRecorderOpenTwiceFails(t *testing.T) {
	desc := testDescriptor(t, 1, 1, 10)
	dir := t.TempDir()

	r := New(Options{Logger: testLogger()})
	require.NoError(t, r.Open(filepath.Join(dir, BaseName(time.Now(), 1)), desc))
	err := r.Open(filepath.Join(dir, BaseName(time.Now(), 2)), desc)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	require.NoError(t, r.Close())
}

func TestRecorderWriteRejectsWrongShape(t *testing.T) {
	desc := testDescriptor(t, 2, 4, 100)
	r := New(Options{Logger: testLogger()})
	require.NoError(t, r.Open(filepath.Join(t.TempDir(), BaseName(time.Now(), 1)), desc))
	defer r.Close()

	_, err := r.WriteBlock(rampBlock(3, 4, 0))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRecording))
}

func TestRecorderRefusesLowDiskSpace(t *testing.T) {
	desc := testDescriptor(t, 1, 1, 10)
	path := filepath.Join(t.TempDir(), BaseName(time.Now(), 1))

	r := New(Options{MinFreeMB: 100, Logger: testLogger()})
	r.freeSpace = func(string) (uint64, error) { return 10 * 1024 * 1024, nil }

	err := r.Open(path, desc)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDiskUsage))
	assert.Equal(t, StateClosed, r.State())
	assert.NoFileExists(t, path)

	r.freeSpace = func(string) (uint64, error) { return 500 * 1024 * 1024, nil }
	require.NoError(t, r.Open(path, desc))
	require.NoError(t, r.Close())
}

func TestRecorderRotateFailureCloses(t *testing.T) {
	desc := testDescriptor(t, 1, 1, 10)
	base := filepath.Join(t.TempDir(), BaseName(time.Now(), 1))

	r := New(Options{MinFreeMB: 1, Logger: testLogger()})
	free := uint64(100 * 1024 * 1024)
	r.freeSpace = func(string) (uint64, error) { return free, nil }

	require.NoError(t, r.Open(base, desc))
	_, err := r.WriteBlock(rampBlock(1, 1, 0))
	require.NoError(t, err)

	free = 0
	require.Error(t, r.Rotate())
	assert.Equal(t, StateClosed, r.State())

	// The outgoing segment was finalized with its link before the failure
	h, err := ReadSegmentHeader(base)
	require.NoError(t, err)
	require.NotNil(t, h.Next)
	assert.Equal(t, filepath.Base(SegmentPath(base, 1)), h.Next.File)

	chain, err := ReadChain(base)
	require.Error(t, err, "successor was never created")
	assert.Len(t, chain, 1)
}

func TestReadSegmentRejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()

	notWav := filepath.Join(dir, "notes_raw.wav")
	require.NoError(t, os.WriteFile(notWav, []byte("plain text"), 0o600))
	_, err := ReadSegment(notWav)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))

	_, err = ReadSegmentHeader(filepath.Join(dir, "missing_raw.wav"))
	require.Error(t, err)
}

func TestHeaderEntriesKeepDecoderAligned(t *testing.T) {
	// Entries of every parity must survive the INFO chunk
	for _, id := range []string{"UB-1", "UB-12", "UB-123", "UB-1234"} {
		t.Run(id, func(t *testing.T) {
			desc := testDescriptor(t, 1, 2, 50)
			desc.DeviceIDs = []string{id}
			path := filepath.Join(t.TempDir(), BaseName(time.Now(), 1))

			r := New(Options{Logger: testLogger()})
			require.NoError(t, r.Open(path, desc))
			_, err := r.WriteBlock(rampBlock(1, 2, 0))
			require.NoError(t, err)
			require.NoError(t, r.Close())

			h, err := ReadSegmentHeader(path)
			require.NoError(t, err)
			assert.Equal(t, []string{id}, h.DeviceIDs)
			assert.Equal(t, desc.MeasurementID.String(), h.MeasurementID)
			assert.Equal(t, int64(2), h.Samples)
		})
	}
}

func TestToDigitalClamps(t *testing.T) {
	assert.Equal(t, 1500, toDigital(1.5, 0.001))
	assert.Equal(t, -3, toDigital(-0.003, 0.001))
	assert.Equal(t, maxDigital, toDigital(1e12, 0.001))
	assert.Equal(t, minDigital, toDigital(-1e12, 0.001))
}
