package acquisition

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/biosig-go/internal/errors"
)

const waitFor = 2 * time.Second

func testConfig() SessionConfig {
	return SessionConfig{ProducerConfig: ProducerConfig{
		DeviceIDs:       []string{"UB-2015.05.16"},
		Channels:        []int{1, 2, 3, 4},
		SampleRate:      1200,
		SamplesPerBlock: 100,
	}}
}

func newTestController(p Producer, sink Sink, rec Recorder, splitMs int) *Controller {
	return NewController(Options{
		Producer:      p,
		Sink:          sink,
		Recorder:      rec,
		RecordingPath: func(*Descriptor) (string, error) { return "rec", nil },
		SplitMs:       splitMs,
		HighPass:      0.001,
		IdleInterval:  5 * time.Millisecond,
		Logger:        testLogger(),
	})
}

func waitConsumed(t *testing.T, c *Controller, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status().BlocksConsumed >= n },
		waitFor, time.Millisecond, "consumer did not reach %d blocks", n)
}

func TestControllerStartStop(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.blocks = 6
	sink := &captureSink{}
	c := newTestController(p, sink, nil, 0)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	assert.Equal(t, StateRunning, c.State())

	desc := c.Descriptor()
	require.NotNil(t, desc)
	assert.Equal(t, 4, desc.ChannelCount)
	assert.Equal(t, 100, desc.SamplesPerBlock)
	assert.InDelta(t, 600.0, desc.LowPass, 1e-9)
	assert.Equal(t, "EEG 003", desc.Channels[3].Label)

	waitConsumed(t, c, 6)
	require.NoError(t, c.Stop())

	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Descriptor())
	st := c.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.MeasurementID)

	published := sink.Published()
	require.Len(t, published, 6)
	for i, b := range published {
		assert.Equal(t, uint64(i), b.Sequence, "blocks arrive in push order")
		assert.InDelta(t, float64(i)*DefaultScaleFactor, b.At(0, 0), 1e-15)
	}
	sink.mu.Lock()
	assert.Equal(t, 4, sink.channels)
	assert.Equal(t, 1200, sink.rate)
	assert.Equal(t, 1, sink.clears)
	sink.mu.Unlock()
	assert.Equal(t, int32(1), p.stopCalls.Load())
}

func TestControllerStartTwiceFails(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	c := newTestController(p, nil, nil, 0)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	err := c.Start(context.Background(), testConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStart)
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, int32(1), p.openCalls.Load())

	require.NoError(t, c.Stop())
}

func TestControllerOpenFailureStaysIdle(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.openErr = fmt.Errorf("amplifier UB-2015.05.16 not found")
	sink := &captureSink{}
	c := newTestController(p, sink, nil, 0)

	err := c.Start(context.Background(), testConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "not found")

	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Descriptor())
	assert.Zero(t, sink.channels, "no session resources are set up")

	// A later start with a working device succeeds
	p.openErr = nil
	p.blocks = 1
	require.NoError(t, c.Start(context.Background(), testConfig()))
	require.NoError(t, c.Stop())
}

func TestControllerProducerStartFailure(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.startErr = fmt.Errorf("stream could not start")
	c := newTestController(p, nil, nil, 0)

	err := c.Start(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, int32(1), p.stopCalls.Load())
}

func TestControllerStopIsIdempotent(t *testing.T) {
	c := newTestController(newFakeProducer(4, 100), nil, nil, 0)
	assert.NoError(t, c.Stop())
	assert.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerStopUnblocksFullBuffer(t *testing.T) {
	// Producer pushes as fast as it can, so it sits blocked on the full buffer
	p := newFakeProducer(4, 100)
	c := newTestController(p, nil, nil, 0)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	waitConsumed(t, c, 20)

	done := make(chan error)
	go func() { done <- c.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("stop did not complete")
	}
	assert.False(t, p.IsRunning())
}

func TestControllerStartWaitsForStop(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	p.stopGate = make(chan struct{})
	c := newTestController(p, nil, nil, 0)

	require.NoError(t, c.Start(context.Background(), testConfig()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Stop())
	}()
	require.Eventually(t, func() bool { return c.State() == StateStopping }, waitFor, time.Millisecond)

	// A second Stop during teardown is a no-op
	assert.NoError(t, c.Stop())

	started := make(chan error)
	go func() { started <- c.Start(context.Background(), testConfig()) }()

	select {
	case <-started:
		t.Fatal("start returned while the previous session was still stopping")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.stopGate)
	wg.Wait()

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("start did not proceed after stop completed")
	}
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, []string{"open", "stopped", "open"}, p.Journal())

	require.NoError(t, c.Stop())
}

func TestControllerStartHonoursContext(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	p.stopGate = make(chan struct{})
	c := newTestController(p, nil, nil, 0)
	require.NoError(t, c.Start(context.Background(), testConfig()))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = c.Stop()
	}()
	require.Eventually(t, func() bool { return c.State() == StateStopping }, waitFor, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Start(ctx, testConfig())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(p.stopGate)
	<-stopped
	assert.Equal(t, StateIdle, c.State())
}

func TestControllerReadFailure(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.failAfter = 3
	sink := &captureSink{}
	c := newTestController(p, sink, nil, 0)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	require.Eventually(t, func() bool {
		st := c.Status()
		return !st.ProducerRunning && st.ProducerError != ""
	}, waitFor, time.Millisecond)
	assert.ErrorIs(t, p.Err(), ErrDeviceReadFailure)

	// The consumer keeps looping without forwarding further data
	time.Sleep(20 * time.Millisecond)
	consumed := c.Status().BlocksConsumed
	assert.LessOrEqual(t, consumed, uint64(3))
	time.Sleep(20 * time.Millisecond)
	st := c.Status()
	assert.Equal(t, consumed, st.BlocksConsumed)
	assert.Equal(t, StateRunning, st.State)

	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
	assert.Contains(t, c.Status().ProducerError, "simulated read failure")
	assert.Len(t, sink.Published(), int(consumed))
}

func TestControllerRecordingRotation(t *testing.T) {
	tests := []struct {
		name       string
		rate       int
		perBlock   int
		splitMs    int
		blocks     int
		wantBlocks [][]uint64
	}{
		{
			name: "every block exceeds threshold", rate: 1200, perBlock: 100, splitMs: 10, blocks: 5,
			wantBlocks: [][]uint64{{0}, {1}, {2}, {3}, {4}},
		},
		{
			name: "rotation after first exceedance", rate: 1000, perBlock: 100, splitMs: 250, blocks: 7,
			wantBlocks: [][]uint64{{0, 1, 2}, {3, 4, 5}, {6}},
		},
		{
			name: "equal duration does not rotate", rate: 1000, perBlock: 100, splitMs: 300, blocks: 7,
			wantBlocks: [][]uint64{{0, 1, 2, 3}, {4, 5, 6}},
		},
		{
			name: "zero threshold disables rotation", rate: 1000, perBlock: 100, splitMs: 0, blocks: 4,
			wantBlocks: [][]uint64{{0, 1, 2, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProducer(16, tt.perBlock)
			p.blocks = tt.blocks
			rec := &memRecorder{}
			c := newTestController(p, nil, rec, tt.splitMs)

			cfg := testConfig()
			cfg.SampleRate = tt.rate
			cfg.Record = true
			require.NoError(t, c.Start(context.Background(), cfg))
			waitConsumed(t, c, uint64(tt.blocks))
			assert.Equal(t, len(tt.wantBlocks), c.Status().Segments)
			require.NoError(t, c.Stop())

			segments := rec.Segments()
			require.Len(t, segments, len(tt.wantBlocks))
			links := 0
			for i, seg := range segments {
				assert.Equal(t, tt.wantBlocks[i], seg.blocks, "segment %d", i)
				assert.True(t, seg.closed)
				if i < len(segments)-1 {
					assert.Equal(t, segments[i+1].path, seg.next)
					links++
				} else {
					assert.Empty(t, seg.next, "last segment has no forward link")
				}
			}
			assert.Equal(t, len(tt.wantBlocks)-1, links)
			if len(segments) > 1 {
				assert.Equal(t, "rec-1", segments[1].path)
			}
		})
	}
}

func TestControllerRecordingToggle(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	rec := &memRecorder{}
	c := newTestController(p, nil, rec, 0)

	assert.ErrorIs(t, c.StartRecording(), ErrNotRunning)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	assert.False(t, c.Status().Recording)

	require.NoError(t, c.StartRecording())
	require.Eventually(t, func() bool { return c.Status().Recording }, waitFor, time.Millisecond)
	assert.Equal(t, "rec", c.Status().Segment)
	require.Eventually(t, func() bool {
		segs := rec.Segments()
		return len(segs) == 1 && len(segs[0].blocks) >= 3
	}, waitFor, time.Millisecond)

	require.NoError(t, c.StopRecording())
	require.Eventually(t, func() bool { return !c.Status().Recording }, waitFor, time.Millisecond)
	assert.False(t, rec.IsOpen())

	require.NoError(t, c.Stop())
	assert.Equal(t, 1, rec.opens)
}

func TestControllerRecordingUnavailable(t *testing.T) {
	p := newFakeProducer(4, 100)
	c := newTestController(p, nil, nil, 0)

	cfg := testConfig()
	cfg.Record = true
	assert.ErrorIs(t, c.Start(context.Background(), cfg), ErrRecordingUnavailable)
	assert.Equal(t, StateIdle, c.State())
	assert.ErrorIs(t, c.StartRecording(), ErrRecordingUnavailable)
}

func TestControllerRecordingNeedsPathResolver(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	rec := &memRecorder{}
	c := NewController(Options{
		Producer:     p,
		Recorder:     rec,
		IdleInterval: 5 * time.Millisecond,
		Logger:       testLogger(),
	})

	cfg := testConfig()
	cfg.Record = true
	assert.ErrorIs(t, c.Start(context.Background(), cfg), ErrRecordingUnavailable)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, p.openCalls.Load())

	require.NoError(t, c.Start(context.Background(), testConfig()))
	assert.ErrorIs(t, c.StartRecording(), ErrRecordingUnavailable)
	assert.False(t, c.Status().Recording)
	require.NoError(t, c.Stop())
	assert.Zero(t, rec.opens)
}

func TestSessionErrorsAreDistinct(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		match   error
		differs []error
	}{
		{"start while running", ErrInvalidStart, ErrInvalidStart, []error{ErrNotRunning, ErrRecordingUnavailable}},
		{"no session", ErrNotRunning, ErrNotRunning, []error{ErrInvalidStart, ErrRecordingUnavailable}},
		{"no recorder", ErrRecordingUnavailable, ErrRecordingUnavailable, []error{ErrInvalidStart, ErrNotRunning}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.match)
			for _, other := range tt.differs {
				assert.NotErrorIs(t, tt.err, other)
			}
		})
	}
}

func TestControllerSessionErrorsFromCalls(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	c := newTestController(p, nil, &memRecorder{}, 0)

	err := c.StartRecording()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NotErrorIs(t, err, ErrInvalidStart)

	require.NoError(t, c.Start(context.Background(), testConfig()))
	err = c.Start(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrInvalidStart)
	assert.NotErrorIs(t, err, ErrNotRunning)
	require.NoError(t, c.Stop())
}

func TestControllerRecorderFailureKeepsAcquiring(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	rec := &memRecorder{writeErrAfter: 2}
	sink := &captureSink{}
	c := newTestController(p, sink, rec, 0)

	cfg := testConfig()
	cfg.Record = true
	require.NoError(t, c.Start(context.Background(), cfg))

	require.Eventually(t, func() bool { return c.Status().RecorderError != "" }, waitFor, time.Millisecond)
	st := c.Status()
	assert.False(t, st.Recording)
	assert.Contains(t, st.RecorderError, "no space left")

	before := st.BlocksConsumed
	waitConsumed(t, c, before+5)
	assert.False(t, rec.IsOpen())

	require.NoError(t, c.Stop())
	assert.Contains(t, c.Status().RecorderError, "no space left")
}

func TestControllerRecorderOpenFailure(t *testing.T) {
	p := newFakeProducer(4, 100)
	p.interval = time.Millisecond
	rec := &memRecorder{openErr: fmt.Errorf("permission denied")}
	c := newTestController(p, nil, rec, 0)

	cfg := testConfig()
	cfg.Record = true
	require.NoError(t, c.Start(context.Background(), cfg), "recording failure does not stop acquisition")

	st := c.Status()
	assert.False(t, st.Recording)
	assert.Contains(t, st.RecorderError, "permission denied")
	waitConsumed(t, c, 3)
	require.NoError(t, c.Stop())
}

func TestRecorderErrorsCarryCategory(t *testing.T) {
	err := recorderIO(fmt.Errorf("disk full"), "write", "a.wav")
	assert.ErrorIs(t, err, ErrRecorderIO)
	assert.True(t, errors.IsCategory(err, errors.CategoryRecording))
	assert.NotErrorIs(t, err, ErrDeviceUnavailable)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	text, err := StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "running", string(text))
}
