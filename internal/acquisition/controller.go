package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/events"
	"github.com/tphakala/biosig-go/internal/logger"
)

// Options configures a Controller
type Options struct {
	Producer       Producer
	Sink           Sink     // nil publishes nowhere
	Recorder       Recorder // nil disables recording
	RecordingPath  PathFunc // first segment path for each recording
	BufferCapacity int
	ScaleFactor    float64
	HighPass       float64
	SplitMs        int // rotate after this many ms, 0 disables rotation
	IdleInterval   time.Duration
	Metrics        Metrics
	Logger         logger.Logger
}

// SessionConfig is the input of one Start call
type SessionConfig struct {
	ProducerConfig
	Record bool // record from the first block
}

// session holds everything allocated for one run
type session struct {
	desc      *Descriptor
	buf       *SampleBuffer
	active    atomic.Bool
	recordReq atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	consumer  *consumer
	stats     sessionStats
}

// Controller starts and stops acquisition sessions. It is the only writer of
// the session state.
type Controller struct {
	opts    Options
	log     logger.Logger
	metrics Metrics

	// lifecycle is held for the whole of Start and Stop so a Start issued
	// during teardown waits for it to finish
	lifecycle chan struct{}
	state     atomic.Int32

	mu          sync.RWMutex
	sess        *session
	lastProdErr error
	lastRecErr  error
}

// GetLogger returns the acquisition package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("acquisition")
}

// NewController creates an idle controller
func NewController(opts Options) *Controller {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.BufferCapacity < 1 {
		opts.BufferCapacity = DefaultBufferCapacity
	}
	if opts.ScaleFactor == 0 {
		opts.ScaleFactor = DefaultScaleFactor
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = defaultIdleInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = GetLogger()
	}

	c := &Controller{
		opts:      opts,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		lifecycle: make(chan struct{}, 1),
	}
	c.metrics.SetSessionState(StateIdle.String())
	return c
}

// State returns the current lifecycle phase
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetSessionState(s.String())
}

// Start opens the producer and launches a session. It fails with
// ErrInvalidStart unless the controller is idle, waiting first for an
// in-flight Stop. A producer that cannot be opened leaves the controller idle
// and returns an ErrDeviceUnavailable error.
func (c *Controller) Start(ctx context.Context, cfg SessionConfig) error {
	select {
	case c.lifecycle <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.lifecycle }()

	if cfg.Record && !c.canRecord() {
		return ErrRecordingUnavailable
	}
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return errors.Newf("cannot start session while %s", c.State()).
			Component(componentAcquisition).
			Category(errors.CategoryState).
			Build()
	}
	c.metrics.SetSessionState(StateStarting.String())

	producer := c.opts.Producer
	if err := producer.Open(cfg.ProducerConfig); err != nil {
		_ = producer.Stop()
		c.setState(StateIdle)
		c.metrics.RecordProducerFailure("open")
		c.log.Error("producer open failed", logger.Error(err), logger.Any("device_ids", cfg.DeviceIDs))
		return deviceUnavailable(err, cfg.ProducerConfig)
	}

	shape := producer.BlockShape()
	desc, err := NewDescriptor(cfg.ProducerConfig, shape, c.opts.HighPass)
	if err != nil {
		_ = producer.Stop()
		c.setState(StateIdle)
		return deviceUnavailable(err, cfg.ProducerConfig)
	}

	sess := &session{
		desc: desc,
		buf:  NewSampleBuffer(c.opts.BufferCapacity),
		done: make(chan struct{}),
	}
	sess.consumer = &consumer{
		producer:  producer,
		buf:       sess.buf,
		sink:      c.opts.Sink,
		desc:      desc,
		scale:     c.opts.ScaleFactor,
		idle:      c.opts.IdleInterval,
		metrics:   c.metrics,
		log:       c.log.Module("consumer"),
		active:    &sess.active,
		done:      sess.done,
		recordReq: &sess.recordReq,
		stats:     &sess.stats,
		rec:       c.opts.Recorder,
		nextPath:  c.opts.RecordingPath,
		splitMs:   c.opts.SplitMs,
	}

	c.opts.Sink.SetChannelCount(shape.Channels)
	c.opts.Sink.SetSampleRate(cfg.SampleRate)

	if cfg.Record {
		// Failure is recorded on the session status; acquisition still starts
		sess.recordReq.Store(true)
		sess.consumer.openRecording()
	}

	if err := producer.Start(meteredQueue{buf: sess.buf, metrics: c.metrics}); err != nil {
		_ = sess.consumer.closeRecording()
		_ = producer.Stop()
		c.opts.Sink.Clear()
		c.setState(StateIdle)
		return deviceUnavailable(err, cfg.ProducerConfig)
	}

	sess.active.Store(true)
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		sess.consumer.run()
	}()

	c.mu.Lock()
	c.sess = sess
	c.lastProdErr = nil
	c.lastRecErr = nil
	c.mu.Unlock()
	c.setState(StateRunning)

	c.log.Info("session started",
		logger.String("measurement_id", desc.MeasurementID.String()),
		logger.Int("channels", desc.ChannelCount),
		logger.Int("sample_rate", desc.SampleRate),
		logger.Int("samples_per_block", desc.SamplesPerBlock),
		logger.Time("start_time", desc.StartTime),
		logger.Bool("recording", sess.stats.recording.Load()))

	events.TryPublish(events.SessionEvent{
		EventKind:       events.KindSessionStarted,
		MeasurementID:   desc.MeasurementID.String(),
		DeviceIDs:       desc.DeviceIDs,
		Labels:          desc.Labels(),
		Channels:        desc.ChannelCount,
		SampleRate:      desc.SampleRate,
		SamplesPerBlock: desc.SamplesPerBlock,
		StartedAt:       desc.StartTime,
	})
	return nil
}

// Stop tears the session down: producer stopped, buffer released, consumer
// joined, buffer and sink cleared, recorder closed. It is a no-op when idle
// or already stopping. Errors from the producer or recorder are returned
// after the controller is idle again.
func (c *Controller) Stop() error {
	if s := c.State(); s == StateIdle || s == StateStopping {
		return nil
	}

	c.lifecycle <- struct{}{}
	defer func() { <-c.lifecycle }()

	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	c.metrics.SetSessionState(StateStopping.String())

	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()

	var errs []error
	if err := c.opts.Producer.Stop(); err != nil {
		errs = append(errs, err)
	}
	sess.buf.ReleaseWaiters()
	sess.active.Store(false)
	close(sess.done)
	sess.wg.Wait()

	sess.buf.Clear()
	c.metrics.SetBufferDepth(0)
	c.opts.Sink.Clear()
	if err := sess.consumer.closeRecording(); err != nil {
		errs = append(errs, err)
	}

	_, recErr := sess.stats.snapshot()
	c.mu.Lock()
	c.sess = nil
	c.lastProdErr = c.opts.Producer.Err()
	c.lastRecErr = recErr
	c.mu.Unlock()
	c.setState(StateIdle)

	blocks := sess.stats.blocksConsumed.Load()
	c.log.Info("session stopped",
		logger.String("measurement_id", sess.desc.MeasurementID.String()),
		logger.Uint64("blocks_consumed", blocks))

	events.TryPublish(events.SessionEvent{
		EventKind:       events.KindSessionStopped,
		MeasurementID:   sess.desc.MeasurementID.String(),
		DeviceIDs:       sess.desc.DeviceIDs,
		Labels:          sess.desc.Labels(),
		Channels:        sess.desc.ChannelCount,
		SampleRate:      sess.desc.SampleRate,
		SamplesPerBlock: sess.desc.SamplesPerBlock,
		StartedAt:       sess.desc.StartTime,
		StoppedAt:       time.Now(),
		BlocksConsumed:  blocks,
	})

	return errors.Join(errs...)
}

// StartRecording asks the consumer to open a new recording at its next iteration
func (c *Controller) StartRecording() error {
	return c.requestRecording(true)
}

// StopRecording asks the consumer to close the recording at its next iteration
func (c *Controller) StopRecording() error {
	return c.requestRecording(false)
}

// canRecord reports whether both a recorder and a path resolver are set
func (c *Controller) canRecord() bool {
	return c.opts.Recorder != nil && c.opts.RecordingPath != nil
}

func (c *Controller) requestRecording(on bool) error {
	if !c.canRecord() {
		return ErrRecordingUnavailable
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil || c.State() != StateRunning {
		return ErrNotRunning
	}
	c.sess.recordReq.Store(on)
	return nil
}

// Descriptor returns the running session descriptor, or nil when idle
func (c *Controller) Descriptor() *Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.desc
}

// Status returns a snapshot of the controller and the current session
func (c *Controller) Status() Status {
	st := Status{State: c.State()}

	c.mu.RLock()
	sess := c.sess
	prodErr, recErr := c.lastProdErr, c.lastRecErr
	c.mu.RUnlock()

	if sess == nil {
		st.ProducerError = errorString(prodErr)
		st.RecorderError = errorString(recErr)
		return st
	}

	segment, recErr := sess.stats.snapshot()
	st.MeasurementID = sess.desc.MeasurementID.String()
	st.DeviceIDs = sess.desc.DeviceIDs
	st.Channels = sess.desc.ChannelCount
	st.SampleRate = sess.desc.SampleRate
	st.SamplesPerBlock = sess.desc.SamplesPerBlock
	st.StartedAt = sess.desc.StartTime
	st.BlocksConsumed = sess.stats.blocksConsumed.Load()
	st.BufferDepth = sess.buf.Len()
	st.ProducerRunning = c.opts.Producer.IsRunning()
	st.Recording = sess.stats.recording.Load()
	st.Segments = int(sess.stats.segments.Load())
	if st.Recording {
		st.Segment = segment
	}
	st.ProducerError = errorString(c.opts.Producer.Err())
	st.RecorderError = errorString(recErr)
	return st
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
