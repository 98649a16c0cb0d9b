// Package soundcard captures multi-channel blocks from an audio interface or
// USB ADC through miniaudio. The device callback copies raw frames into a
// byte ring; an assembler goroutine cuts the ring into fixed-shape blocks
// and pushes them into the acquisition buffer.
package soundcard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/time/rate"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const componentSoundcard = "soundcard-source"

// Defaults applied when the session config leaves them unset
const (
	DefaultChannels        = 2
	DefaultBlocksPerSecond = 12
	DefaultFullScale       = 1e6 // µV at digital full scale
	ringBlocks             = 32  // ring capacity in blocks
)

// captureFormat is requested from miniaudio, which converts device formats
const captureFormat = malgo.FormatS32

// Config tunes the capture
type Config struct {
	FullScale float64 // µV corresponding to digital full scale
}

// Producer implements acquisition.Producer on top of a malgo capture device
type Producer struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	ring   *ringbuffer.RingBuffer
	shape  acquisition.BlockShape
	cancel context.CancelFunc
	err    error
	wg     sync.WaitGroup

	frameBytes int
	notify     chan struct{} // device callback wakes the assembler
	stopping   atomic.Bool
	running    atomic.Bool

	overruns       atomic.Uint64
	overrunLimiter *rate.Limiter
}

// GetLogger returns the sound card source logger
func GetLogger() logger.Logger {
	return logger.Global().Module("soundcard")
}

// New creates a producer; log may be nil
func New(cfg Config, log logger.Logger) *Producer {
	if cfg.FullScale <= 0 {
		cfg.FullScale = DefaultFullScale
	}
	if log == nil {
		log = GetLogger()
	}
	return &Producer{
		cfg:            cfg,
		log:            log,
		overrunLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Open selects and initializes the capture device. DeviceIDs are matched
// against device ids and names; the first match wins.
func (p *Producer) Open(cfg acquisition.ProducerConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return errors.Newf("capture device already open").
			Component(componentSoundcard).
			Category(errors.CategoryState).
			Build()
	}

	channels := len(cfg.Channels)
	if channels == 0 {
		channels = DefaultChannels
	}
	samples := cfg.SamplesPerBlock
	if samples <= 0 {
		samples = max(1, cfg.SampleRate/DefaultBlocksPerSecond)
	}
	if cfg.SampleRate <= 0 {
		return errors.Newf("invalid sample rate %d", cfg.SampleRate).
			Component(componentSoundcard).
			Category(errors.CategoryValidation).
			Build()
	}

	mctx, err := initContext()
	if err != nil {
		return err
	}
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		releaseContext(mctx)
		return errors.New(err).
			Component(componentSoundcard).
			Category(errors.CategoryDevice).
			Context("operation", "list_devices").
			Build()
	}
	index, err := selectDevice(describeDevices(infos), cfg.DeviceIDs)
	if err != nil {
		releaseContext(mctx)
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = captureFormat
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if index >= 0 {
		deviceConfig.Capture.DeviceID = infos[index].ID.Pointer()
	}

	width, _ := bytesPerSample(captureFormat)
	p.frameBytes = width * channels
	p.ring = ringbuffer.New(p.frameBytes * samples * ringBlocks)
	p.notify = make(chan struct{}, 1)
	p.shape = acquisition.BlockShape{Channels: channels, SamplesPerBlock: samples}
	p.err = nil
	p.stopping.Store(false)
	p.overruns.Store(0)

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: p.onFrames,
		Stop: p.onDeviceStop,
	})
	if err != nil {
		releaseContext(mctx)
		return errors.New(err).
			Component(componentSoundcard).
			Category(errors.CategoryDevice).
			Context("operation", "init_device").
			Context("device_ids", cfg.DeviceIDs).
			Build()
	}
	if got := int(device.SampleRate()); got != cfg.SampleRate {
		device.Uninit()
		releaseContext(mctx)
		return errors.Newf("device runs at %d Hz, %d Hz requested", got, cfg.SampleRate).
			Component(componentSoundcard).
			Category(errors.CategoryDevice).
			Context("operation", "init_device").
			Build()
	}

	p.mctx = mctx
	p.device = device
	name := "default"
	if index >= 0 {
		name = infos[index].Name()
	}
	p.log.Info("capture device opened",
		logger.String("device", name),
		logger.Int("channels", channels),
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("samples_per_block", samples))
	return nil
}

// BlockShape returns the shape fixed by Open
func (p *Producer) BlockShape() acquisition.BlockShape {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shape
}

// Start starts the device and the block assembler
func (p *Producer) Start(out acquisition.BlockQueue) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return errors.Newf("capture device not opened").
			Component(componentSoundcard).
			Category(errors.CategoryState).
			Build()
	}
	if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running.Store(true)
	if err := p.device.Start(); err != nil {
		cancel()
		p.cancel = nil
		p.running.Store(false)
		return errors.New(err).
			Component(componentSoundcard).
			Category(errors.CategoryDevice).
			Context("operation", "start_device").
			Build()
	}

	p.wg.Add(1)
	go p.assemble(ctx, out, p.shape)
	return nil
}

// onFrames runs on the miniaudio thread and must not block
func (p *Producer) onFrames(_, input []byte, _ uint32) {
	if _, err := p.ring.Write(input); err != nil {
		n := p.overruns.Add(1)
		if p.overrunLimiter.Allow() {
			p.log.Warn("capture ring overrun, frames dropped",
				logger.Uint64("overruns", n),
				logger.Int("ring_free", p.ring.Free()))
		}
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// onDeviceStop fires for requested stops and for device loss
func (p *Producer) onDeviceStop() {
	if p.stopping.Load() {
		return
	}
	err := errors.Newf("capture device stopped unexpectedly").
		Component(componentSoundcard).
		Category(errors.CategoryDeviceRead).
		Context("operation", "read_block").
		Build()

	p.mu.Lock()
	p.err = err
	cancel := p.cancel
	p.mu.Unlock()

	p.log.Warn("device read failed, acquisition loop stopped", logger.Error(err))
	if cancel != nil {
		cancel()
	}
}

// assemble cuts the ring into blocks until cancelled
func (p *Producer) assemble(ctx context.Context, out acquisition.BlockQueue, shape acquisition.BlockShape) {
	defer p.wg.Done()
	defer func() {
		p.running.Store(false)
		if p.Err() != nil {
			out.Interrupt()
		}
	}()

	blockBytes := p.frameBytes * shape.SamplesPerBlock
	raw := make([]byte, blockBytes)
	var seq uint64

	for {
		for p.ring.Length() >= blockBytes {
			if _, err := p.ring.Read(raw); err != nil {
				break
			}
			block := acquisition.NewSampleBlock(shape.Channels, shape.SamplesPerBlock)
			if err := deinterleave(raw, captureFormat, block, p.cfg.FullScale); err != nil {
				p.log.Error("dropping malformed block", logger.Error(err))
				continue
			}
			block.Sequence = seq
			block.Timestamp = time.Now()
			seq++
			if !out.Push(block) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}
	}
}

// IsRunning reports whether blocks are being assembled
func (p *Producer) IsRunning() bool {
	return p.running.Load()
}

// Stop stops and releases the device. It is safe without a prior Open.
func (p *Producer) Stop() error {
	p.stopping.Store(true)

	p.mu.Lock()
	device, mctx, cancel := p.device, p.mctx, p.cancel
	p.device, p.mctx, p.cancel = nil, nil, nil
	p.mu.Unlock()

	var stopErr error
	if device != nil {
		if device.IsStarted() {
			stopErr = device.Stop()
		}
		device.Uninit()
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	if mctx != nil {
		releaseContext(mctx)
		p.log.Info("capture device closed", logger.Uint64("overruns", p.overruns.Load()))
	}

	if stopErr != nil {
		return errors.New(stopErr).
			Component(componentSoundcard).
			Category(errors.CategoryDevice).
			Context("operation", "stop_device").
			Build()
	}
	return nil
}

// Err returns the failure that ended the capture, if any
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
