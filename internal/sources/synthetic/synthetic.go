// Package synthetic provides a timer driven producer generating sine plus
// noise blocks. It stands in for an amplifier when no hardware is attached
// and can inject open and read failures.
package synthetic

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const componentSynthetic = "synthetic-source"

// Defaults applied when the session config leaves them unset
const (
	DefaultChannels        = 16
	DefaultBlocksPerSecond = 12
)

// Config shapes the generated signal
type Config struct {
	Frequency float64 // sine frequency in Hz
	Amplitude float64 // peak amplitude in µV
	Noise     float64 // uniform noise amplitude in µV
	FailAfter int     // fail with a read error after this many blocks, 0 never fails
	FailOpen  bool    // Open reports an unavailable device
	Unpaced   bool    // push as fast as the buffer accepts instead of at the sample rate
	Seed      uint64
}

// Producer implements acquisition.Producer
type Producer struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	pcfg   acquisition.ProducerConfig
	shape  acquisition.BlockShape
	opened bool
	cancel context.CancelFunc
	err    error
	wg     sync.WaitGroup

	running atomic.Bool
	blocks  atomic.Uint64
}

// GetLogger returns the synthetic source logger
func GetLogger() logger.Logger {
	return logger.Global().Module("synthetic")
}

// New creates a producer; log may be nil
func New(cfg Config, log logger.Logger) *Producer {
	if log == nil {
		log = GetLogger()
	}
	return &Producer{cfg: cfg, log: log}
}

// Open validates the session configuration and fixes the block shape
func (p *Producer) Open(cfg acquisition.ProducerConfig) error {
	if p.cfg.FailOpen {
		return errors.Newf("synthetic device %v not found", cfg.DeviceIDs).
			Component(componentSynthetic).
			Category(errors.CategoryDevice).
			Context("operation", "open").
			Build()
	}
	if cfg.SampleRate <= 0 {
		return errors.Newf("invalid sample rate %d", cfg.SampleRate).
			Component(componentSynthetic).
			Category(errors.CategoryValidation).
			Context("operation", "open").
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

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pcfg = cfg
	p.shape = acquisition.BlockShape{Channels: channels, SamplesPerBlock: samples}
	p.opened = true
	p.err = nil
	p.blocks.Store(0)

	p.log.Info("synthetic device opened",
		logger.Any("device_ids", cfg.DeviceIDs),
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

// Start launches the generator goroutine
func (p *Producer) Start(out acquisition.BlockQueue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return errors.Newf("synthetic device not opened").
			Component(componentSynthetic).
			Category(errors.CategoryState).
			Context("operation", "start").
			Build()
	}
	if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running.Store(true)
	p.wg.Add(1)
	go p.generate(ctx, out, p.pcfg.SampleRate, p.shape)
	return nil
}

// generate pushes blocks until cancelled or the injected failure triggers
func (p *Producer) generate(ctx context.Context, out acquisition.BlockQueue, sampleRate int, shape acquisition.BlockShape) {
	defer p.wg.Done()
	defer p.running.Store(false)

	blockDur := time.Duration(shape.SamplesPerBlock) * time.Second / time.Duration(sampleRate)
	var limiter *rate.Limiter
	if !p.cfg.Unpaced {
		limiter = rate.NewLimiter(rate.Every(blockDur), 1)
	}
	rng := rand.New(rand.NewPCG(p.cfg.Seed, uint64(shape.Channels)))

	var sample int64
	for seq := uint64(0); ; seq++ {
		if p.cfg.FailAfter > 0 && seq == uint64(p.cfg.FailAfter) {
			p.fail(out, seq)
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		} else if ctx.Err() != nil {
			return
		}

		block := p.synthesize(rng, shape, sampleRate, sample)
		block.Sequence = seq
		block.Timestamp = time.Now()
		sample += int64(shape.SamplesPerBlock)

		if !out.Push(block) {
			return
		}
		p.blocks.Add(1)
	}
}

// synthesize fills one block. Channel ch is phase shifted by ch/channels of a period.
func (p *Producer) synthesize(rng *rand.Rand, shape acquisition.BlockShape, sampleRate int, first int64) *acquisition.SampleBlock {
	block := acquisition.NewSampleBlock(shape.Channels, shape.SamplesPerBlock)
	for ch := range shape.Channels {
		phase := 2 * math.Pi * float64(ch) / float64(shape.Channels)
		row := block.Row(ch)
		for i := range row {
			t := float64(first+int64(i)) / float64(sampleRate)
			v := p.cfg.Amplitude * math.Sin(2*math.Pi*p.cfg.Frequency*t+phase)
			if p.cfg.Noise > 0 {
				v += p.cfg.Noise * (2*rng.Float64() - 1)
			}
			row[i] = v
		}
	}
	return block
}

// fail records a simulated read failure and wakes the consumer
func (p *Producer) fail(out acquisition.BlockQueue, seq uint64) {
	err := errors.Newf("synthetic read failure after %d blocks", seq).
		Component(componentSynthetic).
		Category(errors.CategoryDeviceRead).
		Context("operation", "read_block").
		Build()

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.running.Store(false)

	p.log.Warn("device read failed, acquisition loop stopped", logger.Error(err))
	out.Interrupt()
}

// IsRunning reports whether the generator goroutine is active
func (p *Producer) IsRunning() bool {
	return p.running.Load()
}

// Stop ends the generator and closes the device. It is safe to call at any time.
func (p *Producer) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	wasOpen := p.opened
	p.opened = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	if wasOpen {
		p.log.Info("synthetic device closed", logger.Uint64("blocks", p.blocks.Load()))
	}
	return nil
}

// Err returns the injected read failure, if it happened
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Blocks returns the number of blocks pushed since Open
func (p *Producer) Blocks() uint64 {
	return p.blocks.Load()
}
