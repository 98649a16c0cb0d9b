// Package acquisition implements the sample pipeline: a producer polling the
// amplifier, a bounded blocking buffer, a consumer that scales, publishes and
// records blocks, and the controller that starts and stops a session.
package acquisition

import (
	"time"
)

// BlockShape is the fixed geometry of every block in a session
type BlockShape struct {
	Channels        int
	SamplesPerBlock int
}

// SampleBlock is one acquired chunk of multi-channel samples stored row-major,
// one row per channel. A block is not modified after it is pushed.
type SampleBlock struct {
	Channels  int
	Samples   int
	Data      []float64
	Sequence  uint64    // producer assigned, starts at 0 per session
	Timestamp time.Time // time the block was produced
}

// NewSampleBlock allocates a zeroed block
func NewSampleBlock(channels, samples int) *SampleBlock {
	return &SampleBlock{
		Channels: channels,
		Samples:  samples,
		Data:     make([]float64, channels*samples),
	}
}

// Shape returns the block geometry
func (b *SampleBlock) Shape() BlockShape {
	return BlockShape{Channels: b.Channels, SamplesPerBlock: b.Samples}
}

// At returns the sample of channel ch at column i
func (b *SampleBlock) At(ch, i int) float64 {
	return b.Data[ch*b.Samples+i]
}

// Set stores v at channel ch, column i. Only producers call it before pushing.
func (b *SampleBlock) Set(ch, i int, v float64) {
	b.Data[ch*b.Samples+i] = v
}

// Row returns the samples of channel ch. The slice aliases the block.
func (b *SampleBlock) Row(ch int) []float64 {
	return b.Data[ch*b.Samples : (ch+1)*b.Samples]
}

// Scaled returns a copy of the block with every sample multiplied by factor
func (b *SampleBlock) Scaled(factor float64) *SampleBlock {
	out := &SampleBlock{
		Channels:  b.Channels,
		Samples:   b.Samples,
		Data:      make([]float64, len(b.Data)),
		Sequence:  b.Sequence,
		Timestamp: b.Timestamp,
	}
	for i, v := range b.Data {
		out.Data[i] = v * factor
	}
	return out
}

// DurationMs returns the block length in milliseconds at rate samples per second
func (b *SampleBlock) DurationMs(rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(b.Samples) / float64(rate) * 1000
}
