package acquisition

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Channel defaults for amplifier EEG inputs
const (
	ChannelKindEEG = "EEG"
	ChannelUnitV   = "V"
)

// ChannelInfo describes one acquired channel
type ChannelInfo struct {
	Index     int    // row in every SampleBlock
	Number    int    // 1-based amplifier input
	Label     string // "EEG 000", "EEG 001", ...
	Kind      string
	Unit      string
	LogicalNo int
}

// Descriptor holds the session constants shared read-only by the consumer
// and the recorder once the producer has reported its block shape.
type Descriptor struct {
	MeasurementID   uuid.UUID
	StartTime       time.Time
	DeviceIDs       []string
	Channels        []ChannelInfo
	ChannelCount    int
	SamplesPerBlock int
	SampleRate      int
	HighPass        float64 // Hz
	LowPass         float64 // Hz, Nyquist by default
}

// NewDescriptor builds the session descriptor from the producer configuration
// and the shape the producer reported after opening the device.
func NewDescriptor(cfg ProducerConfig, shape BlockShape, highPass float64) (*Descriptor, error) {
	if shape.Channels <= 0 || shape.SamplesPerBlock <= 0 {
		return nil, fmt.Errorf("invalid block shape %dx%d", shape.Channels, shape.SamplesPerBlock)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}

	channels := make([]ChannelInfo, shape.Channels)
	for i := range channels {
		number := i + 1
		if i < len(cfg.Channels) {
			number = cfg.Channels[i]
		}
		channels[i] = ChannelInfo{
			Index:     i,
			Number:    number,
			Label:     fmt.Sprintf("%s %03d", ChannelKindEEG, i),
			Kind:      ChannelKindEEG,
			Unit:      ChannelUnitV,
			LogicalNo: i + 1,
		}
	}

	return &Descriptor{
		MeasurementID:   uuid.New(),
		StartTime:       time.Now(),
		DeviceIDs:       slices.Clone(cfg.DeviceIDs),
		Channels:        channels,
		ChannelCount:    shape.Channels,
		SamplesPerBlock: shape.SamplesPerBlock,
		SampleRate:      cfg.SampleRate,
		HighPass:        highPass,
		LowPass:         float64(cfg.SampleRate) / 2,
	}, nil
}

// Labels returns the channel labels in row order
func (d *Descriptor) Labels() []string {
	labels := make([]string, len(d.Channels))
	for i, ch := range d.Channels {
		labels[i] = ch.Label
	}
	return labels
}

// BlockDuration returns the time span of one full block
func (d *Descriptor) BlockDuration() time.Duration {
	return time.Duration(d.SamplesPerBlock) * time.Second / time.Duration(d.SampleRate)
}
