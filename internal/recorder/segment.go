package recorder

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/biosig-go/internal/acquisition"
)

// Segment files hold 32-bit integer PCM, one WAV channel per signal channel
const (
	bitDepth     = 32
	formatPCM    = 1
	maxDigital   = math.MaxInt32
	minDigital   = math.MinInt32
	segmentPerms = 0o644
)

// segmentWriter owns one open segment file
type segmentWriter struct {
	path     string
	file     *os.File
	enc      *wav.Encoder
	header   Header
	format   *audio.Format
	frame    []int // reused interleave buffer
	openedAt time.Time
}

// createSegment creates path and writes the WAV header immediately, so a
// segment exists on disk even before the first block.
func createSegment(path string, header Header) (*segmentWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, segmentPerms)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment: %w", err)
	}

	format := &audio.Format{NumChannels: header.Channels, SampleRate: header.SampleRate}
	enc := wav.NewEncoder(f, header.SampleRate, bitDepth, header.Channels, formatPCM)
	if err := enc.Write(&audio.IntBuffer{Data: []int{}, Format: format, SourceBitDepth: bitDepth}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write segment header: %w", err)
	}

	return &segmentWriter{
		path:     path,
		file:     f,
		enc:      enc,
		header:   header,
		format:   format,
		openedAt: time.Now(),
	}, nil
}

// write appends the raw block as calibrated integers and returns the columns written
func (s *segmentWriter) write(block *acquisition.SampleBlock) (int, error) {
	if block.Channels != s.header.Channels {
		return 0, fmt.Errorf("block has %d channels, segment has %d", block.Channels, s.header.Channels)
	}

	n := block.Channels * block.Samples
	if cap(s.frame) < n {
		s.frame = make([]int, n)
	}
	frame := s.frame[:n]

	// WAV frames interleave channels, blocks are row-major
	for col := range block.Samples {
		for ch := range block.Channels {
			frame[col*block.Channels+ch] = toDigital(block.At(ch, col), s.header.Calibration)
		}
	}

	if err := s.enc.Write(&audio.IntBuffer{Data: frame, Format: s.format, SourceBitDepth: bitDepth}); err != nil {
		return 0, err
	}
	s.header.Samples += int64(block.Samples)
	return block.Samples, nil
}

// finish writes the header entries and the optional link, then closes the file
func (s *segmentWriter) finish(next *Link) error {
	s.header.Next = next
	s.enc.Metadata = s.header.metadata()

	encErr := s.enc.Close()
	closeErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize segment: %w", encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close segment: %w", closeErr)
	}
	return nil
}

// toDigital maps a raw value onto the stored integer scale
func toDigital(raw, calibration float64) int {
	v := math.Round(raw / calibration)
	switch {
	case math.IsNaN(v):
		return 0
	case v > maxDigital:
		return maxDigital
	case v < minDigital:
		return minDigital
	}
	return int(v)
}
