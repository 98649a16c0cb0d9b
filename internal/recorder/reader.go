package recorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/wav"

	"github.com/tphakala/biosig-go/internal/errors"
)

// maxChainLength bounds link following on corrupt or cyclic chains
const maxChainLength = 100000

// Segment is a decoded segment file
type Segment struct {
	Path   string
	Header *Header
	Data   [][]float64 // per channel, raw units (digital * calibration)
}

// ReadSegmentHeader decodes the header and link of the segment at path
func ReadSegmentHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, readError(err, "open_segment", path)
	}
	defer f.Close()

	h, _, err := readHeader(f)
	if err != nil {
		return nil, readError(err, "read_header", path)
	}
	return h, nil
}

// ReadSegment decodes the header and all samples of the segment at path
func ReadSegment(path string) (*Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, readError(err, "open_segment", path)
	}
	defer f.Close()

	h, numChans, err := readHeader(f)
	if err != nil {
		return nil, readError(err, "read_header", path)
	}
	if numChans != h.Channels {
		return nil, readError(fmt.Errorf("header lists %d channels, file has %d", h.Channels, numChans), "read_header", path)
	}

	// The INFO chunk follows the PCM data, so samples need a fresh decoder
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, readError(err, "rewind", path)
	}
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		return nil, readError(err, "read_samples", path)
	}

	columns := len(buf.Data) / h.Channels
	data := make([][]float64, h.Channels)
	for ch := range data {
		row := make([]float64, columns)
		for col := range row {
			row[col] = float64(buf.Data[col*h.Channels+ch]) * h.Calibration
		}
		data[ch] = row
	}
	return &Segment{Path: path, Header: h, Data: data}, nil
}

func readHeader(f *os.File) (*Header, int, error) {
	dec := wav.NewDecoder(f)
	dec.ReadMetadata()
	if err := dec.Err(); err != nil {
		return nil, 0, err
	}
	if dec.BitDepth != bitDepth {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}
	h, err := parseHeader(dec.Metadata)
	if err != nil {
		return nil, 0, err
	}
	if int(dec.SampleRate) != h.SampleRate {
		return nil, 0, fmt.Errorf("header sample rate %d does not match file rate %d", h.SampleRate, dec.SampleRate)
	}
	return h, int(dec.NumChans), nil
}

// ChainEntry is one segment of a chain with its resolved path
type ChainEntry struct {
	Path   string
	Header *Header
}

// ReadChain follows forward links from first and returns every segment
// header in order. A missing successor or a link to another measurement is
// an error; the entries read so far are returned with it.
func ReadChain(first string) ([]ChainEntry, error) {
	var chain []ChainEntry
	seen := make(map[string]bool)

	path := first
	for {
		abs, err := filepath.Abs(path)
		if err != nil {
			return chain, readError(err, "resolve_path", path)
		}
		if seen[abs] || len(chain) >= maxChainLength {
			return chain, readError(fmt.Errorf("segment chain loops back to %s", path), "follow_link", path)
		}
		seen[abs] = true

		h, err := ReadSegmentHeader(path)
		if err != nil {
			return chain, err
		}
		if len(chain) > 0 {
			prev := chain[len(chain)-1].Header
			if h.MeasurementID != prev.MeasurementID {
				return chain, readError(fmt.Errorf("segment belongs to measurement %s, chain is %s", h.MeasurementID, prev.MeasurementID), "follow_link", path)
			}
			if h.Number != prev.Next.Number {
				return chain, readError(fmt.Errorf("segment number %d, link expects %d", h.Number, prev.Next.Number), "follow_link", path)
			}
		}
		chain = append(chain, ChainEntry{Path: path, Header: h})

		if h.Next == nil {
			return chain, nil
		}
		path = filepath.Join(filepath.Dir(path), h.Next.File)
	}
}

// ChainSamples returns the total sample columns and the sample rate of chain
func ChainSamples(chain []ChainEntry) (samples int64, rate int) {
	for _, e := range chain {
		samples += e.Header.Samples
		rate = e.Header.SampleRate
	}
	return samples, rate
}

func readError(err error, operation, path string) error {
	return errors.New(err).
		Component(componentRecorder).
		Category(errors.CategoryFileParsing).
		Context("operation", operation).
		Context("path", path).
		Build()
}
