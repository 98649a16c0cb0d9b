package recorder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/tphakala/biosig-go/internal/acquisition"
)

// Software is written into the INFO chunk of every segment
const Software = "biosig"

// Link is the forward reference stored in a non-final segment
type Link struct {
	File          string // successor file name, relative to the segment directory
	Number        int    // successor segment number
	MeasurementID string
}

// Header is the measurement metadata carried by one segment
type Header struct {
	MeasurementID   string
	Number          int   // position in the chain, 0 for the first segment
	FirstSample     int64 // always 0, every segment restarts the sample count
	SampleRate      int
	SamplesPerBlock int
	Channels        int
	Labels          []string
	DeviceIDs       []string
	Calibration     float64 // raw units per stored integer step
	HighPass        float64
	LowPass         float64
	StartTime       time.Time
	Samples         int64 // sample columns in the segment
	Next            *Link // nil for the last segment
}

// Duration returns the time span covered by the segment
func (h *Header) Duration() time.Duration {
	if h.SampleRate <= 0 {
		return 0
	}
	return time.Duration(h.Samples) * time.Second / time.Duration(h.SampleRate)
}

func newHeader(desc *acquisition.Descriptor, number int, calibration float64) Header {
	return Header{
		MeasurementID:   desc.MeasurementID.String(),
		Number:          number,
		SampleRate:      desc.SampleRate,
		SamplesPerBlock: desc.SamplesPerBlock,
		Channels:        desc.ChannelCount,
		Labels:          desc.Labels(),
		DeviceIDs:       desc.DeviceIDs,
		Calibration:     calibration,
		HighPass:        desc.HighPass,
		LowPass:         desc.LowPass,
		StartTime:       desc.StartTime,
	}
}

// INFO keys inside the keywords entry
const (
	keyFirstSample = "first_sample"
	keySegment     = "seg"
	keyCalibration = "cal"
	keyHighPass    = "hp"
	keyLowPass     = "lp"
	keyRate        = "sfreq"
	keyBlock       = "spb"
	keyChannels    = "ch"
	keySamples     = "n"
	keyNext        = "next"
	keyNextNumber  = "num"
	keyNextID      = "id"
)

// metadata renders h into the INFO entries of a segment
func (h *Header) metadata() *wav.Metadata {
	keywords := joinPairs(
		keyFirstSample, strconv.FormatInt(h.FirstSample, 10),
		keySegment, strconv.Itoa(h.Number),
		keyCalibration, formatFloat(h.Calibration),
		keyHighPass, formatFloat(h.HighPass),
		keyLowPass, formatFloat(h.LowPass),
		keyRate, strconv.Itoa(h.SampleRate),
		keyBlock, strconv.Itoa(h.SamplesPerBlock),
		keyChannels, strconv.Itoa(h.Channels),
		keySamples, strconv.FormatInt(h.Samples, 10),
	)

	md := &wav.Metadata{
		Title:        pad(h.MeasurementID),
		Subject:      pad(strings.Join(h.Labels, ",")),
		Keywords:     pad(keywords),
		Source:       pad(strings.Join(h.DeviceIDs, ",")),
		Software:     pad(Software),
		CreationDate: pad(h.StartTime.UTC().Format(time.RFC3339Nano)),
	}
	if h.Next != nil {
		md.Comments = pad(joinPairs(
			keyNext, h.Next.File,
			keyNextNumber, strconv.Itoa(h.Next.Number),
			keyNextID, h.Next.MeasurementID,
		))
	}
	return md
}

// parseHeader is the inverse of metadata
func parseHeader(md *wav.Metadata) (*Header, error) {
	if md == nil {
		return nil, fmt.Errorf("segment has no INFO metadata")
	}
	if unpad(md.Software) != Software {
		return nil, fmt.Errorf("segment was not written by %s (software %q)", Software, unpad(md.Software))
	}

	kv := splitPairs(unpad(md.Keywords))
	h := &Header{MeasurementID: unpad(md.Title)}

	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{keySegment, &h.Number},
		{keyRate, &h.SampleRate},
		{keyBlock, &h.SamplesPerBlock},
		{keyChannels, &h.Channels},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(kv[f.key]); err != nil {
			return nil, fmt.Errorf("header field %s: %w", f.key, err)
		}
	}
	if h.FirstSample, err = strconv.ParseInt(kv[keyFirstSample], 10, 64); err != nil {
		return nil, fmt.Errorf("header field %s: %w", keyFirstSample, err)
	}
	if h.Samples, err = strconv.ParseInt(kv[keySamples], 10, 64); err != nil {
		return nil, fmt.Errorf("header field %s: %w", keySamples, err)
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{keyCalibration, &h.Calibration},
		{keyHighPass, &h.HighPass},
		{keyLowPass, &h.LowPass},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(kv[f.key], 64); err != nil {
			return nil, fmt.Errorf("header field %s: %w", f.key, err)
		}
	}

	if s := unpad(md.Subject); s != "" {
		h.Labels = strings.Split(s, ",")
	}
	if s := unpad(md.Source); s != "" {
		h.DeviceIDs = strings.Split(s, ",")
	}
	if s := unpad(md.CreationDate); s != "" {
		if h.StartTime, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return nil, fmt.Errorf("header creation date: %w", err)
		}
	}

	if c := unpad(md.Comments); c != "" {
		link := splitPairs(c)
		num, err := strconv.Atoi(link[keyNextNumber])
		if err != nil {
			return nil, fmt.Errorf("link field %s: %w", keyNextNumber, err)
		}
		h.Next = &Link{File: link[keyNext], Number: num, MeasurementID: link[keyNextID]}
		if h.Next.File == "" {
			return nil, fmt.Errorf("link without file name")
		}
	}
	return h, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// joinPairs renders alternating keys and values as "k=v;k=v"
func joinPairs(kv ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(kv[i])
		sb.WriteByte('=')
		sb.WriteString(kv[i+1])
	}
	return sb.String()
}

func splitPairs(s string) map[string]string {
	out := make(map[string]string)
	for part := range strings.SplitSeq(s, ";") {
		if k, v, ok := strings.Cut(part, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

// pad keeps every INFO entry at an even size including its terminating NUL.
// The wav decoder skips a pad byte after odd sized entries that the encoder
// never writes.
func pad(s string) string {
	if s != "" && len(s)%2 == 0 {
		return s + " "
	}
	return s
}

func unpad(s string) string {
	return strings.TrimRight(s, " \x00")
}
