package sinks

import "github.com/tphakala/biosig-go/internal/acquisition"

// Fanout forwards every call to each sink in order
type Fanout []acquisition.Sink

// NewFanout drops nil entries; a single sink is returned unwrapped
func NewFanout(sinks ...acquisition.Sink) acquisition.Sink {
	var f Fanout
	for _, s := range sinks {
		if s != nil {
			f = append(f, s)
		}
	}
	switch len(f) {
	case 0:
		return acquisition.NopSink{}
	case 1:
		return f[0]
	default:
		return f
	}
}

func (f Fanout) Publish(block *acquisition.SampleBlock) {
	for _, s := range f {
		s.Publish(block)
	}
}

func (f Fanout) SetChannelCount(n int) {
	for _, s := range f {
		s.SetChannelCount(n)
	}
}

func (f Fanout) SetSampleRate(hz int) {
	for _, s := range f {
		s.SetSampleRate(hz)
	}
}

func (f Fanout) Clear() {
	for _, s := range f {
		s.Clear()
	}
}
