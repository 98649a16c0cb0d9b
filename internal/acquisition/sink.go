package acquisition

// Sink receives scaled blocks for real-time consumers. Publish must not block
// for long; sinks buffer or drop on their own.
type Sink interface {
	Publish(block *SampleBlock)
	SetChannelCount(n int)
	SetSampleRate(hz int)
	Clear()
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) Publish(*SampleBlock) {}
func (NopSink) SetChannelCount(int)  {}
func (NopSink) SetSampleRate(int)    {}
func (NopSink) Clear()               {}

// Recorder persists raw blocks into a chain of segment files. It is used by
// one goroutine at a time.
type Recorder interface {
	Open(path string, desc *Descriptor) error
	WriteBlock(block *SampleBlock) (int, error)
	Rotate() error
	Close() error
	IsOpen() bool
	// CurrentPath returns the segment being written, empty when closed
	CurrentPath() string
}

// PathFunc returns the first segment path for a new recording
type PathFunc func(desc *Descriptor) (string, error)
