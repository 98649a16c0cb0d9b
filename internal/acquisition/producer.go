package acquisition

// ProducerConfig is read once before a session starts
type ProducerConfig struct {
	DeviceIDs       []string
	Channels        []int // 1-based amplifier inputs
	SampleRate      int
	SamplesPerBlock int // requested block length, producers may adjust it
}

// Producer owns the device for a session and feeds blocks into the buffer
// from its own goroutine.
type Producer interface {
	// Open opens and configures the device. On failure nothing is left open.
	Open(cfg ProducerConfig) error

	// BlockShape returns the geometry of produced blocks. Valid after Open.
	BlockShape() BlockShape

	// Start launches the polling loop pushing into out
	Start(out BlockQueue) error

	// IsRunning reports whether the polling loop is active
	IsRunning() bool

	// Stop ends the polling loop and releases the device. It is safe without
	// a prior Open and returns only after the device has been released.
	Stop() error

	// Err returns the read failure that ended the polling loop, if any
	Err() error
}
