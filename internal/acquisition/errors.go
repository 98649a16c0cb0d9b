package acquisition

import (
	"github.com/tphakala/biosig-go/internal/errors"
)

const componentAcquisition = "acquisition"

// Error kinds. Errors built with the same category match these sentinels
// through errors.Is.
var (
	// ErrDeviceUnavailable means the producer could not open or configure the device
	ErrDeviceUnavailable = sentinel("device unavailable", errors.CategoryDevice)

	// ErrDeviceReadFailure means the device failed mid-session and the producer stopped
	ErrDeviceReadFailure = sentinel("device read failure", errors.CategoryDeviceRead)

	// ErrBufferReleased marks the sentinel pop during shutdown. It is never
	// returned to callers.
	ErrBufferReleased = sentinel("sample buffer released", errors.CategoryBuffer)

	// ErrRecorderIO means a segment could not be opened or written; recording stopped
	ErrRecorderIO = sentinel("recorder I/O failure", errors.CategoryRecording)

	// ErrInvalidStart means Start was called while a session exists
	ErrInvalidStart = sentinel("invalid start request", errors.CategoryState)

	// ErrNotRunning means a session operation needs a running session
	ErrNotRunning = sentinel("no running session", errors.CategoryNoSession)

	// ErrRecordingUnavailable means no recorder is configured
	ErrRecordingUnavailable = sentinel("recording not configured", errors.CategoryConfiguration)
)

func sentinel(msg string, category errors.ErrorCategory) *errors.EnhancedError {
	return errors.Newf("%s", msg).
		Component(componentAcquisition).
		Category(category).
		Build()
}

// deviceUnavailable wraps a producer open failure
func deviceUnavailable(err error, cfg ProducerConfig) error {
	return errors.New(err).
		Component(componentAcquisition).
		Category(errors.CategoryDevice).
		Context("operation", "open_producer").
		Context("device_ids", cfg.DeviceIDs).
		Context("sample_rate", cfg.SampleRate).
		Build()
}

// recorderIO wraps a recorder failure with the operation that failed
func recorderIO(err error, operation, path string) error {
	return errors.New(err).
		Component(componentAcquisition).
		Category(errors.CategoryRecording).
		Context("operation", operation).
		Context("path", path).
		Build()
}
