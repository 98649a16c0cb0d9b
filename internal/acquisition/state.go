package acquisition

import (
	"time"
)

// State is the session lifecycle phase
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the controller and the current session
type Status struct {
	State           State     `json:"state"`
	MeasurementID   string    `json:"measurement_id,omitempty"`
	DeviceIDs       []string  `json:"device_ids,omitempty"`
	Channels        int       `json:"channels"`
	SampleRate      int       `json:"sample_rate"`
	SamplesPerBlock int       `json:"samples_per_block"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	BlocksConsumed  uint64    `json:"blocks_consumed"`
	BufferDepth     int       `json:"buffer_depth"`
	ProducerRunning bool      `json:"producer_running"`
	Recording       bool      `json:"recording"`
	Segment         string    `json:"segment,omitempty"`
	Segments        int       `json:"segments"`
	ProducerError   string    `json:"producer_error,omitempty"`
	RecorderError   string    `json:"recorder_error,omitempty"`
}
