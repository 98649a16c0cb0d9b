package catalog

import (
	"strings"
	"time"
)

// Session is one acquisition session
type Session struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	MeasurementID   string     `gorm:"size:36;uniqueIndex" json:"measurementId"`
	DeviceIDs       string     `gorm:"size:255" json:"deviceIds"` // comma separated
	Labels          string     `gorm:"type:text" json:"labels"`   // comma separated
	Channels        int        `json:"channels"`
	SampleRate      int        `json:"sampleRate"`
	SamplesPerBlock int        `json:"samplesPerBlock"`
	StartedAt       time.Time  `gorm:"index" json:"startedAt"`
	StoppedAt       *time.Time `json:"stoppedAt,omitempty"`
	BlocksConsumed  uint64     `json:"blocksConsumed"`
}

// Segment is one finalized recording file
type Segment struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	MeasurementID string    `gorm:"size:36;index" json:"measurementId"`
	Path          string    `gorm:"size:1024" json:"path"`
	Number        int       `json:"number"`
	Samples       int64     `json:"samples"`
	DurationMs    int64     `json:"durationMs"`
	Next          string    `gorm:"size:255" json:"next,omitempty"`
	OpenedAt      time.Time `json:"openedAt"`
	ClosedAt      time.Time `gorm:"index" json:"closedAt"`
}

func joinList(values []string) string {
	return strings.Join(values, ",")
}

// SplitList reverses the comma separated storage of DeviceIDs and Labels
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}
