// Package sinks implements the downstream consumers of scaled sample blocks:
// a rolling in-memory window feeding live viewers, an MQTT publisher and a
// fan-out combining several sinks behind the single acquisition.Sink the
// pipeline publishes to.
package sinks

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/logger"
)

// DefaultHistory is the number of blocks kept when none is configured
const DefaultHistory = 32

// GetLogger returns the sinks logger
func GetLogger() logger.Logger {
	return logger.Global().Module("sinks")
}

// Format is the stream geometry announced by the pipeline
type Format struct {
	Channels   int `json:"channels"`
	SampleRate int `json:"sampleRate"`
}

// Realtime keeps the most recent blocks and forwards new ones to subscribers.
// Slow subscribers lose blocks instead of stalling the pipeline.
type Realtime struct {
	mu      sync.RWMutex
	history []*acquisition.SampleBlock
	head    int // index of the oldest block once the window is full
	full    bool
	format  Format
	subs    map[uint64]chan *acquisition.SampleBlock
	nextID  uint64

	dropped atomic.Uint64
}

// NewRealtime creates a window holding up to history blocks
func NewRealtime(history int) *Realtime {
	if history < 1 {
		history = DefaultHistory
	}
	return &Realtime{
		history: make([]*acquisition.SampleBlock, 0, history),
		subs:    make(map[uint64]chan *acquisition.SampleBlock),
	}
}

// Publish appends block to the window and offers it to every subscriber
func (r *Realtime) Publish(block *acquisition.SampleBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		r.history = append(r.history, block)
		r.full = len(r.history) == cap(r.history)
	} else {
		r.history[r.head] = block
		r.head = (r.head + 1) % len(r.history)
	}

	for _, ch := range r.subs {
		select {
		case ch <- block:
		default:
			r.dropped.Add(1)
		}
	}
}

// SetChannelCount records the channel count of the stream
func (r *Realtime) SetChannelCount(n int) {
	r.mu.Lock()
	r.format.Channels = n
	r.mu.Unlock()
}

// SetSampleRate records the sample rate of the stream
func (r *Realtime) SetSampleRate(hz int) {
	r.mu.Lock()
	r.format.SampleRate = hz
	r.mu.Unlock()
}

// Clear drops the window. Subscribers stay registered.
func (r *Realtime) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.history)
	r.history = r.history[:0]
	r.head = 0
	r.full = false
}

// Format returns the announced stream geometry
func (r *Realtime) Format() Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.format
}

// Snapshot returns the window oldest first
func (r *Realtime) Snapshot() []*acquisition.SampleBlock {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*acquisition.SampleBlock, 0, len(r.history))
	out = append(out, r.history[r.head:]...)
	out = append(out, r.history[:r.head]...)
	return out
}

// Subscribe registers a receiver with room for buffer pending blocks. The
// returned cancel function unregisters it and closes the channel.
func (r *Realtime) Subscribe(buffer int) (<-chan *acquisition.SampleBlock, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *acquisition.SampleBlock, buffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered receivers
func (r *Realtime) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dropped returns how many deliveries were skipped for full subscribers
func (r *Realtime) Dropped() uint64 {
	return r.dropped.Load()
}
