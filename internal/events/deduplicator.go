package events

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// DeduplicationConfig holds configuration for failure deduplication
type DeduplicationConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

// DefaultDeduplicationConfig returns default deduplication settings
func DefaultDeduplicationConfig() *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:    true,
		TTL:        5 * time.Minute,
		MaxEntries: 256,
	}
}

// FailureDeduplicator suppresses identical failure events seen within the TTL
type FailureDeduplicator struct {
	config *DeduplicationConfig
	mu     sync.Mutex
	seen   map[uint64]time.Time
	now    func() time.Time

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64
}

// NewFailureDeduplicator creates a new deduplicator
func NewFailureDeduplicator(config *DeduplicationConfig) *FailureDeduplicator {
	if config == nil {
		config = DefaultDeduplicationConfig()
	}
	return &FailureDeduplicator{
		config: config,
		seen:   make(map[uint64]time.Time),
		now:    time.Now,
	}
}

// ShouldProcess reports whether the failure is new within the TTL window
func (fd *FailureDeduplicator) ShouldProcess(event FailureEvent) bool {
	if fd == nil || !fd.config.Enabled {
		return true
	}
	fd.totalSeen.Add(1)

	key := failureKey(event)
	now := fd.now()

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if last, ok := fd.seen[key]; ok && now.Sub(last) <= fd.config.TTL {
		fd.totalSuppressed.Add(1)
		return false
	}

	if len(fd.seen) >= fd.config.MaxEntries {
		fd.evictLocked(now)
	}
	fd.seen[key] = now
	return true
}

// evictLocked drops expired entries, or the oldest one when none expired
func (fd *FailureDeduplicator) evictLocked(now time.Time) {
	var oldestKey uint64
	var oldest time.Time
	for k, t := range fd.seen {
		if now.Sub(t) > fd.config.TTL {
			delete(fd.seen, k)
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldestKey, oldest = k, t
		}
	}
	if len(fd.seen) >= fd.config.MaxEntries && !oldest.IsZero() {
		delete(fd.seen, oldestKey)
	}
}

// failureKey hashes the fields identifying a failure, excluding timestamps
func failureKey(event FailureEvent) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(event.EventKind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(event.Component))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(event.Message()))
	return h.Sum64()
}

// DeduplicationStats contains deduplication metrics
type DeduplicationStats struct {
	TotalSeen       uint64
	TotalSuppressed uint64
	CacheSize       int
}

// GetStats returns deduplication statistics
func (fd *FailureDeduplicator) GetStats() DeduplicationStats {
	if fd == nil {
		return DeduplicationStats{}
	}
	fd.mu.Lock()
	size := len(fd.seen)
	fd.mu.Unlock()
	return DeduplicationStats{
		TotalSeen:       fd.totalSeen.Load(),
		TotalSuppressed: fd.totalSuppressed.Load(),
		CacheSize:       size,
	}
}
