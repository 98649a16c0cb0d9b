package acquisition

import (
	"sync"
)

// DefaultBufferCapacity is the number of blocks held between producer and consumer
const DefaultBufferCapacity = 8

// BlockQueue is the producer side of the sample buffer
type BlockQueue interface {
	// Push blocks while the queue is full. It returns false when the queue
	// was released during shutdown and the block was discarded.
	Push(block *SampleBlock) bool

	// Interrupt wakes a consumer blocked on the empty queue so it can see
	// that the producer stopped.
	Interrupt()
}

// SampleBuffer is a fixed capacity FIFO of sample blocks. Push blocks while
// full, Pop blocks while empty. ReleaseWaiters unblocks consumers during
// shutdown; it stays in effect until Clear.
type SampleBuffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items       []*SampleBlock
	head        int
	count       int
	released    bool
	interrupted bool
}

// NewSampleBuffer creates a buffer holding up to capacity blocks
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 1 {
		capacity = DefaultBufferCapacity
	}
	b := &SampleBuffer{items: make([]*SampleBlock, capacity)}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Push appends block, waiting while the buffer is full
func (b *SampleBuffer) Push(block *SampleBlock) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == len(b.items) && !b.released {
		b.notFull.Wait()
	}
	if b.count == len(b.items) {
		// Released while full: nobody will drain the queue
		return false
	}

	b.items[(b.head+b.count)%len(b.items)] = block
	b.count++
	b.notEmpty.Signal()
	return true
}

// Pop removes the head block, waiting while the buffer is empty. ok is false
// when the buffer is empty and has been released or interrupted.
func (b *SampleBuffer) Pop() (block *SampleBlock, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.released && !b.interrupted {
		b.notEmpty.Wait()
	}
	if b.count == 0 {
		b.interrupted = false
		return nil, false
	}

	block = b.items[b.head]
	b.items[b.head] = nil
	b.head = (b.head + 1) % len(b.items)
	b.count--
	b.notFull.Signal()
	return block, true
}

// Interrupt makes the next Pop on an empty buffer return the sentinel once
func (b *SampleBuffer) Interrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interrupted = true
	b.notEmpty.Broadcast()
}

// ReleaseWaiters wakes every blocked Pop and Push. Pops on an empty buffer
// return the sentinel until Clear is called. Idempotent.
func (b *SampleBuffer) ReleaseWaiters() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Clear drops all queued blocks and re-arms a released buffer. Call it only
// after producer and consumer have stopped.
func (b *SampleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.head = 0
	b.count = 0
	b.released = false
	b.interrupted = false
}

// Len returns the number of queued blocks
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity
func (b *SampleBuffer) Cap() int {
	return len(b.items)
}

// Released reports whether ReleaseWaiters is in effect
func (b *SampleBuffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}
