package acquisition

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockWithSeq(seq int) *SampleBlock {
	b := NewSampleBlock(1, 1)
	b.Sequence = uint64(seq)
	return b
}

func TestSampleBufferFIFO(t *testing.T) {
	buf := NewSampleBuffer(8)
	for i := range 8 {
		require.True(t, buf.Push(blockWithSeq(i)))
	}
	assert.Equal(t, 8, buf.Len())

	for i := range 8 {
		b, ok := buf.Pop()
		require.True(t, ok)
		assert.Equal(t, uint64(i), b.Sequence)
	}
	assert.Equal(t, 0, buf.Len())
}

func TestSampleBufferWrapAround(t *testing.T) {
	buf := NewSampleBuffer(3)
	for round := range 5 {
		for i := range 2 {
			require.True(t, buf.Push(blockWithSeq(round*2+i)))
		}
		for i := range 2 {
			b, ok := buf.Pop()
			require.True(t, ok)
			assert.Equal(t, uint64(round*2+i), b.Sequence)
		}
	}
}

func TestSampleBufferBackpressure(t *testing.T) {
	buf := NewSampleBuffer(2)
	require.True(t, buf.Push(blockWithSeq(0)))
	require.True(t, buf.Push(blockWithSeq(1)))

	pushed := make(chan bool)
	go func() { pushed <- buf.Push(blockWithSeq(2)) }()

	select {
	case <-pushed:
		t.Fatal("push returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	b, ok := buf.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(0), b.Sequence)

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pop made room")
	}
	assert.Equal(t, 2, buf.Len())
}

func TestSampleBufferReleaseUnblocksPop(t *testing.T) {
	buf := NewSampleBuffer(4)

	type result struct {
		block *SampleBlock
		ok    bool
	}
	popped := make(chan result)
	go func() {
		b, ok := buf.Pop()
		popped <- result{b, ok}
	}()

	select {
	case <-popped:
		t.Fatal("pop returned on an empty buffer")
	case <-time.After(20 * time.Millisecond):
	}

	buf.ReleaseWaiters()
	select {
	case r := <-popped:
		assert.False(t, r.ok)
		assert.Nil(t, r.block)
	case <-time.After(time.Second):
		t.Fatal("release did not unblock pop")
	}

	// Released stays in effect for later pops
	_, ok := buf.Pop()
	assert.False(t, ok)
	buf.ReleaseWaiters()
	assert.True(t, buf.Released())
}

func TestSampleBufferReleaseReturnsQueuedItemsFirst(t *testing.T) {
	buf := NewSampleBuffer(4)
	require.True(t, buf.Push(blockWithSeq(7)))
	buf.ReleaseWaiters()

	b, ok := buf.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(7), b.Sequence)

	_, ok = buf.Pop()
	assert.False(t, ok)
}

func TestSampleBufferReleaseUnblocksFullPush(t *testing.T) {
	buf := NewSampleBuffer(1)
	require.True(t, buf.Push(blockWithSeq(0)))

	pushed := make(chan bool)
	go func() { pushed <- buf.Push(blockWithSeq(1)) }()
	time.Sleep(20 * time.Millisecond)

	buf.ReleaseWaiters()
	select {
	case ok := <-pushed:
		assert.False(t, ok, "push into a released full buffer discards the block")
	case <-time.After(time.Second):
		t.Fatal("release did not unblock push")
	}
}

func TestSampleBufferClearRearms(t *testing.T) {
	buf := NewSampleBuffer(4)
	require.True(t, buf.Push(blockWithSeq(1)))
	require.True(t, buf.Push(blockWithSeq(2)))
	buf.ReleaseWaiters()

	buf.Clear()
	assert.Equal(t, 0, buf.Len())
	assert.False(t, buf.Released())

	require.True(t, buf.Push(blockWithSeq(3)))
	b, ok := buf.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(3), b.Sequence)
}

func TestSampleBufferInterrupt(t *testing.T) {
	buf := NewSampleBuffer(4)

	done := make(chan bool)
	go func() {
		_, ok := buf.Pop()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	buf.Interrupt()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not unblock pop")
	}

	// The interrupt is consumed; data flows normally afterwards
	require.True(t, buf.Push(blockWithSeq(5)))
	b, ok := buf.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(5), b.Sequence)
	assert.False(t, buf.Released())
}

func TestSampleBufferConcurrentOrder(t *testing.T) {
	const total = 2000
	buf := NewSampleBuffer(8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			buf.Push(blockWithSeq(i))
		}
	}()

	for i := range total {
		b, ok := buf.Pop()
		require.True(t, ok)
		require.Equal(t, uint64(i), b.Sequence)
	}
	wg.Wait()
}

func TestNewSampleBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultBufferCapacity, NewSampleBuffer(0).Cap())
	assert.Equal(t, 3, NewSampleBuffer(3).Cap())
}
