// Package ring provides the lock-free audio sample ring buffer that backs
// the turn segmenter. A single writer pushes fixed-size frames; any number
// of readers can pull a byte range addressed by monotonic global sample
// index, as long as that range hasn't scrolled out of the buffer.
package ring

import (
	"sync/atomic"
)

// DefaultCapacity holds 20 seconds of audio at 16kHz.
const DefaultCapacity = 320_000

// Buffer is a single-producer, multi-consumer ring buffer of PCM samples,
// addressed by a monotonically increasing global sample index rather than
// a local read/write cursor. Readers never block the writer and never
// block each other.
type Buffer struct {
	samples  []int16
	capacity uint64

	writePos atomic.Uint64 // next write offset within samples, mod capacity
	global   atomic.Uint64 // total samples written so far
}

// New creates a ring buffer able to hold capacity samples.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		samples:  make([]int16, capacity),
		capacity: uint64(capacity),
	}
}

// Push writes samples into the buffer and returns the global index of the
// first sample written. The caller is the only writer; concurrent Push
// calls are not supported.
func (b *Buffer) Push(samples []int16) uint64 {
	start := b.global.Load()
	writePos := b.writePos.Load()

	for i, s := range samples {
		pos := (writePos + uint64(i)) % b.capacity
		b.samples[pos] = s
	}

	b.writePos.Store((writePos + uint64(len(samples))) % b.capacity)
	b.global.Store(start + uint64(len(samples)))
	return start
}

// GetRange returns a copy of samples in [start, end) addressed by global
// sample index. It returns ok=false if any part of the range has already
// scrolled out of the buffer (checked again after the copy), or if the
// range is empty/invalid.
func (b *Buffer) GetRange(start, end uint64) ([]int16, bool) {
	if end <= start {
		return nil, false
	}

	current := b.global.Load()
	var availableStart uint64
	if current > b.capacity {
		availableStart = current - b.capacity
	}

	if start < availableStart || end > current {
		return nil, false
	}

	writePos := b.writePos.Load()
	n := end - start
	out := make([]int16, n)
	for i := uint64(0); i < n; i++ {
		globalIdx := start + i
		ringPos := (writePos + b.capacity - (current - globalIdx)) % b.capacity
		out[i] = b.samples[ringPos]
	}

	// The writer may have overwritten part of the range during the copy.
	if now := b.global.Load(); now > b.capacity && start < now-b.capacity {
		return nil, false
	}
	return out, true
}

// CurrentGlobalIndex returns the number of samples written so far.
func (b *Buffer) CurrentGlobalIndex() uint64 {
	return b.global.Load()
}

// Capacity returns the buffer's sample capacity.
func (b *Buffer) Capacity() uint64 {
	return b.capacity
}
