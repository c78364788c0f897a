package telemetry

import (
	"sync"
	"time"
)

// Buffer retains recent telemetry for one device under two limits: a
// maximum sample count and a maximum age relative to the newest sample.
//
// Eviction happens lazily on Append, so an idle device keeps its last
// readings visible even when they are older than the age limit.
//
// Thread Safety: all methods are safe for concurrent use.
type Buffer struct {
	mu         sync.RWMutex
	samples    []*DeviceData
	maxSamples int
	maxAge     time.Duration
}

// NewBuffer creates a retention buffer. Non-positive limits disable the
// corresponding bound.
func NewBuffer(maxSamples int, maxAge time.Duration) *Buffer {
	return &Buffer{
		maxSamples: maxSamples,
		maxAge:     maxAge,
	}
}

// Append stores a sample and evicts anything past either limit. Samples
// are assumed to arrive in timestamp order, which the per-device read
// loop guarantees.
func (b *Buffer) Append(data *DeviceData) {
	if data == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, data)

	if b.maxSamples > 0 && len(b.samples) > b.maxSamples {
		b.samples = b.samples[len(b.samples)-b.maxSamples:]
	}

	if b.maxAge > 0 {
		cutoff := b.samples[len(b.samples)-1].Timestamp.Add(-b.maxAge)
		firstValid := 0
		for firstValid < len(b.samples) && b.samples[firstValid].Timestamp.Before(cutoff) {
			firstValid++
		}
		if firstValid > 0 {
			b.samples = b.samples[firstValid:]
		}
	}
}

// Latest returns the newest sample, or nil when the buffer is empty.
func (b *Buffer) Latest() *DeviceData {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.samples) == 0 {
		return nil
	}
	return b.samples[len(b.samples)-1]
}

// Snapshot returns the retained samples, oldest first. The returned
// slice is the caller's to keep.
func (b *Buffer) Snapshot() []*DeviceData {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*DeviceData, len(b.samples))
	copy(out, b.samples)
	return out
}

// Len reports the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Clear drops all retained samples.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}

// BufferSet maintains one Buffer per device, creating buffers on first
// use with shared limits.
type BufferSet struct {
	mu         sync.Mutex
	buffers    map[string]*Buffer
	maxSamples int
	maxAge     time.Duration
}

// NewBufferSet creates an empty per-device buffer collection.
func NewBufferSet(maxSamples int, maxAge time.Duration) *BufferSet {
	return &BufferSet{
		buffers:    make(map[string]*Buffer),
		maxSamples: maxSamples,
		maxAge:     maxAge,
	}
}

// For returns the buffer for a device, creating it if needed.
func (s *BufferSet) For(deviceID string) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[deviceID]
	if !ok {
		buf = NewBuffer(s.maxSamples, s.maxAge)
		s.buffers[deviceID] = buf
	}
	return buf
}

// Remove discards a device's buffer entirely.
func (s *BufferSet) Remove(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, deviceID)
}
