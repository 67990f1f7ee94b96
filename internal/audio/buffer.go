package audio

import (
	"math"
	"sync"
)

// SampleRing is a thread-safe ring buffer holding the most recent samples.
// Unlike a byte queue it never rejects writes: once full, the oldest
// samples are overwritten.
type SampleRing struct {
	buffer []float32
	size   int
	write  int
	filled int
	mu     sync.RWMutex
}

// NewSampleRing creates a new ring with room for size samples
func NewSampleRing(size int) *SampleRing {
	if size < 1 {
		size = 1
	}
	return &SampleRing{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write appends samples, overwriting the oldest ones when the ring is full.
// Returns the number of samples consumed from data.
func (r *SampleRing) Write(data []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the tail of a large write can survive
	if len(data) > r.size {
		data = data[len(data)-r.size:]
	}

	for _, s := range data {
		r.buffer[r.write] = s
		r.write = (r.write + 1) % r.size
	}
	r.filled += len(data)
	if r.filled > r.size {
		r.filled = r.size
	}

	return len(data)
}

// RMS returns the root mean square of the buffered samples without copying them
func (r *SampleRing) RMS() float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.filled == 0 {
		return 0
	}

	start := (r.write - r.filled + r.size) % r.size
	sum := 0.0
	for i := 0; i < r.filled; i++ {
		s := float64(r.buffer[(start+i)%r.size])
		sum += s * s
	}
	return float32(math.Sqrt(sum / float64(r.filled)))
}

// Clear drops every buffered sample
func (r *SampleRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.write = 0
	r.filled = 0
}

// IsEmpty returns true if the buffer is empty
func (r *SampleRing) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filled == 0
}
