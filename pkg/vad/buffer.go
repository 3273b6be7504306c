package vad

import (
	"fmt"
	"log/slog"
)

// CircularBuffer is a ring of samples addressed by linear indices. Head and
// Tail only grow; Size is Tail-Head. A full buffer doubles its capacity.
type CircularBuffer struct {
	buf  []float32
	head int
	tail int
}

// NewCircularBuffer returns a buffer holding capacity samples before it
// has to grow.
func NewCircularBuffer(capacity int) *CircularBuffer {
	return &CircularBuffer{buf: make([]float32, max(capacity, 1))}
}

// Size returns the number of buffered samples.
func (b *CircularBuffer) Size() int { return b.tail - b.head }

// Head returns the linear index of the oldest buffered sample.
func (b *CircularBuffer) Head() int { return b.head }

// Tail returns one past the linear index of the newest sample.
func (b *CircularBuffer) Tail() int { return b.tail }

// Capacity returns the current capacity.
func (b *CircularBuffer) Capacity() int { return len(b.buf) }

// Push appends samples, growing the buffer if needed.
func (b *CircularBuffer) Push(samples []float32) {
	if need := b.Size() + len(samples); need > len(b.buf) {
		c := len(b.buf)
		for c < need {
			c *= 2
		}
		slog.Debug("vad: growing circular buffer", "from", len(b.buf), "to", c)
		b.Resize(c)
	}
	n := len(b.buf)
	start := b.tail % n
	k := copy(b.buf[start:], samples)
	copy(b.buf, samples[k:])
	b.tail += len(samples)
}

// Get returns a copy of n samples starting at linear index start, which
// must lie in [Head, Tail-n].
func (b *CircularBuffer) Get(start, n int) []float32 {
	if start < b.head || start+n > b.tail || n < 0 {
		panic(fmt.Sprintf("vad: Get(%d, %d) outside [%d, %d)", start, n, b.head, b.tail))
	}
	out := make([]float32, n)
	size := len(b.buf)
	s := start % size
	k := copy(out, b.buf[s:min(s+n, size)])
	copy(out[k:], b.buf[:n-k])
	return out
}

// Pop discards the n oldest samples. n must be in [0, Size].
func (b *CircularBuffer) Pop(n int) {
	if n < 0 || n > b.Size() {
		panic(fmt.Sprintf("vad: Pop(%d) with %d buffered", n, b.Size()))
	}
	b.head += n
}

// Reset empties the buffer and restarts indices at zero.
func (b *CircularBuffer) Reset() {
	b.head, b.tail = 0, 0
}

// Resize changes the capacity, keeping the buffered samples and their
// linear indices. Shrinking below Size is ignored.
func (b *CircularBuffer) Resize(capacity int) {
	if capacity <= b.Size() || capacity == len(b.buf) {
		return
	}
	data := b.Get(b.head, b.Size())
	b.buf = make([]float32, capacity)
	s := b.head % capacity
	k := copy(b.buf[s:], data)
	copy(b.buf, data[k:])
}
