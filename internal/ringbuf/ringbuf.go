// Package ringbuf provides a growable FIFO ring buffer. The impulse detector
// keeps its rolling price/volume windows in it: samples are pushed at the back
// and evicted from the front, so both ends are O(1).
//
// Not safe for concurrent use; the owner serializes access.
package ringbuf

// minCapacity is the smallest backing array allocated.
const minCapacity = 16

// Ring is a FIFO ring buffer. Capacity is a power of two and doubles when full.
type Ring[T any] struct {
	buf  []T
	mask int
	head int // index of the oldest element
	n    int
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
func New[T any](capacity int) *Ring[T] {
	c := nextPow2(capacity)
	if c < minCapacity {
		c = minCapacity
	}
	return &Ring[T]{
		buf:  make([]T, c),
		mask: c - 1,
	}
}

// Push appends v at the back, growing the buffer if needed.
func (r *Ring[T]) Push(v T) {
	if r.n == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.n)&r.mask] = v
	r.n++
}

// PopFront removes and returns the oldest element.
// Returns false if the buffer is empty.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) & r.mask
	r.n--
	return v, true
}

// Front returns the oldest element without removing it.
func (r *Ring[T]) Front() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

// Back returns the newest element without removing it.
func (r *Ring[T]) Back() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.n-1)&r.mask], true
}

// At returns the i-th element counted from the oldest (0 = oldest).
// Panics if i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)&r.mask]
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the current buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Reset drops all elements but keeps the backing array.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.n = 0
}

func (r *Ring[T]) grow() {
	next := make([]T, len(r.buf)*2)
	for i := 0; i < r.n; i++ {
		next[i] = r.buf[(r.head+i)&r.mask]
	}
	r.buf = next
	r.mask = len(next) - 1
	r.head = 0
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
