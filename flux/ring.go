package flux

import "sync/atomic"

// Ring is a bounded single-producer/single-consumer queue of samples.
// One goroutine may call Push, one other may call Pop. When the ring is
// full, Push drops the sample and counts the overflow instead of blocking,
// so the producer side never stalls.
type Ring struct {
	buf       []int32
	mask      uint64
	head      atomic.Uint64 // next write position
	tail      atomic.Uint64 // next read position
	overflows atomic.Uint64
}

// NewRing creates a ring with the given capacity, rounded up to a power of two.
func NewRing(capacity int) *Ring {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring{
		buf:  make([]int32, size),
		mask: uint64(size - 1),
	}
}

// Push appends one sample. Returns false and counts an overflow if full.
func (r *Ring) Push(v int32) bool {
	head := r.head.Load()
	if head-r.tail.Load() > r.mask {
		r.overflows.Add(1)
		return false
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest sample. Returns ok=false if the ring is empty.
func (r *Ring) Pop() (int32, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return 0, false
	}
	v := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return v, true
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Overflows returns the number of samples dropped by Push.
func (r *Ring) Overflows() uint64 {
	return r.overflows.Load()
}
