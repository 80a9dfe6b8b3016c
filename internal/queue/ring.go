// Package queue provides the lock-free hand-off between the market-data
// stream and the decision loop.
package queue

import (
	"fmt"
	"sync/atomic"
)

// slot holds one element and its sequence number. The producer publishes a
// value at position p by storing seq = p+1; the consumer frees the slot by
// storing seq = p+size.
type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a fixed-capacity single-producer/single-consumer ring buffer.
// Push and Pop never block and never allocate. Exactly one goroutine may
// call Push and exactly one goroutine may call Pop.
type Ring[T any] struct {
	_    [64]byte
	head atomic.Uint64 // consumer cursor
	_    [56]byte
	tail atomic.Uint64 // producer cursor
	_    [56]byte

	mask uint64
	size uint64
	buf  []slot[T]
}

// NewRing creates a ring with the given capacity, which must be a positive
// power of two.
func NewRing[T any](size int) (*Ring[T], error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("queue: size %d must be a positive power of two", size)
	}
	r := &Ring[T]{
		mask: uint64(size - 1),
		size: uint64(size),
		buf:  make([]slot[T], size),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Push enqueues v. It returns false without blocking when the ring is full;
// the value is dropped and the caller decides what to do about it.
func (r *Ring[T]) Push(v T) bool {
	t := r.tail.Load()
	s := &r.buf[t&r.mask]
	if s.seq.Load() != t {
		return false
	}
	s.val = v
	s.seq.Store(t + 1)
	r.tail.Store(t + 1)
	return true
}

// Pop dequeues the oldest value. ok is false when the ring is empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	h := r.head.Load()
	s := &r.buf[h&r.mask]
	if s.seq.Load() != h+1 {
		return v, false
	}
	v = s.val
	var zero T
	s.val = zero
	s.seq.Store(h + r.size)
	r.head.Store(h + 1)
	return v, true
}

// Len returns an approximate number of queued elements.
func (r *Ring[T]) Len() int {
	t, h := r.tail.Load(), r.head.Load()
	if t < h {
		return 0
	}
	return int(t - h)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return int(r.size)
}
