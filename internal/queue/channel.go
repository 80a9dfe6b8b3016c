package queue

import "sync/atomic"

// Channel couples a Ring with a one-slot wake signal so the consumer can
// wait in a select statement instead of spinning. Send never blocks: when
// the ring is full the newest value is dropped and counted.
type Channel[T any] struct {
	ring    *Ring[T]
	ready   chan struct{}
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewChannel creates a Channel backed by a ring of the given capacity.
func NewChannel[T any](size int) (*Channel[T], error) {
	r, err := NewRing[T](size)
	if err != nil {
		return nil, err
	}
	return &Channel[T]{ring: r, ready: make(chan struct{}, 1)}, nil
}

// Send pushes v and wakes the consumer. It returns false if v was dropped.
func (c *Channel[T]) Send(v T) bool {
	if !c.ring.Push(v) {
		c.dropped.Add(1)
		return false
	}
	c.sent.Add(1)
	select {
	case c.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready fires after one or more Sends. The consumer must drain with TryRecv
// until it reports empty, since several sends share one wake-up.
func (c *Channel[T]) Ready() <-chan struct{} {
	return c.ready
}

// TryRecv pops the next value without blocking.
func (c *Channel[T]) TryRecv() (T, bool) {
	return c.ring.Pop()
}

// Len returns the approximate backlog.
func (c *Channel[T]) Len() int { return c.ring.Len() }

// Dropped returns how many values were rejected because the ring was full.
func (c *Channel[T]) Dropped() uint64 { return c.dropped.Load() }

// Sent returns how many values were accepted.
func (c *Channel[T]) Sent() uint64 { return c.sent.Load() }
