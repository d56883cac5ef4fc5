// Package queue provides an unbounded, growable FIFO used wherever a producer must never block
// on a slow consumer: per-subscriber event streams and long-poll connection queues.
package queue

import (
	"context"
	"sync"
)

// Queue is a thread-safe FIFO ring buffer that doubles its capacity when it reaches 70% full.
// Push never blocks and never drops while the queue is open.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// ready holds a token while items may be available; done closes on Close.
	ready chan struct{}
	done  chan struct{}

	// Stats
	totalPushed int64
	totalPopped int64
	resizeCount int
}

// Stats contains queue statistics.
type Stats struct {
	Count       int
	Capacity    int
	TotalPushed int64
	TotalPopped int64
	ResizeCount int
}

// New creates a queue with the given initial capacity.
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalPushed++

	q.signal()
	return true
}

// Pop removes the oldest item, blocking until one is available, the queue is closed and empty,
// or ctx is done. The bool is false when no item was returned.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if item, ok, closed := q.tryPop(); ok || closed {
			return item, ok
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	item, ok, _ := q.tryPop()
	return item, ok
}

// Wait blocks until at least one item is queued, the queue is closed, or ctx is done. It reports
// whether items are available.
func (q *Queue[T]) Wait(ctx context.Context) bool {
	for {
		q.mu.Lock()
		count, closed := q.count, q.closed
		q.mu.Unlock()

		if count > 0 {
			return true
		}
		if closed {
			return false
		}

		select {
		case <-q.ready:
			// Put the token back for a concurrent Pop.
			q.mu.Lock()
			if q.count > 0 {
				q.signal()
			}
			q.mu.Unlock()
		case <-q.done:
		case <-ctx.Done():
			return false
		}
	}
}

// DrainTo removes up to max items (all when max <= 0) and returns them in order.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = q.popLocked()
	}
	if q.count > 0 {
		q.signal()
	}
	return result
}

// Close closes the queue. Push returns false afterwards; queued items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:       q.count,
		Capacity:    q.capacity,
		TotalPushed: q.totalPushed,
		TotalPopped: q.totalPopped,
		ResizeCount: q.resizeCount,
	}
}

func (q *Queue[T]) tryPop() (item T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return item, false, q.closed
	}
	item = q.popLocked()
	if q.count > 0 {
		q.signal()
	}
	return item, true, false
}

// popLocked must be called with the lock held and count > 0.
func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalPopped++
	return item
}

// signal leaves a wake-up token without blocking. Must be called with the lock held.
func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// grow doubles the capacity. Must be called with the lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizeCount++
}
