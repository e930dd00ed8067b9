// Package queue provides the bounded channel between the ingestion worker
// and the consumer.
package queue

import "sync/atomic"

const DefaultCapacity = 1000

// Queue is a bounded multiple-producer single-consumer queue. Pushing to a
// full queue drops the new item instead of blocking the producer.
type Queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
	onDrop  func()
}

type Option[T any] func(*Queue[T])

// WithDropHook registers fn to be called for every dropped item
func WithDropHook[T any](fn func()) Option[T] {
	return func(q *Queue[T]) {
		q.onDrop = fn
	}
}

func New[T any](capacity int, opts ...Option[T]) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	q := &Queue[T]{ch: make(chan T, capacity)}
	for _, opt := range opts {
		opt(q)
	}

	return q
}

// TryPush enqueues v without blocking. It reports false when the queue was
// full and v was dropped.
func (q *Queue[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
		return false
	}
}

// TryPop dequeues one item without blocking
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Drain hands every currently buffered item to fn and returns the count.
// Items pushed while draining may or may not be included.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := q.TryPop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

// Discard empties the queue and returns how many items were thrown away
func (q *Queue[T]) Discard() int {
	return q.Drain(func(T) {})
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Dropped returns the number of items rejected because the queue was full
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
