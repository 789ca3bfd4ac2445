package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO that producers push into from any goroutine and
// a single consumer drains in one step.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	dropped uint64
	limit   int
}

// New creates a new unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// NewBounded creates a queue that holds at most limit items. Pushes beyond the
// limit are counted and discarded.
func NewBounded[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends items in order. It returns how many were accepted.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 {
		room := q.limit - len(q.items)
		if room < 0 {
			room = 0
		}
		if len(items) > room {
			q.dropped += uint64(len(items) - room)
			items = items[:room]
		}
	}
	q.items = append(q.items, items...)
	return len(items)
}

// Drain removes and returns every queued item in push order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether nothing is queued.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Dropped returns how many pushes were discarded by the bound.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
