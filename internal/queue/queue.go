// Package queue provides the blocking handoff queue that decouples the
// network feed from aggregation. Producers never block; the consumer blocks
// in Pop until an item arrives or the queue is invalidated. Invalidation wins
// over remaining items so shutdown is prompt — drain with TryPop first if the
// backlog matters.
package queue

import "sync"

// Queue is a FIFO safe for multiple producers and consumers.
type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
	valid bool
}

// New creates a valid, empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{valid: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item and wakes one blocked consumer. Never blocks.
// Pushes after Invalidate are silently discarded.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	if q.valid {
		q.items = append(q.items, item)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Pop blocks until an item is available or the queue is invalidated.
// Once invalidated it returns ok == false immediately, even if items remain.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && q.valid {
		q.cond.Wait()
	}
	if !q.valid {
		var zero T
		return zero, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// TryPop pops without blocking. Returns ok == false when the queue is empty
// or invalidated.
func (q *Queue[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || !q.valid {
		var zero T
		return zero, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the current backlog size.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Invalidate marks the queue unusable and wakes all blocked consumers.
func (q *Queue[T]) Invalidate() {
	q.mu.Lock()
	q.valid = false
	q.cond.Broadcast()
	q.mu.Unlock()
}
