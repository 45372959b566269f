package announce

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned by Push when the queue is at its hard limit.
	ErrQueueFull = errors.New("announce: queue full")

	// ErrQueueClosed is returned by Push after Close.
	ErrQueueClosed = errors.New("announce: queue closed")
)

// Queue is a FIFO ring that doubles its capacity once it reaches 70% full,
// up to a hard limit. Push never blocks so it is safe to call from the
// connection event loop.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	tail   int
	n      int
	limit  int // 0 = unbounded
	closed bool

	pushed  int64
	popped  int64
	dropped int64
	grows   int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Grows    int
}

// NewQueue creates a queue with the given initial capacity and hard limit.
func NewQueue[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit > 0 && limit < initial {
		limit = initial
	}
	q := &Queue[T]{
		ring:  make([]T, initial),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	threshold := len(q.ring) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.n+1 >= threshold && (q.limit == 0 || len(q.ring) < q.limit) {
		q.resize()
	}
	if q.n == len(q.ring) {
		q.dropped++
		return ErrQueueFull
	}

	q.ring[q.tail] = item
	q.tail = (q.tail + 1) % len(q.ring)
	q.n++
	q.pushed++
	q.cond.Signal()
	return nil
}

// Pop blocks until an item is available. It returns false once the queue is
// closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.n == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.take()
}

// TryPop returns the next item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take()
}

// Close rejects further pushes and wakes blocked consumers. Items already
// queued are still returned by Pop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.n,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Grows:    q.grows,
	}
}

// take removes the head item. Must be called with lock held.
func (q *Queue[T]) take() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	q.popped++
	return item, true
}

// resize doubles the ring, clamped to the limit. Must be called with lock held.
func (q *Queue[T]) resize() {
	size := len(q.ring) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	if size == len(q.ring) {
		return
	}

	ring := make([]T, size)
	if q.n > 0 {
		if q.head < q.tail {
			copy(ring, q.ring[q.head:q.tail])
		} else {
			k := copy(ring, q.ring[q.head:])
			copy(ring[k:], q.ring[:q.tail])
		}
	}

	q.ring = ring
	q.head = 0
	q.tail = q.n
	q.grows++
}
