package telemetry

import "sync"

// DefaultQueueSize is used when NewQueue is given a non-positive capacity.
const DefaultQueueSize = 1024

// Queue is a bounded in-memory FIFO of persistence writes.
//
// Enqueue never blocks: when the queue is full the oldest op is discarded to
// make room, so the ingest path always wins over durability.
type Queue struct {
	mu      sync.Mutex
	data    []Op
	cap     int
	dropped uint64
	closed  bool

	// ready has capacity one; a pending signal means "there may be work".
	ready chan struct{}
}

// NewQueue creates an empty queue holding at most capacity ops.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		data:  make([]Op, 0, capacity),
		cap:   capacity,
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends op. It returns the op that was evicted to make room, or nil.
// After Close it returns ErrQueueClosed and drops op.
func (q *Queue) Enqueue(op Op) (evicted Op, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if len(q.data) >= q.cap {
		evicted = q.data[0]
		q.data = append(q.data[:0], q.data[1:]...)
		q.dropped++
	}
	q.data = append(q.data, op)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted, nil
}

// DequeueBatch removes and returns up to max ops in FIFO order.
// max <= 0 returns everything queued.
func (q *Queue) DequeueBatch(max int) []Op {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]Op, max)
	copy(out, q.data[:max])
	n := copy(q.data, q.data[max:])
	clear(q.data[n:])
	q.data = q.data[:n]
	return out
}

// Ready is signalled after Enqueue.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued ops.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.cap
}

// Dropped returns how many ops have been evicted since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further Enqueue calls. Queued ops remain available to DequeueBatch.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
