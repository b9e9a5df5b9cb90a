package graph

import (
	"sync"

	"github.com/roach88/entitycache/internal/feed"
)

// opQueue is an unbounded FIFO of feed ops.
//
// Enqueue may be called from any goroutine; only Run dequeues. The signal
// channel (buffered, size 1) lets Run wait on the queue and a context at
// the same time.
type opQueue struct {
	mu     sync.Mutex
	ops    []feed.Op
	closed bool
	signal chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{
		ops:    make([]feed.Op, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends op. Returns false once the queue is closed.
func (q *opQueue) Enqueue(op feed.Op) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.ops = append(q.ops, op)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front op without blocking.
func (q *opQueue) TryDequeue() (feed.Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return feed.Op{}, false
	}
	op := q.ops[0]
	// Release payload references held by the backing array.
	q.ops[0] = feed.Op{}
	if len(q.ops) == 1 {
		q.ops = q.ops[:0]
	} else {
		q.ops = q.ops[1:]
	}
	return op, true
}

// Wait returns a channel that fires when ops may be available. It is
// closed when the queue closes.
func (q *opQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Drained reports whether the queue is closed and empty.
func (q *opQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.ops) == 0
}

// Close stops further enqueues and wakes the waiter.
func (q *opQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
