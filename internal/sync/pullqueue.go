package sync

import "sync"

// PullQueue is the transient FIFO of remote records awaiting local
// application. Items are produced by the windowed poll or an explicit
// single-record refresh and consumed exactly once by the pull worker.
//
// The queue is in-memory on purpose: losing it only costs redundant
// re-delivery on the next poll, which the pull worker's identity lookup
// makes idempotent. Thread-safety covers external producers (HTTP
// handlers) enqueueing while the worker drains.
type PullQueue struct {
	mu     sync.Mutex
	items  []PullItem
	signal chan struct{}
}

// NewPullQueue creates an empty pull queue.
func NewPullQueue() *PullQueue {
	return &PullQueue{
		items:  make([]PullItem, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an item to the back of the queue.
func (q *PullQueue) Enqueue(item PullItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	// Coalesced wakeup for a blocked drainer.
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes and returns the front item without blocking.
func (q *PullQueue) TryDequeue() (PullItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PullItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the current backlog depth.
func (q *PullQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait returns a channel that receives after an Enqueue. Multiple
// enqueues may coalesce into one wakeup; callers must re-check
// TryDequeue.
func (q *PullQueue) Wait() <-chan struct{} {
	return q.signal
}
