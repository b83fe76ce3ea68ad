package procmgr

import (
	"sync"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
)

// SpawnQueue holds spawn requests that arrived while no slot was free.
// Requests are served strictly in arrival order, per class when dequeued
// with DequeueClass.
type SpawnQueue struct {
	mu    sync.Mutex
	items []SpawnRequest
	head  int
}

// NewSpawnQueue creates an empty queue
func NewSpawnQueue() *SpawnQueue {
	return &SpawnQueue{}
}

// Enqueue appends req to the tail
func (q *SpawnQueue) Enqueue(req SpawnRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
}

// Dequeue pops the head. Returns (req, true) if one was waiting.
func (q *SpawnQueue) Dequeue() (SpawnRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return SpawnRequest{}, false
	}

	req := q.items[q.head]
	q.items[q.head] = SpawnRequest{}
	q.head++

	// Compact once the consumed prefix dominates
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 32 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}

	return req, true
}

// DequeueClass pops the oldest request of class, skipping waiters of the
// other class.
func (q *SpawnQueue) DequeueClass(class isolation.Class) (SpawnRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := q.head; i < len(q.items); i++ {
		if q.items[i].Class != class {
			continue
		}
		req := q.items[i]
		copy(q.items[q.head+1:i+1], q.items[q.head:i])
		q.items[q.head] = SpawnRequest{}
		q.head++
		if q.head == len(q.items) {
			q.items = q.items[:0]
			q.head = 0
		}
		return req, true
	}
	return SpawnRequest{}, false
}

// Requeue puts req back at the head, ahead of every waiting request. It is
// used for a dequeued request that lost its slot to a concurrent start.
func (q *SpawnQueue) Requeue(req SpawnRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head > 0 {
		q.head--
		q.items[q.head] = req
		return
	}
	q.items = append(q.items, SpawnRequest{})
	copy(q.items[1:], q.items)
	q.items[0] = req
}

// Len returns the number of waiting requests
func (q *SpawnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Drain removes and returns every waiting request in order
func (q *SpawnQueue) Drain() []SpawnRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]SpawnRequest, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	q.items = nil
	q.head = 0
	return out
}
