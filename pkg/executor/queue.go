package executor

import (
	"sync"

	"github.com/marmos91/remotedev/pkg/protocol"
)

// queueCapacity bounds the pending-request queue. When a burst of events
// exceeds it, the oldest entries are evicted to make room for newer ones.
const queueCapacity = 200

// requestQueue is a fixed-capacity FIFO ring: producers push at the tail,
// the worker pops from the head, and pushing onto a full ring evicts the
// head entry.
type requestQueue struct {
	mu    sync.Mutex
	items [queueCapacity]*protocol.Request
	head  int
	size  int
}

// push appends a request, evicting the oldest when the ring is full. It
// reports whether an eviction happened and the resulting depth.
func (q *requestQueue) push(r *protocol.Request) (bool, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.size == queueCapacity {
		q.items[q.head] = nil
		q.head = (q.head + 1) % queueCapacity
		q.size--
		evicted = true
	}
	q.items[(q.head+q.size)%queueCapacity] = r
	q.size++
	return evicted, q.size
}

// pop removes and returns the oldest request, with the remaining depth.
func (q *requestQueue) pop() (*protocol.Request, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil, 0, false
	}
	r := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % queueCapacity
	q.size--
	return r, q.size, true
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
