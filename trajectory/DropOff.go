package trajectory

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// DropOffQueue is the bounded buffer between trajectory completion and
// batch assembly. When a push would exceed capacity the oldest
// trajectory is evicted, so the queue always holds the newest
// trajectories. Evictions are silent; they are counted and surface in
// the final report.
type DropOffQueue struct {
	mu       sync.Mutex
	items    []*Trajectory
	capacity int
	evicted  atomic.Int64
}

// NewDropOffQueue returns a new DropOffQueue holding at most capacity
// trajectories. Capacity is normally the number of sources, so that a
// stalled consumer can hold one pending trajectory per source before
// data loss begins.
func NewDropOffQueue(capacity int) (*DropOffQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("newdropoffqueue: invalid capacity "+
			"\n\twant(> 0)\n\thave(%v)", capacity)
	}
	return &DropOffQueue{
		items:    make([]*Trajectory, 0, capacity+1),
		capacity: capacity,
	}, nil
}

// Push appends a trajectory, evicting the oldest if the queue is full.
// Push reports whether an eviction happened.
func (q *DropOffQueue) Push(t *Trajectory) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, t)
	if len(q.items) <= q.capacity {
		return false
	}

	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	q.evicted.Inc()
	return true
}

// TryDrain pops exactly the n oldest trajectories, or nothing. The
// pop is atomic: concurrent drainers can never split a batch or pop
// the same trajectory twice.
func (q *DropOffQueue) TryDrain(n int) []*Trajectory {
	if n <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < n {
		return nil
	}

	drained := make([]*Trajectory, n)
	copy(drained, q.items[:n])

	remaining := copy(q.items, q.items[n:])
	for i := remaining; i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = q.items[:remaining]

	return drained
}

// Len returns the number of queued trajectories
func (q *DropOffQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Evicted returns the number of trajectories lost to capacity
// evictions
func (q *DropOffQueue) Evicted() int64 {
	return q.evicted.Load()
}
