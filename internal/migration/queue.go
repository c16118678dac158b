package migration

import (
	"sync"

	"github.com/cloudflux/orchestrator/pkg/errors"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// priorityRank orders high > normal > low for dequeue.
var priorityRank = map[types.Priority]int{
	types.PriorityHigh:   0,
	types.PriorityNormal: 1,
	types.PriorityLow:    2,
}

// readyQueue is the priority-ordered, FIFO-within-priority job queue.
// It holds job IDs only; job state itself lives in the Store, guarded
// by its own per-job lock, so the queue and job locks are never held
// together (§5's set -> queue -> per-job acquisition order).
type readyQueue struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	capacity int
	lanes    [3][]string // indexed by priorityRank
}

func newReadyQueue(capacity int) *readyQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &readyQueue{
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
	}
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[0]) + len(q.lanes[1]) + len(q.lanes[2])
}

// push enqueues jobID at the tail of its priority lane. Returns
// OVERLOADED when the queue is at capacity.
func (q *readyQueue) push(jobID string, priority types.Priority) error {
	q.mu.Lock()
	total := len(q.lanes[0]) + len(q.lanes[1]) + len(q.lanes[2])
	if total >= q.capacity {
		q.mu.Unlock()
		return errors.New(errors.CodeOverloaded, "ready queue is at capacity").
			WithComponent("migration.queue").WithOperation("push")
	}
	rank := priorityRank[priority]
	q.lanes[rank] = append(q.lanes[rank], jobID)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// pop removes and returns the head of the highest-priority non-empty
// lane, or ("", false) if the queue is empty.
func (q *readyQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for rank := 0; rank < len(q.lanes); rank++ {
		if len(q.lanes[rank]) > 0 {
			id := q.lanes[rank][0]
			q.lanes[rank] = q.lanes[rank][1:]
			return id, true
		}
	}
	return "", false
}

// wait blocks until the queue has at least one item or done fires.
func (q *readyQueue) wait(done <-chan struct{}) {
	select {
	case <-q.notEmpty:
	case <-done:
	}
}
