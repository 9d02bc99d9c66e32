package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Queue: per-worker run queue
// ---------------------------------------------------------------------------

// Queue is a worker's run queue, split in two halves. The internal half
// is touched only by the owning worker and needs no locking; the
// external half is locked, takes pinned processes pushed by
// Pool.ScheduleOnto from any thread, and serves steals from sibling
// workers. Senders and the reactor do not push here: their wake-ups go
// to the pool's global queue.
//
// The owner periodically moves external jobs into the internal half and
// consumes from there in FIFO order.
type Queue struct {
	internal []*Process

	mu       sync.Mutex
	external []*Process
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// PushInternal appends to the internal half. Owner only.
func (q *Queue) PushInternal(p *Process) {
	q.internal = append(q.internal, p)
}

// PopInternal removes the oldest internal job. Owner only.
func (q *Queue) PopInternal() (*Process, bool) {
	if len(q.internal) == 0 {
		return nil, false
	}
	p := q.internal[0]
	q.internal[0] = nil
	q.internal = q.internal[1:]
	return p, true
}

// HasInternal returns true while internal jobs remain. Owner only.
func (q *Queue) HasInternal() bool {
	return len(q.internal) > 0
}

// PushExternal appends from any thread.
func (q *Queue) PushExternal(p *Process) {
	q.mu.Lock()
	q.external = append(q.external, p)
	q.mu.Unlock()
}

// MoveExternalToInternal drains the external half into the internal one.
// Returns the number of jobs moved. Owner only.
func (q *Queue) MoveExternalToInternal() int {
	q.mu.Lock()
	moved := len(q.external)
	if moved > 0 {
		q.internal = append(q.internal, q.external...)
		q.external = q.external[:0]
	}
	q.mu.Unlock()
	return moved
}

// HasExternal returns true if external jobs are waiting.
func (q *Queue) HasExternal() bool {
	q.mu.Lock()
	n := len(q.external)
	q.mu.Unlock()
	return n > 0
}

// StealInto moves up to half of this queue's external jobs into the
// thief's internal half, skipping pinned processes: those may only run
// on the worker owning this queue. Returns the number of jobs taken.
func (q *Queue) StealInto(thief *Queue) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.external) == 0 {
		return 0
	}
	take := (len(q.external) + 1) / 2
	kept := q.external[:0]
	taken := 0
	for _, p := range q.external {
		if taken < take && !p.Pinned() {
			thief.internal = append(thief.internal, p)
			taken++
		} else {
			kept = append(kept, p)
		}
	}
	q.external = kept
	return taken
}

// Len returns the total number of queued jobs. The external count is a
// snapshot; it can move the instant the lock drops.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.external)
	q.mu.Unlock()
	return n + len(q.internal)
}
