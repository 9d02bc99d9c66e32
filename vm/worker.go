package vm

import (
	"math/rand/v2"
	"runtime"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Worker: one scheduler thread
// ---------------------------------------------------------------------------

// Worker drives one OS thread of a pool. Each worker owns a run queue
// and loops: run local work, steal from a random sibling, pull in
// externally pushed work, fall back to the global queue, then park.
//
// A worker enters exclusive mode while the process it runs is pinned:
// it only consumes its own queue, so the pinned process is the only
// thing that can run on this thread until it unpins.
type Worker struct {
	id     int
	pool   *Pool
	queue  *Queue
	runner ProcessRunner

	// exclusive is read by thieves deciding whether to steal from this
	// worker, hence atomic.
	exclusive atomic.Bool
}

func newWorker(id int, pool *Pool, runner ProcessRunner) *Worker {
	return &Worker{id: id, pool: pool, queue: NewQueue(), runner: runner}
}

// ID returns the worker's index within its pool.
func (w *Worker) ID() int { return w.id }

// Pool returns the pool the worker belongs to.
func (w *Worker) Pool() *Pool { return w.pool }

// Exclusive returns true while the worker only runs its own queue.
func (w *Worker) Exclusive() bool { return w.exclusive.Load() }

// EnterExclusiveMode restricts the worker to its own queue. Called when
// the running process pins itself.
func (w *Worker) EnterExclusiveMode() { w.exclusive.Store(true) }

// LeaveExclusiveMode restores normal stealing behaviour.
func (w *Worker) LeaveExclusiveMode() { w.exclusive.Store(false) }

// run is the worker loop. The goroutine is locked to its OS thread so a
// pinned process really owns a thread and blocking-pool syscalls block
// only their own thread.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		generation := w.pool.wakeupGeneration()
		process := w.next()
		if process == nil {
			if !w.pool.park(generation) {
				return
			}
			continue
		}
		if w.pool.Done() {
			return
		}
		w.runner.RunProcess(w, process)
	}
}

// next returns the next process to run, or nil when the worker should
// park.
func (w *Worker) next() *Process {
	if w.exclusive.Load() {
		if p, ok := w.queue.PopInternal(); ok {
			return p
		}
		w.queue.MoveExternalToInternal()
		if p, ok := w.queue.PopInternal(); ok {
			return p
		}
		return nil
	}

	if p, ok := w.queue.PopInternal(); ok {
		return p
	}
	if w.stealFromSibling() {
		if p, ok := w.queue.PopInternal(); ok {
			return p
		}
	}
	if w.queue.MoveExternalToInternal() > 0 {
		if p, ok := w.queue.PopInternal(); ok {
			return p
		}
	}
	if p, ok := w.pool.popGlobal(); ok {
		return p
	}
	return nil
}

// stealFromSibling picks a random other worker and takes half of its
// stealable work. A random victim keeps thieves from piling up on
// worker zero.
func (w *Worker) stealFromSibling() bool {
	siblings := len(w.pool.workers)
	if siblings < 2 {
		return false
	}
	victim := w.pool.workers[rand.IntN(siblings)]
	if victim == w || victim.exclusive.Load() {
		return false
	}
	return victim.queue.StealInto(w.queue) > 0
}
