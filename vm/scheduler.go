package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Pool: a set of workers sharing a global queue
// ---------------------------------------------------------------------------

// ProcessRunner executes one process until it yields. Implemented by the
// machine; workers call it for every job they dequeue.
type ProcessRunner interface {
	RunProcess(worker *Worker, process *Process)
}

// Pool owns a fixed set of workers, a global injection queue and the
// parking machinery. The machine runs two pools: the primary pool for
// regular work and the blocking pool for processes that declared
// themselves blocking.
type Pool struct {
	name    string
	workers []*Worker

	mu      sync.Mutex
	global  []*Process
	parked  int
	done    bool
	wakeups int
	cond    *sync.Cond
}

// NewPool creates a pool with count workers. Workers do not run until
// Start is called.
func NewPool(name string, count int, runner ProcessRunner) *Pool {
	pool := &Pool{name: name}
	pool.cond = sync.NewCond(&pool.mu)
	for i := 0; i < count; i++ {
		pool.workers = append(pool.workers, newWorker(i, pool, runner))
	}
	return pool
}

// Name returns the pool name, used in diagnostics.
func (p *Pool) Name() string { return p.name }

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int { return len(p.workers) }

// Start launches every worker on its own OS thread and returns
// immediately.
func (p *Pool) Start(wg *sync.WaitGroup) {
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.run()
		}(w)
	}
}

// Schedule makes process runnable on this pool. Any thread may call it;
// a parked worker is woken when one exists.
func (p *Pool) Schedule(process *Process) {
	p.mu.Lock()
	p.global = append(p.global, process)
	p.wakeups++
	p.mu.Unlock()
	p.cond.Signal()
}

// ScheduleOnto queues process on a specific worker's external queue,
// bypassing the global queue. Used for pinned processes, which must
// resume on the worker they pinned to.
func (p *Pool) ScheduleOnto(worker int, process *Process) {
	p.workers[worker].queue.PushExternal(process)
	p.mu.Lock()
	p.wakeups++
	p.mu.Unlock()
	p.cond.Broadcast()
}

// popGlobal takes the oldest globally queued process.
func (p *Pool) popGlobal() (*Process, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.global) == 0 {
		return nil, false
	}
	process := p.global[0]
	p.global[0] = nil
	p.global = p.global[1:]
	return process, true
}

// park blocks the calling worker until work may be available or the pool
// shuts down. Returns false once the pool is done.
//
// The wakeup counter closes the race between a worker deciding to park
// and a sender signalling: a signal sent before the worker sleeps bumps
// the counter, and the worker re-checks instead of sleeping through it.
func (p *Pool) park(observedWakeups int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.done && p.wakeups == observedWakeups && len(p.global) == 0 {
		p.parked++
		p.cond.Wait()
		p.parked--
	}
	return !p.done
}

// wakeupGeneration samples the wakeup counter for a later park call.
func (p *Pool) wakeupGeneration() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wakeups
}

// Terminate stops every worker after its current job.
func (p *Pool) Terminate() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Done reports whether the pool was terminated.
func (p *Pool) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// ---------------------------------------------------------------------------
// Scheduler: the two pools
// ---------------------------------------------------------------------------

// Scheduler routes processes to the primary or blocking pool based on
// their blocking flag.
type Scheduler struct {
	Primary  *Pool
	Blocking *Pool
}

// NewScheduler creates both pools.
func NewScheduler(primary, blocking int, runner ProcessRunner) *Scheduler {
	return &Scheduler{
		Primary:  NewPool("primary", primary, runner),
		Blocking: NewPool("blocking", blocking, runner),
	}
}

// Start launches both pools.
func (s *Scheduler) Start(wg *sync.WaitGroup) {
	s.Primary.Start(wg)
	s.Blocking.Start(wg)
}

// Schedule makes process runnable on the pool matching its blocking
// flag.
func (s *Scheduler) Schedule(process *Process) {
	if process.Blocking() {
		s.Blocking.Schedule(process)
	} else {
		s.Primary.Schedule(process)
	}
}

// Terminate stops both pools.
func (s *Scheduler) Terminate() {
	s.Primary.Terminate()
	s.Blocking.Terminate()
}
