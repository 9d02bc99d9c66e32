package vm

import (
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Process: isolated lightweight actor
// ---------------------------------------------------------------------------

// ProcessStatus is the scheduler-visible state of a process.
type ProcessStatus int32

const (
	// StatusRunnable means queued, waiting for a worker.
	StatusRunnable ProcessStatus = iota
	// StatusRunning means executing on a worker right now.
	StatusRunning
	// StatusWaitingMessage means blocked in receive with an empty
	// mailbox.
	StatusWaitingMessage
	// StatusWaitingTimer means blocked in receive with a timeout armed.
	StatusWaitingTimer
	// StatusWaitingIO means parked in the reactor for fd readiness.
	StatusWaitingIO
	// StatusSleeping means suspended for a fixed duration.
	StatusSleeping
	// StatusTerminated means finished; the process never runs again.
	StatusTerminated
)

var statusNames = [...]string{
	StatusRunnable:       "runnable",
	StatusRunning:        "running",
	StatusWaitingMessage: "waiting-for-message",
	StatusWaitingTimer:   "waiting-for-timer",
	StatusWaitingIO:      "waiting-for-io",
	StatusSleeping:       "sleeping",
	StatusTerminated:     "terminated",
}

func (s ProcessStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Process is an isolated actor: private heap, mailbox, call stack and
// scheduler state. Everything except the status word, the mailbox and
// the pool flag is owned by the single worker thread currently running
// the process.
type Process struct {
	id uint64

	heap    *Heap
	mailbox *Mailbox

	// frame is the top of the call stack; nil once terminated.
	frame *Frame

	status atomic.Int32

	// reductions left in the current quantum, reset on resumption.
	reductions int

	// pinned keeps the process on its current worker, exempt from
	// stealing. A single boolean: nested pin requests observe the old
	// value and only the outermost unpin clears it. pinnedWorker is the
	// worker the process must resume on while pinned.
	pinned       bool
	pinnedWorker int

	// blocking is true while the process runs on the blocking pool.
	// Read by senders to pick the wake-up pool, hence atomic.
	blocking atomic.Bool

	// main marks the process whose return value becomes the exit code.
	main bool

	// result is the value produced by the bottom frame's return.
	result Value

	// timerToken invalidates stale timer-wheel entries: the wheel
	// captures the token when arming and wakes the process only if it
	// still matches.
	timerToken atomic.Uint64

	// timedOut is set by the timer wheel when a receive timeout fires,
	// and consumed by the interpreter when the process resumes.
	timedOut atomic.Bool
}

// NewProcess creates a runnable process executing code from its first
// frame.
func NewProcess(id uint64, heap *Heap, frame *Frame) *Process {
	p := &Process{
		id:      id,
		heap:    heap,
		mailbox: NewMailbox(),
		frame:   frame,
		result:  Nil,
	}
	p.status.Store(int32(StatusRunnable))
	return p
}

// ID returns the process identifier.
func (p *Process) ID() uint64 { return p.id }

// Heap returns the process's private heap.
func (p *Process) Heap() *Heap { return p.heap }

// Mailbox returns the process's mailbox.
func (p *Process) Mailbox() *Mailbox { return p.mailbox }

// Frame returns the current top frame, nil once terminated.
func (p *Process) Frame() *Frame { return p.frame }

// Status returns the scheduler-visible state.
func (p *Process) Status() ProcessStatus {
	return ProcessStatus(p.status.Load())
}

// SetStatus stores the state unconditionally. Used by the owning worker
// for transitions that cannot race, like Runnable -> Running.
func (p *Process) SetStatus(s ProcessStatus) {
	p.status.Store(int32(s))
}

// TransitionStatus atomically moves from one state to another. Returns
// false if some other thread moved the process first; the caller then
// owns nothing and must not reschedule it.
func (p *Process) TransitionStatus(from, to ProcessStatus) bool {
	return p.status.CompareAndSwap(int32(from), int32(to))
}

// Terminated returns true once the process finished.
func (p *Process) Terminated() bool {
	return p.Status() == StatusTerminated
}

// IsMain returns true for the main process.
func (p *Process) IsMain() bool { return p.main }

// SetMain marks the process as the main process.
func (p *Process) SetMain() { p.main = true }

// Result returns the value the bottom frame returned.
func (p *Process) Result() Value { return p.result }

// Pinned returns true while the process must stay on its worker.
func (p *Process) Pinned() bool { return p.pinned }

// SetPinned sets the pinned flag and returns the previous value, so
// nested pinned sections restore rather than clear the flag.
func (p *Process) SetPinned(pinned bool) bool {
	prev := p.pinned
	p.pinned = pinned
	return prev
}

// PinnedWorker returns the worker index the process is pinned to.
func (p *Process) PinnedWorker() int { return p.pinnedWorker }

// SetPinnedWorker records the worker the process pinned itself on.
func (p *Process) SetPinnedWorker(id int) { p.pinnedWorker = id }

// Blocking returns true while the process belongs to the blocking pool.
func (p *Process) Blocking() bool { return p.blocking.Load() }

// SetBlocking flips the pool flag. Returns true if the flag changed, in
// which case the caller must migrate the process.
func (p *Process) SetBlocking(blocking bool) bool {
	return p.blocking.Swap(blocking) != blocking
}

// Reductions returns the remaining quantum budget.
func (p *Process) Reductions() int { return p.reductions }

// SetReductions resets the quantum budget on resumption.
func (p *Process) SetReductions(n int) { p.reductions = n }

// ConsumeReduction deducts one reduction. Returns true while budget
// remains.
func (p *Process) ConsumeReduction() bool {
	if p.reductions > 0 {
		p.reductions--
	}
	return p.reductions > 0
}

// NextTimerToken invalidates any armed timer and returns the token for a
// new one.
func (p *Process) NextTimerToken() uint64 {
	return p.timerToken.Add(1)
}

// TimerToken returns the token of the most recently armed timer.
func (p *Process) TimerToken() uint64 {
	return p.timerToken.Load()
}

// markTimedOut records that the process was woken by its timer rather
// than by the event it was waiting for.
func (p *Process) markTimedOut() {
	p.timedOut.Store(true)
}

// TookTimeout consumes the timed-out flag.
func (p *Process) TookTimeout() bool {
	return p.timedOut.Swap(false)
}

// PushFrame makes frame the new top of the stack.
func (p *Process) PushFrame(frame *Frame) {
	frame.parent = p.frame
	p.frame = frame
}

// PopFrame removes the top frame. Returns the popped frame and whether a
// parent remains.
func (p *Process) PopFrame() (*Frame, bool) {
	top := p.frame
	p.frame = top.parent
	top.parent = nil
	return top, p.frame != nil
}

// Terminate drops the remaining frames without running deferred blocks
// and marks the process terminated.
func (p *Process) Terminate() {
	p.frame = nil
	p.SetStatus(StatusTerminated)
}

// EachRootPointer hands the collector every value slot the process can
// reach directly: all frames of the call stack.
//
// Mailbox contents are not roots: messages live in the mailbox's own
// space until receive copies them into the heap.
func (p *Process) EachRootPointer(fn func(*Value)) {
	fn(&p.result)
	for frame := p.frame; frame != nil; frame = frame.parent {
		frame.EachPointer(fn)
	}
}

// CollectYoungIfNeeded runs a young collection when the allocation
// threshold was crossed, then a full collection when promotions crossed
// the mature threshold. Called by the interpreter at instruction
// boundaries, never mid-instruction.
func (p *Process) CollectYoungIfNeeded() {
	if p.heap.ShouldCollectYoung() {
		p.heap.CollectYoung(p.EachRootPointer)
	}
	if p.heap.ShouldCollectMature() {
		p.heap.CollectMature(p.EachRootPointer)
	}
}
