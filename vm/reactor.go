package vm

import (
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Reactor: fd readiness and process wakeup
// ---------------------------------------------------------------------------

// IOInterest is the readiness a process is waiting for.
type IOInterest uint8

const (
	// InterestRead wakes the process when the fd is readable.
	InterestRead IOInterest = iota
	// InterestWrite wakes the process when the fd is writable.
	InterestWrite
)

// ioEvent is one readiness notification from the poller.
type ioEvent struct {
	fd       int
	readable bool
	writable bool
}

// poller abstracts the OS readiness facility. One implementation per
// platform; interrupt breaks a blocked wait from another thread.
type poller interface {
	add(fd int, interest IOInterest) error
	remove(fd int) error
	wait(events []ioEvent) (int, error)
	interrupt() error
	close() error
}

type ioRegistration struct {
	process  *Process
	interest IOInterest
}

// Reactor owns the platform poller and the fd -> process registrations.
// A process that hits WOULDBLOCK registers its fd and parks in
// Waiting-for-IO; the reactor's loop wakes it when the kernel reports
// readiness.
//
// Registrations are one-shot: a woken process re-registers if its next
// syscall blocks again.
type Reactor struct {
	mu            sync.Mutex
	poller        poller
	registrations map[int]ioRegistration
	done          bool
	log           commonlog.Logger

	// schedule re-queues a process whose fd became ready.
	schedule func(*Process)
}

// NewReactor creates a reactor around the platform poller.
func NewReactor(schedule func(*Process)) (*Reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:        p,
		registrations: make(map[int]ioRegistration),
		schedule:      schedule,
		log:           commonlog.GetLogger("inko.reactor"),
	}, nil
}

// Register parks process until fd satisfies interest. The caller must
// have already moved the process into Waiting-for-IO.
func (r *Reactor) Register(fd int, interest IOInterest, process *Process) error {
	r.mu.Lock()
	r.registrations[fd] = ioRegistration{process: process, interest: interest}
	err := r.poller.add(fd, interest)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.log.Debugf("process %d waiting on fd %d", process.ID(), fd)
	return r.poller.interrupt()
}

// Deregister drops any registration for fd, without waking its process.
// Used when a socket is finalized while parked.
func (r *Reactor) Deregister(fd int) {
	r.mu.Lock()
	if _, ok := r.registrations[fd]; ok {
		delete(r.registrations, fd)
		_ = r.poller.remove(fd)
	}
	r.mu.Unlock()
}

// Run polls for readiness until Terminate is called.
func (r *Reactor) Run() {
	events := make([]ioEvent, 64)
	for {
		n, err := r.poller.wait(events)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		r.mu.Lock()
		if r.done {
			r.mu.Unlock()
			return
		}
		var wake []*Process
		for _, ev := range events[:n] {
			reg, ok := r.registrations[ev.fd]
			if !ok {
				continue
			}
			ready := (reg.interest == InterestRead && ev.readable) ||
				(reg.interest == InterestWrite && ev.writable)
			if !ready {
				continue
			}
			delete(r.registrations, ev.fd)
			_ = r.poller.remove(ev.fd)
			wake = append(wake, reg.process)
		}
		r.mu.Unlock()

		for _, process := range wake {
			// A concurrent timeout may have won; the status transition
			// decides who reschedules.
			process.NextTimerToken()
			if process.TransitionStatus(StatusWaitingIO, StatusRunnable) {
				r.schedule(process)
			}
		}
	}
}

// Terminate stops the Run loop and closes the poller.
func (r *Reactor) Terminate() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
	_ = r.poller.interrupt()
	_ = r.poller.close()
}

// closeFD closes a raw file descriptor, used by socket finalizers.
func closeFD(fd int) error {
	return unix.Close(fd)
}
