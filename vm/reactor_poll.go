//go:build !linux

package vm

import (
	"sync"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// poll(2) poller
// ---------------------------------------------------------------------------

// pollPoller backs the reactor with poll(2) on platforms without epoll.
// A self-pipe serves as the interrupt channel.
type pollPoller struct {
	mu        sync.Mutex
	interests map[int]IOInterest
	readPipe  int
	writePipe int
}

func newPoller() (poller, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)
	return &pollPoller{
		interests: make(map[int]IOInterest),
		readPipe:  fds[0],
		writePipe: fds[1],
	}, nil
}

func (p *pollPoller) add(fd int, interest IOInterest) error {
	p.mu.Lock()
	p.interests[fd] = interest
	p.mu.Unlock()
	return nil
}

func (p *pollPoller) remove(fd int) error {
	p.mu.Lock()
	delete(p.interests, fd)
	p.mu.Unlock()
	return nil
}

func (p *pollPoller) wait(events []ioEvent) (int, error) {
	p.mu.Lock()
	pollFds := make([]unix.PollFd, 0, len(p.interests)+1)
	pollFds = append(pollFds, unix.PollFd{Fd: int32(p.readPipe), Events: unix.POLLIN})
	for fd, interest := range p.interests {
		ev := int16(unix.POLLIN)
		if interest == InterestWrite {
			ev = unix.POLLOUT
		}
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	p.mu.Unlock()

	if _, err := unix.Poll(pollFds, -1); err != nil {
		return 0, err
	}

	count := 0
	for _, pfd := range pollFds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.readPipe {
			p.drainInterrupt()
			continue
		}
		if count == len(events) {
			break
		}
		events[count] = ioEvent{
			fd:       int(pfd.Fd),
			readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			writable: pfd.Revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0,
		}
		count++
	}
	return count, nil
}

func (p *pollPoller) drainInterrupt() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.readPipe, buf[:]); err != nil {
			return
		}
	}
}

func (p *pollPoller) interrupt() error {
	var one [1]byte
	one[0] = 1
	_, err := unix.Write(p.writePipe, one[:])
	return err
}

func (p *pollPoller) close() error {
	unix.Close(p.writePipe)
	return unix.Close(p.readPipe)
}
