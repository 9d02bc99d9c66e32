//go:build linux

package vm

import (
	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// epoll poller
// ---------------------------------------------------------------------------

// epollPoller backs the reactor with epoll in one-shot mode. An eventfd
// doubles as the interrupt channel so Register can break a blocked wait.
type epollPoller struct {
	epfd    int
	eventfd int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &event); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{epfd: epfd, eventfd: efd}, nil
}

func (p *epollPoller) add(fd int, interest IOInterest) error {
	events := uint32(unix.EPOLLONESHOT)
	if interest == InterestRead {
		events |= unix.EPOLLIN
	} else {
		events |= unix.EPOLLOUT
	}
	event := unix.EpollEvent{Events: events, Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event)
	if err == unix.EEXIST {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &event)
	}
	return err
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(events []ioEvent) (int, error) {
	buf := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(p.epfd, buf, -1)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ev := range buf[:n] {
		if int(ev.Fd) == p.eventfd {
			p.drainInterrupt()
			continue
		}
		events[count] = ioEvent{
			fd:       int(ev.Fd),
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		}
		count++
	}
	return count, nil
}

func (p *epollPoller) drainInterrupt() {
	var buf [8]byte
	_, _ = unix.Read(p.eventfd, buf[:])
}

func (p *epollPoller) interrupt() error {
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(p.eventfd, one[:])
	return err
}

func (p *epollPoller) close() error {
	unix.Close(p.eventfd)
	return unix.Close(p.epfd)
}
