//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller and factory.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

// epollPoller is level-triggered. A handle with an empty wait mask is taken
// out of the epoll set so hangup and error conditions cannot spin the loop.
type epollPoller struct {
	epfd   int
	wakefd int

	mu    sync.Mutex
	inSet map[int]bool

	raw []unix.EpollEvent
}

// New constructs the platform poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wake: %w", err)
	}
	return &epollPoller{epfd: epfd, wakefd: wakefd, inSet: make(map[int]bool)}, nil
}

func interest(waits api.WaitType) uint32 {
	var e uint32
	if waits&api.WaitRead != 0 {
		e |= unix.EPOLLIN
	}
	if waits&api.WaitWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *epollPoller) Add(h api.OSHandle, _ api.OSSocket, waits api.WaitType) error {
	fd := int(h)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inSet[fd]; ok {
		return fmt.Errorf("epoll add fd %d: %w", fd, api.ErrCodeInvalid)
	}
	if waits != 0 {
		ev := unix.EpollEvent{Events: interest(waits), Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll ctl add: %w", err)
		}
	}
	p.inSet[fd] = waits != 0
	return nil
}

func (p *epollPoller) Modify(h api.OSHandle, _ api.OSSocket, waits api.WaitType) error {
	fd := int(h)
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.inSet[fd]
	if !ok {
		return fmt.Errorf("epoll modify fd %d: %w", fd, api.ErrCodeNotFound)
	}
	var err error
	switch {
	case waits == 0 && in:
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	case waits != 0 && in:
		ev := unix.EpollEvent{Events: interest(waits), Fd: int32(fd)}
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	case waits != 0:
		ev := unix.EpollEvent{Events: interest(waits), Fd: int32(fd)}
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll ctl modify: %w", err)
	}
	p.inSet[fd] = waits != 0
	return nil
}

func (p *epollPoller) Remove(h api.OSHandle, _ api.OSSocket) error {
	fd := int(h)
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.inSet[fd]
	if !ok {
		return nil
	}
	delete(p.inSet, fd)
	if in {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
			return fmt.Errorf("epoll ctl del: %w", err)
		}
	}
	return nil
}

func (p *epollPoller) Wait(out []Ready, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, api.ErrCodeInvalid
	}
	if cap(p.raw) < len(out) {
		p.raw = make([]unix.EpollEvent, len(out))
	}
	raw := p.raw[:len(out)]
	n, err := unix.EpollWait(p.epfd, raw, ms(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	cnt := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		if int(ev.Fd) == p.wakefd {
			p.drain()
			continue
		}
		var f Readiness
		if ev.Events&unix.EPOLLIN != 0 {
			f |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			f |= Writable
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			f |= Hangup
		}
		if ev.Events&unix.EPOLLERR != 0 {
			f |= Failed
		}
		out[cnt] = Ready{Handle: api.OSHandle(ev.Fd), Flags: f}
		cnt++
	}
	return cnt, nil
}

func (p *epollPoller) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	one := [8]byte{1}
	_, err := unix.Write(p.wakefd, one[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Close releases the epoll and eventfd descriptors.
func (p *epollPoller) Close() error {
	unix.Close(p.wakefd)
	return unix.Close(p.epfd)
}
