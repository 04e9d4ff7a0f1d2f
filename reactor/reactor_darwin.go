//go:build darwin
// +build darwin

// File: reactor/reactor_darwin.go
// Author: momentics <momentics@gmail.com>
//
// poll(2)-based poller with a self-pipe for wakeups.

package reactor

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

type pollPoller struct {
	rd, wr int

	mu    sync.Mutex
	waits map[int]api.WaitType

	fds []unix.PollFd
}

// New constructs the platform poller.
func New() (Poller, error) {
	var p [2]int
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, fmt.Errorf("pipe nonblock: %w", err)
		}
	}
	return &pollPoller{rd: p[0], wr: p[1], waits: make(map[int]api.WaitType)}, nil
}

func (p *pollPoller) Add(h api.OSHandle, _ api.OSSocket, waits api.WaitType) error {
	fd := int(h)
	p.mu.Lock()
	if _, ok := p.waits[fd]; ok {
		p.mu.Unlock()
		return fmt.Errorf("poll add fd %d: %w", fd, api.ErrCodeInvalid)
	}
	p.waits[fd] = waits
	p.mu.Unlock()
	return p.Wake()
}

func (p *pollPoller) Modify(h api.OSHandle, _ api.OSSocket, waits api.WaitType) error {
	fd := int(h)
	p.mu.Lock()
	if _, ok := p.waits[fd]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("poll modify fd %d: %w", fd, api.ErrCodeNotFound)
	}
	p.waits[fd] = waits
	p.mu.Unlock()
	return p.Wake()
}

func (p *pollPoller) Remove(h api.OSHandle, _ api.OSSocket) error {
	p.mu.Lock()
	delete(p.waits, int(h))
	p.mu.Unlock()
	return p.Wake()
}

func (p *pollPoller) Wait(out []Ready, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, api.ErrCodeInvalid
	}
	p.fds = append(p.fds[:0], unix.PollFd{Fd: int32(p.rd), Events: unix.POLLIN})
	p.mu.Lock()
	for fd, w := range p.waits {
		if w == 0 {
			continue
		}
		var ev int16
		if w&api.WaitRead != 0 {
			ev |= unix.POLLIN
		}
		if w&api.WaitWrite != 0 {
			ev |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	p.mu.Unlock()

	n, err := unix.Poll(p.fds, ms(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	cnt := 0
	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.rd {
			p.drain()
			continue
		}
		if cnt == len(out) {
			break
		}
		var f Readiness
		if pfd.Revents&unix.POLLIN != 0 {
			f |= Readable
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			f |= Writable
		}
		if pfd.Revents&unix.POLLHUP != 0 {
			f |= Hangup
		}
		if pfd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			f |= Failed
		}
		out[cnt] = Ready{Handle: api.OSHandle(pfd.Fd), Flags: f}
		cnt++
	}
	return cnt, nil
}

func (p *pollPoller) drain() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.rd, buf[:]); err != nil {
			return
		}
	}
}

func (p *pollPoller) Wake() error {
	_, err := unix.Write(p.wr, []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *pollPoller) Close() error {
	unix.Close(p.wr)
	return unix.Close(p.rd)
}
