//go:build windows
// +build windows

// File: reactor/reactor_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows poller over WSAEventSelect event objects and WaitForMultipleObjects.
//
// Winsock network events are edge-like: FD_WRITE is posted once after connect
// and again only after a send failed with WSAEWOULDBLOCK. Events that arrive
// while their wait type is not armed are kept pending and handed out when the
// wait type is armed again. Arming WRITE on a connected socket reports it
// writable at once; a send that would block re-arms the real notification.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sock"
	"golang.org/x/sys/windows"
)

const (
	maxWaitObjects = 64
	waitTimeout    = 0x102
	infinite       = 0xFFFFFFFF
)

type registration struct {
	sock    api.OSSocket
	waits   api.WaitType
	pending Readiness
}

type eventPoller struct {
	wake windows.Handle

	mu   sync.Mutex
	regs map[api.OSHandle]*registration

	handles []windows.Handle
}

// New constructs the platform poller. Winsock is started on first use.
// WaitForMultipleObjects caps one poller at 63 sockets (one slot is the wake
// event); Add beyond that fails with ErrCodeNotSupported, so larger sets need
// more loops.
func New() (Poller, error) {
	if err := sock.Init(); err != nil {
		return nil, fmt.Errorf("wsastartup: %w", err)
	}
	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("create wake event: %w", err)
	}
	return &eventPoller{wake: ev, regs: make(map[api.OSHandle]*registration)}, nil
}

func mask(waits api.WaitType) Readiness {
	var r Readiness
	if waits&api.WaitRead != 0 {
		r |= Readable | Hangup
	}
	if waits&api.WaitWrite != 0 {
		r |= Writable
	}
	return r
}

func (p *eventPoller) Add(h api.OSHandle, s api.OSSocket, waits api.WaitType) error {
	p.mu.Lock()
	if _, ok := p.regs[h]; ok {
		p.mu.Unlock()
		return fmt.Errorf("wsa add handle: %w", api.ErrCodeInvalid)
	}
	if len(p.regs) >= maxWaitObjects-1 {
		p.mu.Unlock()
		return api.NewError("wsa add handle", api.ErrCodeNotSupported, 0)
	}
	p.regs[h] = &registration{sock: s, waits: waits}
	p.mu.Unlock()
	return p.Wake()
}

func (p *eventPoller) Modify(h api.OSHandle, _ api.OSSocket, waits api.WaitType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[h]
	if !ok {
		return fmt.Errorf("wsa modify handle: %w", api.ErrCodeNotFound)
	}
	if added := waits &^ reg.waits; added&api.WaitWrite != 0 {
		reg.pending |= Writable
	}
	reg.waits = waits
	if reg.pending&mask(waits) != 0 {
		return windows.SetEvent(windows.Handle(h))
	}
	return nil
}

func (p *eventPoller) Remove(h api.OSHandle, _ api.OSSocket) error {
	p.mu.Lock()
	delete(p.regs, h)
	p.mu.Unlock()
	return p.Wake()
}

func translate(ne sock.NetEvents) Readiness {
	var r Readiness
	if ne.Mask&(sock.FDRead|sock.FDAccept|sock.FDClose) != 0 {
		r |= Readable
	}
	if ne.Mask&sock.FDClose != 0 {
		r |= Hangup
	}
	if ne.Mask&sock.FDWrite != 0 {
		r |= Writable
	}
	if ne.Mask&sock.FDConnect != 0 {
		r |= Writable
		if ne.Err(sock.FDConnect) != 0 {
			r |= Failed
		}
	}
	return r
}

func (p *eventPoller) Wait(out []Ready, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, api.ErrCodeInvalid
	}
	p.handles = append(p.handles[:0], p.wake)
	p.mu.Lock()
	for h := range p.regs {
		p.handles = append(p.handles, windows.Handle(h))
	}
	p.mu.Unlock()

	wait := uint32(infinite)
	if t := ms(timeout); t >= 0 {
		wait = uint32(t)
	}
	ret, err := windows.WaitForMultipleObjects(p.handles, false, wait)
	if err != nil {
		return 0, fmt.Errorf("wait for multiple objects: %w", err)
	}
	if ret == waitTimeout {
		return 0, nil
	}
	windows.ResetEvent(p.wake)

	cnt := 0
	p.mu.Lock()
	defer p.mu.Unlock()
	for h, reg := range p.regs {
		if ne, err := sock.NetworkEvents(reg.sock, h); err == nil {
			reg.pending |= translate(ne)
		}
		deliver := reg.pending & (mask(reg.waits) | Failed)
		if deliver == 0 {
			continue
		}
		if cnt == len(out) {
			// leave it pending for the next round
			windows.SetEvent(windows.Handle(h))
			continue
		}
		reg.pending &^= deliver
		out[cnt] = Ready{Handle: h, Flags: deliver}
		cnt++
	}
	return cnt, nil
}

func (p *eventPoller) Wake() error {
	return windows.SetEvent(p.wake)
}

func (p *eventPoller) Close() error {
	return windows.CloseHandle(p.wake)
}
