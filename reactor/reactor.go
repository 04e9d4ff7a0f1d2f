// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller interface for cross-platform IO multiplexing.

package reactor

import (
	"time"

	"github.com/momentics/hioload-net/api"
)

// Readiness is a set of conditions reported for one handle.
type Readiness uint8

const (
	Readable Readiness = 1 << iota
	Writable
	Hangup
	Failed
)

func (r Readiness) String() string {
	if r == 0 {
		return "none"
	}
	s := ""
	for _, f := range []struct {
		bit  Readiness
		name string
	}{{Readable, "r"}, {Writable, "w"}, {Hangup, "hup"}, {Failed, "err"}} {
		if r&f.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	return s
}

// Ready is one readiness report.
type Ready struct {
	Handle api.OSHandle
	Flags  Readiness
}

// Poller watches OS handles for the wait types registered on them.
// Add, Modify, Remove and Wake may be called from any goroutine; Wait is
// called by one goroutine at a time.
type Poller interface {
	// Add starts watching h (backed by socket s) for waits. A zero mask keeps
	// the handle known but silent.
	Add(h api.OSHandle, s api.OSSocket, waits api.WaitType) error

	// Modify replaces the wait mask of h.
	Modify(h api.OSHandle, s api.OSSocket, waits api.WaitType) error

	// Remove stops watching h. It must be called before the socket is closed.
	Remove(h api.OSHandle, s api.OSSocket) error

	// Wait blocks up to timeout (negative means forever) and fills out with
	// ready handles. A Wake call makes it return early with zero reports.
	Wait(out []Ready, timeout time.Duration) (int, error)

	// Wake interrupts a blocked Wait.
	Wake() error

	Close() error
}

// ms converts a Wait timeout to whole milliseconds, rounding up so a short
// timer never turns into a busy loop.
func ms(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
