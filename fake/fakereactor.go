// File: fake/fakereactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package fake provides test doubles for the engine: an in-memory loop with
// manual timers and recorded handle registrations.

package fake

import (
	"log/slog"
	"sync"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/layer"
)

// Registration is the recorded multiplexer state of one OS handle.
type Registration struct {
	IO     *layer.IO
	Socket api.OSSocket
	Waits  api.WaitType
	Caps   api.Caps
}

// SoftEvent is a queued synthesized event.
type SoftEvent struct {
	IO          *layer.IO
	Index       int
	SiblingOnly bool
	Event       api.EventType
}

// FakeLoop is an in-memory layer.Loop. Nothing happens on its own: tests
// deliver soft events, raise readiness and fire timers explicitly.
type FakeLoop struct {
	mu       sync.Mutex
	handles  map[api.OSHandle]*Registration
	soft     []SoftEvent
	timers   []*FakeTimer
	detached []*layer.IO
	log      *slog.Logger
}

// NewFakeLoop returns an empty fake loop.
func NewFakeLoop() *FakeLoop {
	return &FakeLoop{
		handles: make(map[api.OSHandle]*Registration),
		log:     slog.Default(),
	}
}

func (f *FakeLoop) HandleModify(mod api.ModType, obj *layer.IO, h api.OSHandle, s api.OSSocket, waits api.WaitType, caps api.Caps) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h == api.InvalidHandle {
		return api.ErrCodeInvalid
	}
	reg, ok := f.handles[h]
	switch mod {
	case api.ModAddHandle:
		if ok {
			return api.ErrCodeInvalid
		}
		f.handles[h] = &Registration{IO: obj, Socket: s, Waits: waits, Caps: caps}
	case api.ModDelHandle:
		delete(f.handles, h)
	case api.ModAddWait:
		if !ok {
			return api.ErrCodeNotFound
		}
		reg.Waits |= waits
	case api.ModDelWait:
		if !ok {
			return api.ErrCodeNotFound
		}
		reg.Waits &^= waits
	}
	return nil
}

func (f *FakeLoop) TimerAdd(cb layer.TimerFunc) layer.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &FakeTimer{cb: cb}
	f.timers = append(f.timers, t)
	return t
}

func (f *FakeLoop) SoftEvent(obj *layer.IO, index int, siblingOnly bool, ev api.EventType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.soft = append(f.soft, SoftEvent{IO: obj, Index: index, SiblingOnly: siblingOnly, Event: ev})
}

func (f *FakeLoop) SoftEventClear(obj *layer.IO, index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.soft[:0]
	for _, s := range f.soft {
		if s.IO != obj || s.Index != index {
			kept = append(kept, s)
		}
	}
	f.soft = kept
}

func (f *FakeLoop) Detach(obj *layer.IO) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, obj)
	kept := f.soft[:0]
	for _, s := range f.soft {
		if s.IO != obj {
			kept = append(kept, s)
		}
	}
	f.soft = kept
}

func (f *FakeLoop) Logger() *slog.Logger { return f.log }

// PendingSoft returns a copy of the queued soft events.
func (f *FakeLoop) PendingSoft() []SoftEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SoftEvent(nil), f.soft...)
}

// DeliverSoft dispatches queued soft events, including ones queued while
// delivering, and returns how many were delivered.
func (f *FakeLoop) DeliverSoft() int {
	n := 0
	for {
		f.mu.Lock()
		if len(f.soft) == 0 {
			f.mu.Unlock()
			return n
		}
		s := f.soft[0]
		f.soft = f.soft[1:]
		f.mu.Unlock()

		start := s.Index
		if s.SiblingOnly {
			start++
		}
		s.IO.Dispatch(start, s.Event)
		n++
	}
}

// Raise delivers a readiness event for h to layer 0 of its object, as a real
// loop would. Returns false when h is not registered.
func (f *FakeLoop) Raise(h api.OSHandle, ev api.EventType) bool {
	f.mu.Lock()
	reg, ok := f.handles[h]
	f.mu.Unlock()
	if !ok {
		return false
	}
	reg.IO.Dispatch(0, ev)
	return true
}

// Registration returns a copy of the registration of h.
func (f *FakeLoop) Registration(h api.OSHandle) (Registration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.handles[h]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Lookup returns the handle registered by obj and its registration.
func (f *FakeLoop) Lookup(obj *layer.IO) (api.OSHandle, Registration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, reg := range f.handles {
		if reg.IO == obj {
			return h, *reg, true
		}
	}
	return api.InvalidHandle, Registration{}, false
}

// HandleCount returns the number of registered handles.
func (f *FakeLoop) HandleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Timers returns every timer created so far, removed ones included.
func (f *FakeLoop) Timers() []*FakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeTimer(nil), f.timers...)
}

// Detached reports whether obj was detached from the loop.
func (f *FakeLoop) Detached(obj *layer.IO) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.detached {
		if d == obj {
			return true
		}
	}
	return false
}

// FakeTimer records its arming state; Fire runs the callback synchronously.
type FakeTimer struct {
	mu        sync.Mutex
	cb        layer.TimerFunc
	armed     bool
	removed   bool
	after     time.Duration
	fireCount int
	fired     int
}

func (t *FakeTimer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed {
		return
	}
	t.armed = true
	t.after = d
	t.fired = 0
}

func (t *FakeTimer) SetFireCount(n int) {
	t.mu.Lock()
	t.fireCount = n
	t.mu.Unlock()
}

func (t *FakeTimer) Stop() {
	t.mu.Lock()
	t.armed = false
	t.mu.Unlock()
}

func (t *FakeTimer) Remove() {
	t.mu.Lock()
	t.armed = false
	t.removed = true
	t.mu.Unlock()
}

// Armed reports whether the timer would fire.
func (t *FakeTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Removed reports whether Remove was called.
func (t *FakeTimer) Removed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removed
}

// After returns the last duration passed to Reset.
func (t *FakeTimer) After() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.after
}

// Fire invokes the callback if the timer is armed.
func (t *FakeTimer) Fire() bool {
	t.mu.Lock()
	if !t.armed || t.removed {
		t.mu.Unlock()
		return false
	}
	t.fired++
	if t.fireCount > 0 && t.fired >= t.fireCount {
		t.armed = false
	}
	cb := t.cb
	t.mu.Unlock()
	cb(t)
	return true
}
