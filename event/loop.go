// File: event/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event loop: handle registry, soft-event FIFO, readiness dispatch and Run.

package event

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/reactor"
)

type registration struct {
	io    *layer.IO
	sock  api.OSSocket
	waits api.WaitType
	caps  api.Caps
}

type softEvent struct {
	io          *layer.IO
	index       int
	siblingOnly bool
	ev          api.EventType
}

// Stats is a point-in-time view of loop activity.
type Stats struct {
	Events      uint64 // readiness events dispatched
	SoftEvents  uint64
	TimersFired uint64
	Handles     int
	Objects     int
	Timers      int
}

// Loop multiplexes the OS handles of its attached I/O objects.
type Loop struct {
	poller  reactor.Poller
	log     *slog.Logger
	metrics *control.MetricsRegistry

	mu      sync.Mutex
	handles map[api.OSHandle]*registration
	objects map[*layer.IO]struct{}
	soft    *queue.Queue
	timers  timerHeap
	ntimers int
	seq     uint64
	done    bool
	closed  bool

	running atomic.Bool
	ready   []reactor.Ready

	events      atomic.Uint64
	softEvents  atomic.Uint64
	timersFired atomic.Uint64
}

var _ layer.Loop = (*Loop)(nil)

// New creates a loop over the platform poller.
func New(opts ...Option) (*Loop, error) {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	p := o.poller
	if p == nil {
		var err error
		if p, err = reactor.New(); err != nil {
			return nil, fmt.Errorf("event loop: %w", err)
		}
	}
	l := &Loop{
		poller:  p,
		log:     o.log,
		metrics: o.metrics,
		handles: make(map[api.OSHandle]*registration),
		objects: make(map[*layer.IO]struct{}),
		soft:    queue.New(),
		ready:   make([]reactor.Ready, o.maxEvents),
	}
	if o.probes != nil {
		l.registerProbes(o.probes)
	}
	return l, nil
}

// Add attaches obj and initializes its layers bottom-up. cb receives every
// event that makes it through the stack. A layer whose init fails queues an
// ERROR event; the object stays attached so the caller sees it.
func (l *Loop) Add(obj *layer.IO, cb layer.EventFunc) error {
	if obj == nil || obj.Loop() != nil {
		return api.ErrCodeInvalid
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return api.ErrCodeInvalid
	}
	l.objects[obj] = struct{}{}
	l.mu.Unlock()

	err := obj.Attach(l, cb)
	if err != nil && obj.Loop() == nil {
		l.mu.Lock()
		delete(l.objects, obj)
		l.mu.Unlock()
	}
	l.wake()
	return err
}

// Run processes events until Done is called or no object is left (RunDone),
// until timeout elapses (RunTimeout, a negative timeout never elapses), or
// returns RunMisuse when the loop is already running or closed.
func (l *Loop) Run(timeout time.Duration) api.RunResult {
	if !l.running.CompareAndSwap(false, true) {
		return api.RunMisuse
	}
	defer l.running.Store(false)

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return api.RunMisuse
		}
		if l.done {
			l.done = false
			l.mu.Unlock()
			return api.RunDone
		}
		if len(l.objects) == 0 && l.soft.Length() == 0 {
			l.mu.Unlock()
			return api.RunDone
		}
		wait := l.waitLocked(deadline, timeout >= 0)
		l.mu.Unlock()

		n, err := l.poller.Wait(l.ready, wait)
		if err != nil {
			l.log.Error("poll failed", "err", err)
			return api.RunMisuse
		}
		l.deliverSoft()
		l.dispatch(l.ready[:n])
		l.fireTimers()
		l.publish()

		if timeout >= 0 && !time.Now().Before(deadline) {
			return api.RunTimeout
		}
	}
}

func (l *Loop) waitLocked(deadline time.Time, bounded bool) time.Duration {
	if l.soft.Length() > 0 {
		return 0
	}
	wait := time.Duration(-1)
	if len(l.timers) > 0 {
		wait = max(time.Until(l.timers[0].due), 0)
	}
	if bounded {
		if d := max(time.Until(deadline), 0); wait < 0 || d < wait {
			wait = d
		}
	}
	return wait
}

// deliverSoft delivers the soft events queued before this call. Events queued
// while delivering wait for the next iteration.
func (l *Loop) deliverSoft() {
	l.mu.Lock()
	n := l.soft.Length()
	l.mu.Unlock()
	for i := 0; i < n; i++ {
		l.mu.Lock()
		if l.soft.Length() == 0 {
			l.mu.Unlock()
			return
		}
		s := l.soft.Remove().(softEvent)
		l.mu.Unlock()

		start := s.index
		if s.siblingOnly {
			start++
		}
		l.softEvents.Add(1)
		s.io.Dispatch(start, s.ev)
	}
}

var dispatchOrder = [...]api.EventType{api.EventError, api.EventRead, api.EventWrite}

// dispatch turns readiness reports into events for the wait types currently
// registered. The registry is re-read before every event because the previous
// one may have changed or removed the registration.
func (l *Loop) dispatch(ready []reactor.Ready) {
	for _, r := range ready {
		for _, ev := range dispatchOrder {
			l.mu.Lock()
			reg := l.handles[r.Handle]
			if reg == nil {
				l.mu.Unlock()
				break
			}
			obj, fire := reg.io, wants(reg.waits, r.Flags, ev)
			l.mu.Unlock()
			if fire {
				l.events.Add(1)
				obj.Dispatch(0, ev)
			}
		}
	}
}

func wants(waits api.WaitType, f reactor.Readiness, ev api.EventType) bool {
	failed := f&reactor.Failed != 0
	switch ev {
	case api.EventError:
		return failed
	case api.EventRead:
		return !failed && waits&api.WaitRead != 0 && f&(reactor.Readable|reactor.Hangup) != 0
	case api.EventWrite:
		return !failed && waits&api.WaitWrite != 0 && f&(reactor.Writable|reactor.Hangup) != 0
	}
	return false
}

// HandleModify implements layer.Loop.
func (l *Loop) HandleModify(mod api.ModType, obj *layer.IO, h api.OSHandle, s api.OSSocket, waits api.WaitType, caps api.Caps) error {
	if h == api.InvalidHandle {
		return api.ErrCodeInvalid
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	reg := l.handles[h]
	switch mod {
	case api.ModAddHandle:
		if reg != nil || obj == nil {
			return api.ErrCodeInvalid
		}
		if err := l.poller.Add(h, s, waits); err != nil {
			return err
		}
		l.handles[h] = &registration{io: obj, sock: s, waits: waits, caps: caps}
	case api.ModDelHandle:
		if reg == nil {
			return nil
		}
		delete(l.handles, h)
		return l.poller.Remove(h, reg.sock)
	case api.ModAddWait, api.ModDelWait:
		if reg == nil {
			return api.ErrCodeNotFound
		}
		next := reg.waits | waits
		if mod == api.ModDelWait {
			next = reg.waits &^ waits
		}
		if next == reg.waits {
			return nil
		}
		reg.waits = next
		return l.poller.Modify(h, reg.sock, next)
	default:
		return api.ErrCodeInvalid
	}
	return nil
}

// TimerAdd implements layer.Loop.
func (l *Loop) TimerAdd(cb layer.TimerFunc) layer.Timer {
	l.mu.Lock()
	l.ntimers++
	l.mu.Unlock()
	return &timer{loop: l, cb: cb, index: -1}
}

// SoftEvent implements layer.Loop.
func (l *Loop) SoftEvent(obj *layer.IO, index int, siblingOnly bool, ev api.EventType) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.soft.Add(softEvent{io: obj, index: index, siblingOnly: siblingOnly, ev: ev})
	l.mu.Unlock()
	l.wake()
}

// SoftEventClear implements layer.Loop.
func (l *Loop) SoftEventClear(obj *layer.IO, index int) {
	l.mu.Lock()
	l.filterSoftLocked(func(s softEvent) bool { return s.io != obj || s.index != index })
	l.mu.Unlock()
}

// Detach implements layer.Loop. Registrations the object left behind are dropped.
func (l *Loop) Detach(obj *layer.IO) {
	l.mu.Lock()
	delete(l.objects, obj)
	l.filterSoftLocked(func(s softEvent) bool { return s.io != obj })
	for h, reg := range l.handles {
		if reg.io == obj {
			l.log.Warn("handle left registered on detach", "io", obj.ID().String(), "handle", uint64(h))
			delete(l.handles, h)
			_ = l.poller.Remove(h, reg.sock)
		}
	}
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) filterSoftLocked(keep func(softEvent) bool) {
	n := l.soft.Length()
	for i := 0; i < n; i++ {
		s := l.soft.Remove().(softEvent)
		if keep(s) {
			l.soft.Add(s)
		}
	}
}

// Logger implements layer.Loop.
func (l *Loop) Logger() *slog.Logger { return l.log }

// Done makes the current (or next) Run return RunDone.
func (l *Loop) Done() {
	l.mu.Lock()
	l.done = true
	l.mu.Unlock()
	l.wake()
}

// Close destroys every object still attached and releases the poller.
// It must not be called while Run is active.
func (l *Loop) Close() error {
	if l.running.Load() {
		return api.ErrCodeInvalid
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	objs := make([]*layer.IO, 0, len(l.objects))
	for obj := range l.objects {
		objs = append(objs, obj)
	}
	l.mu.Unlock()

	for _, obj := range objs {
		obj.Destroy()
	}

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.poller.Close()
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Events:      l.events.Load(),
		SoftEvents:  l.softEvents.Load(),
		TimersFired: l.timersFired.Load(),
		Handles:     len(l.handles),
		Objects:     len(l.objects),
		Timers:      l.ntimers,
	}
}

func (l *Loop) wake() {
	if l.running.Load() {
		_ = l.poller.Wake()
	}
}

func (l *Loop) publish() {
	if l.metrics == nil {
		return
	}
	st := l.Stats()
	l.metrics.SetMany(map[string]any{
		"loop.events":       st.Events,
		"loop.soft_events":  st.SoftEvents,
		"loop.timers_fired": st.TimersFired,
		"loop.handles":      st.Handles,
	})
}

func (l *Loop) registerProbes(dp *control.DebugProbes) {
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("loop.handles", func() any { return l.Stats().Handles })
	dp.RegisterProbe("loop.objects", func() any { return l.Stats().Objects })
	dp.RegisterProbe("loop.timers", func() any { return l.Stats().Timers })
	dp.RegisterProbe("loop.soft_pending", func() any {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.soft.Length()
	})
}
