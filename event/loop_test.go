package event_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/event"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted hands out canned readiness batches, one per Wait.
type scripted struct {
	mu      sync.Mutex
	batches [][]reactor.Ready
	calls   []string
	closed  bool
}

func (s *scripted) Add(h api.OSHandle, _ api.OSSocket, w api.WaitType) error {
	s.record("add", h, w)
	return nil
}

func (s *scripted) Modify(h api.OSHandle, _ api.OSSocket, w api.WaitType) error {
	s.record("mod", h, w)
	return nil
}

func (s *scripted) Remove(h api.OSHandle, _ api.OSSocket) error {
	s.record("del", h, 0)
	return nil
}

func (s *scripted) record(op string, h api.OSHandle, w api.WaitType) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf("%s %s %d", op, w, h))
	s.mu.Unlock()
}

func (s *scripted) Wait(out []reactor.Ready, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return copy(out, b), nil
	}
	s.mu.Unlock()
	if timeout < 0 || timeout > time.Millisecond {
		timeout = time.Millisecond
	}
	time.Sleep(timeout)
	return 0, nil
}

func (s *scripted) Wake() error { return nil }

func (s *scripted) Close() error {
	s.closed = true
	return nil
}

func (s *scripted) push(b ...reactor.Ready) {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
}

func (s *scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// probe registers one handle in Init and optionally announces itself with a soft event.
type probe struct {
	layer.Passthrough
	h     api.OSHandle
	waits api.WaitType
	greet bool
}

func (p *probe) Init(l *layer.Layer) error {
	if p.greet {
		l.SoftEventAdd(false, api.EventConnected)
	}
	if p.h == 0 {
		return nil
	}
	return l.Loop().HandleModify(api.ModAddHandle, l.IO(), p.h, api.OSSocket(p.h), p.waits, api.CapsRead|api.CapsWrite)
}

func (p *probe) Unregister(l *layer.Layer) {
	if p.h != 0 {
		_ = l.Loop().HandleModify(api.ModDelHandle, l.IO(), p.h, api.OSSocket(p.h), 0, 0)
	}
}

func newProbe(t *testing.T, p *probe) *layer.IO {
	t.Helper()
	obj := layer.New(api.IOTypeStream)
	_, err := obj.AddLayer("PROBE", p)
	require.NoError(t, err)
	return obj
}

type journal struct {
	mu  sync.Mutex
	evs []api.EventType
}

func (j *journal) cb(_ *layer.IO, ev api.EventType) {
	j.mu.Lock()
	j.evs = append(j.evs, ev)
	j.mu.Unlock()
}

func (j *journal) events() []api.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]api.EventType(nil), j.evs...)
}

func newLoop(t *testing.T, opts ...event.Option) (*event.Loop, *scripted) {
	t.Helper()
	sp := &scripted{}
	l, err := event.New(append(opts, event.WithPoller(sp))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, sp
}

func TestLoop_EmptyRunIsDone(t *testing.T) {
	l, _ := newLoop(t)
	assert.Equal(t, api.RunDone, l.Run(time.Second))
}

func TestLoop_RunTimesOut(t *testing.T) {
	l, _ := newLoop(t)
	require.NoError(t, l.Add(newProbe(t, &probe{}), nil))

	start := time.Now()
	assert.Equal(t, api.RunTimeout, l.Run(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, api.RunTimeout, l.Run(0))
}

func TestLoop_DoneStopsRun(t *testing.T) {
	l, _ := newLoop(t)
	obj := newProbe(t, &probe{greet: true})
	require.NoError(t, l.Add(obj, func(*layer.IO, api.EventType) { l.Done() }))

	assert.Equal(t, api.RunDone, l.Run(-1))
	assert.Equal(t, api.RunTimeout, l.Run(5*time.Millisecond), "done is consumed by one run")
}

func TestLoop_NestedRunIsMisuse(t *testing.T) {
	l, _ := newLoop(t)
	var nested api.RunResult
	obj := newProbe(t, &probe{greet: true})
	require.NoError(t, l.Add(obj, func(*layer.IO, api.EventType) {
		nested = l.Run(0)
		l.Done()
	}))
	assert.Equal(t, api.RunDone, l.Run(time.Second))
	assert.Equal(t, api.RunMisuse, nested)
}

func TestLoop_SoftEventsPrecedeReadiness(t *testing.T) {
	l, sp := newLoop(t)
	var j journal
	obj := newProbe(t, &probe{h: 3, waits: api.WaitRead, greet: true})
	require.NoError(t, l.Add(obj, func(o *layer.IO, ev api.EventType) {
		j.cb(o, ev)
		if ev == api.EventRead {
			l.Done()
		}
	}))
	sp.push(reactor.Ready{Handle: 3, Flags: reactor.Readable})

	require.Equal(t, api.RunDone, l.Run(time.Second))
	assert.Equal(t, []api.EventType{api.EventConnected, api.EventRead}, j.events())
}

func TestLoop_ReadinessFollowsRegisteredWaits(t *testing.T) {
	cases := []struct {
		name  string
		waits api.WaitType
		flags reactor.Readiness
		want  []api.EventType
	}{
		{"failure wins", api.WaitRead | api.WaitWrite, reactor.Failed | reactor.Readable, []api.EventType{api.EventError}},
		{"read and write", api.WaitRead | api.WaitWrite, reactor.Readable | reactor.Writable, []api.EventType{api.EventRead, api.EventWrite}},
		{"hangup wakes writer", api.WaitWrite, reactor.Hangup, []api.EventType{api.EventWrite}},
		{"hangup wakes reader", api.WaitRead, reactor.Hangup, []api.EventType{api.EventRead}},
		{"unarmed read", api.WaitWrite, reactor.Readable, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, sp := newLoop(t)
			var j journal
			require.NoError(t, l.Add(newProbe(t, &probe{h: 4, waits: tc.waits}), j.cb))
			sp.push(reactor.Ready{Handle: 4, Flags: tc.flags}, reactor.Ready{Handle: 9, Flags: reactor.Readable})

			assert.Equal(t, api.RunTimeout, l.Run(10*time.Millisecond))
			assert.Equal(t, tc.want, j.events())
		})
	}
}

// disarmer drops the registration on the first event it sees.
type disarmer struct {
	probe
}

func (d *disarmer) ProcessEvent(l *layer.Layer, ev api.EventType) (api.EventType, bool) {
	_ = l.Loop().HandleModify(api.ModDelWait, l.IO(), d.h, api.OSSocket(d.h), api.WaitRead|api.WaitWrite, 0)
	return ev, false
}

func TestLoop_RegistrationRecheckedBetweenEvents(t *testing.T) {
	l, sp := newLoop(t)
	var j journal
	d := &disarmer{probe{h: 5, waits: api.WaitRead | api.WaitWrite}}
	obj := layer.New(api.IOTypeStream)
	_, err := obj.AddLayer("DISARM", d)
	require.NoError(t, err)
	require.NoError(t, l.Add(obj, j.cb))
	sp.push(reactor.Ready{Handle: 5, Flags: reactor.Readable | reactor.Writable})

	assert.Equal(t, api.RunTimeout, l.Run(10*time.Millisecond))
	assert.Equal(t, []api.EventType{api.EventRead}, j.events())
	assert.Contains(t, sp.Calls(), "mod none 5")
}

func TestLoop_HandleModify(t *testing.T) {
	l, sp := newLoop(t)
	obj := newProbe(t, &probe{h: 2, waits: api.WaitRead})
	require.NoError(t, l.Add(obj, nil))

	assert.ErrorIs(t, l.HandleModify(api.ModAddHandle, obj, 2, 2, api.WaitRead, api.CapsRead), api.ErrCodeInvalid)
	assert.ErrorIs(t, l.HandleModify(api.ModAddHandle, obj, api.InvalidHandle, 2, api.WaitRead, api.CapsRead), api.ErrCodeInvalid)
	assert.ErrorIs(t, l.HandleModify(api.ModAddWait, obj, 6, 6, api.WaitWrite, 0), api.ErrCodeNotFound)
	assert.NoError(t, l.HandleModify(api.ModDelHandle, obj, 6, 6, 0, 0), "removing an unknown handle is a no-op")

	require.NoError(t, l.HandleModify(api.ModAddWait, obj, 2, 2, api.WaitWrite, 0))
	require.NoError(t, l.HandleModify(api.ModAddWait, obj, 2, 2, api.WaitWrite, 0))
	require.NoError(t, l.HandleModify(api.ModDelWait, obj, 2, 2, api.WaitRead, 0))
	assert.Equal(t, []string{"add read 2", "mod read|write 2", "mod write 2"}, sp.Calls())
}

func TestLoop_DestroyDropsEverything(t *testing.T) {
	l, sp := newLoop(t)
	var j journal
	obj := newProbe(t, &probe{h: 7, waits: api.WaitRead, greet: true})
	require.NoError(t, l.Add(obj, j.cb))
	st := l.Stats()
	assert.Equal(t, 1, st.Handles)
	assert.Equal(t, 1, st.Objects)

	obj.Destroy()
	st = l.Stats()
	assert.Zero(t, st.Handles)
	assert.Zero(t, st.Objects)
	assert.Contains(t, sp.Calls(), "del none 7")

	assert.Equal(t, api.RunDone, l.Run(time.Second))
	assert.Empty(t, j.events(), "pending soft events of a destroyed object are dropped")
}

func TestLoop_SoftEventClear(t *testing.T) {
	l, _ := newLoop(t)
	var j journal
	obj := newProbe(t, &probe{greet: true})
	require.NoError(t, l.Add(obj, j.cb))
	l.SoftEventClear(obj, 0)

	assert.Equal(t, api.RunTimeout, l.Run(5*time.Millisecond))
	assert.Empty(t, j.events())
}

func TestLoop_TimerFireCount(t *testing.T) {
	l, _ := newLoop(t)
	require.NoError(t, l.Add(newProbe(t, &probe{}), nil))

	fired := 0
	tm := l.TimerAdd(func(layer.Timer) { fired++ })
	tm.SetFireCount(3)
	tm.Reset(time.Millisecond)

	assert.Equal(t, api.RunTimeout, l.Run(60*time.Millisecond))
	assert.Equal(t, 3, fired)
	assert.Equal(t, uint64(3), l.Stats().TimersFired)
	assert.Equal(t, 1, l.Stats().Timers)
	tm.Remove()
	assert.Zero(t, l.Stats().Timers)
}

func TestLoop_TimerStopAndRearm(t *testing.T) {
	l, _ := newLoop(t)
	require.NoError(t, l.Add(newProbe(t, &probe{}), nil))

	var order []string
	a := l.TimerAdd(func(layer.Timer) { order = append(order, "a") })
	b := l.TimerAdd(func(layer.Timer) { order = append(order, "b") })
	stopped := l.TimerAdd(func(layer.Timer) { order = append(order, "stopped") })
	for _, tm := range []layer.Timer{a, b, stopped} {
		tm.SetFireCount(1)
	}
	b.Reset(2 * time.Millisecond)
	a.Reset(time.Millisecond)
	stopped.Reset(time.Millisecond)
	stopped.Stop()

	assert.Equal(t, api.RunTimeout, l.Run(30*time.Millisecond))
	assert.Equal(t, []string{"a", "b"}, order)

	a.Reset(time.Millisecond)
	a.Remove()
	a.Reset(time.Millisecond)
	assert.Equal(t, api.RunTimeout, l.Run(10*time.Millisecond))
	assert.Equal(t, []string{"a", "b"}, order, "removed timers never fire")
}

func TestLoop_InitFailureStaysAttached(t *testing.T) {
	l, _ := newLoop(t)
	var j journal
	obj := newProbe(t, &probe{h: api.InvalidHandle})
	require.Error(t, l.Add(obj, j.cb))
	assert.Equal(t, 1, l.Stats().Objects)

	assert.Equal(t, api.RunTimeout, l.Run(5*time.Millisecond))
	assert.Equal(t, []api.EventType{api.EventError}, j.events())
	assert.ErrorIs(t, l.Add(obj, nil), api.ErrCodeInvalid, "already attached")
	assert.ErrorIs(t, l.Add(nil, nil), api.ErrCodeInvalid)
}

func TestLoop_CloseDestroysObjects(t *testing.T) {
	sp := &scripted{}
	l, err := event.New(event.WithPoller(sp))
	require.NoError(t, err)
	obj := newProbe(t, &probe{h: 8, waits: api.WaitRead})
	require.NoError(t, l.Add(obj, nil))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.True(t, sp.closed)
	assert.Nil(t, obj.Loop())
	assert.Equal(t, api.RunMisuse, l.Run(0))
	assert.ErrorIs(t, l.Add(newProbe(t, &probe{}), nil), api.ErrCodeInvalid)
}

func TestLoop_MetricsAndProbes(t *testing.T) {
	mr := control.NewMetricsRegistry()
	dp := control.NewDebugProbes()
	l, _ := newLoop(t, event.WithMetrics(mr), event.WithProbes(dp))
	obj := newProbe(t, &probe{h: 1, waits: api.WaitRead, greet: true})
	require.NoError(t, l.Add(obj, nil))

	assert.Equal(t, api.RunTimeout, l.Run(5*time.Millisecond))
	v, ok := mr.Get("loop.soft_events")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)

	state := dp.DumpState()
	assert.Equal(t, 1, state["loop.handles"])
	assert.Equal(t, 1, state["loop.objects"])
	assert.Equal(t, 0, state["loop.soft_pending"])
	assert.Contains(t, state, "platform.poller")
}
