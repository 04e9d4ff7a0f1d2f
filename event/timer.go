// File: event/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop-owned timers kept in a min-heap ordered by due time.

package event

import (
	"container/heap"
	"time"

	"github.com/momentics/hioload-net/layer"
)

type timer struct {
	loop      *Loop
	cb        layer.TimerFunc
	due       time.Time
	period    time.Duration
	fireCount int
	fired     int
	seq       uint64
	gen       uint64
	index     int // position in the heap, -1 when not armed
	removed   bool
}

// Reset arms the timer to fire after d, then every d until the fire count is reached.
func (t *timer) Reset(d time.Duration) {
	l := t.loop
	l.mu.Lock()
	if t.removed {
		l.mu.Unlock()
		return
	}
	if d < 0 {
		d = 0
	}
	t.period = d
	t.fired = 0
	t.due = time.Now().Add(d)
	t.gen++
	l.seq++
	t.seq = l.seq
	if t.index >= 0 {
		heap.Fix(&l.timers, t.index)
	} else {
		heap.Push(&l.timers, t)
	}
	l.mu.Unlock()
	l.wake()
}

// SetFireCount limits the number of firings per Reset; 0 repeats forever.
func (t *timer) SetFireCount(n int) {
	t.loop.mu.Lock()
	if n < 0 {
		n = 0
	}
	t.fireCount = n
	t.loop.mu.Unlock()
}

func (t *timer) Stop() {
	t.loop.mu.Lock()
	t.stopLocked()
	t.loop.mu.Unlock()
}

func (t *timer) Remove() {
	l := t.loop
	l.mu.Lock()
	if !t.removed {
		t.stopLocked()
		t.removed = true
		l.ntimers--
	}
	l.mu.Unlock()
}

func (t *timer) stopLocked() {
	t.gen++
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

type firing struct {
	t   *timer
	gen uint64
}

// expiredLocked pops every due timer, re-arming periodic ones.
func (l *Loop) expiredLocked(now time.Time) []firing {
	var out []firing
	for len(l.timers) > 0 && !l.timers[0].due.After(now) {
		t := heap.Pop(&l.timers).(*timer)
		t.fired++
		if t.period > 0 && (t.fireCount == 0 || t.fired < t.fireCount) {
			t.due = now.Add(t.period)
			l.seq++
			t.seq = l.seq
			heap.Push(&l.timers, t)
		}
		out = append(out, firing{t: t, gen: t.gen})
	}
	return out
}

func (l *Loop) fireTimers() {
	l.mu.Lock()
	due := l.expiredLocked(time.Now())
	l.mu.Unlock()

	for _, f := range due {
		l.mu.Lock()
		stale := f.t.removed || f.t.gen != f.gen
		l.mu.Unlock()
		if stale {
			continue
		}
		l.timersFired.Add(1)
		f.t.cb(f.t)
	}
}
