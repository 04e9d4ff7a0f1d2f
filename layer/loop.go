// File: layer/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multiplexer contract consumed by I/O objects and their layers.

package layer

import (
	"io"
	"log/slog"
	"time"

	"github.com/momentics/hioload-net/api"
)

// Loop is the readiness multiplexer an IO is attached to.
// Implementations must be safe for use from any goroutine and must never take
// an IO lock while holding their own internal locks.
type Loop interface {
	// HandleModify adds or removes an OS handle, or adds/removes wait types on
	// an already registered handle.
	HandleModify(mod api.ModType, obj *IO, h api.OSHandle, s api.OSSocket, waits api.WaitType, caps api.Caps) error

	// TimerAdd creates a stopped timer whose callback runs on the loop goroutine.
	TimerAdd(cb TimerFunc) Timer

	// SoftEvent queues ev for obj as if raised by the layer at index. When
	// siblingOnly is set the raising layer itself does not see the event.
	SoftEvent(obj *IO, index int, siblingOnly bool, ev api.EventType)

	// SoftEventClear drops queued soft events raised by the layer at index.
	SoftEventClear(obj *IO, index int)

	// Detach forgets obj; pending events for it are discarded.
	Detach(obj *IO)

	Logger() *slog.Logger
}

// TimerFunc is invoked on the loop goroutine when a timer fires.
type TimerFunc func(t Timer)

// Timer is a loop-owned timer.
type Timer interface {
	// Reset (re)arms the timer to fire after d.
	Reset(d time.Duration)
	// SetFireCount limits how many times the timer fires before stopping; 0 is unlimited.
	SetFireCount(n int)
	Stop()
	// Remove stops the timer and releases it; the timer must not be used afterwards.
	Remove()
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
