// File: layer/layer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Layer capability contract and the per-layer view handed to callbacks.

package layer

import (
	"log/slog"

	"github.com/momentics/hioload-net/api"
)

// Handler is the fixed capability set of a layer. The concrete value is the
// layer's private state; it is only touched from these callbacks.
type Handler interface {
	// Init runs when the IO is attached to a loop.
	Init(l *Layer) error
	Read(l *Layer, buf []byte) (int, error)
	Write(l *Layer, buf []byte) (int, error)
	// ProcessEvent may rewrite ev; returning consumed stops propagation.
	ProcessEvent(l *Layer, ev api.EventType) (out api.EventType, consumed bool)
	// Disconnect starts a graceful close. It returns true when this layer is
	// done and the next lower layer should be asked, false to wait for an event.
	Disconnect(l *Layer) bool
	// Unregister removes every registration and timer the layer holds in the loop.
	Unregister(l *Layer)
	// Destroy releases all resources. Called at most once, after Unregister.
	Destroy(l *Layer)
	State(l *Layer) api.IOState
	ErrorMessage(l *Layer) string
}

// Acceptor is implemented by layers of a listener that can produce a child
// connection. Accept pushes the child's counterpart layer onto child.
type Acceptor interface {
	Accept(child *IO, l *Layer) error
}

// Layer is one stage of an IO's stack.
type Layer struct {
	name  string
	index int
	io    *IO
	h     Handler
}

// Name returns the layer tag, e.g. "NET".
func (l *Layer) Name() string { return l.name }

// Index returns the position in the stack, 0 being the innermost layer.
func (l *Layer) Index() int { return l.index }

// IO returns the owning object.
func (l *Layer) IO() *IO { return l.io }

// Handler returns the capability implementation bound at creation.
func (l *Layer) Handler() Handler { return l.h }

// Loop returns the loop the owning IO is attached to, or nil.
// Must be called with the IO lock held.
func (l *Layer) Loop() Loop { return l.io.loop }

// Logger returns the loop logger annotated with the IO and layer.
func (l *Layer) Logger() *slog.Logger {
	base := discardLogger
	if l.io.loop != nil {
		base = l.io.loop.Logger()
	}
	return base.With("io", l.io.id.String(), "layer", l.name)
}

// Release unlocks the IO acquired through AcquireLayer.
func (l *Layer) Release() {
	l.io.mu.Unlock()
}

// SoftEventAdd queues a synthesized event as if raised by this layer.
// No-op when the IO is not attached to a loop.
func (l *Layer) SoftEventAdd(siblingOnly bool, ev api.EventType) {
	if l.io.loop == nil {
		return
	}
	l.io.loop.SoftEvent(l.io, l.index, siblingOnly, ev)
}

// SoftEventClear drops soft events this layer queued and that were not delivered yet.
func (l *Layer) SoftEventClear() {
	if l.io.loop == nil {
		return
	}
	l.io.loop.SoftEventClear(l.io, l.index)
}

// ReadBelow reads through the next inner layer.
func (l *Layer) ReadBelow(buf []byte) (int, error) {
	if l.index == 0 {
		return 0, api.ErrCodeInvalid
	}
	below := l.io.layers[l.index-1]
	return below.h.Read(below, buf)
}

// WriteBelow writes through the next inner layer.
func (l *Layer) WriteBelow(buf []byte) (int, error) {
	if l.index == 0 {
		return 0, api.ErrCodeInvalid
	}
	below := l.io.layers[l.index-1]
	return below.h.Write(below, buf)
}

// Passthrough forwards data to the layer below and leaves events untouched.
// Embed it in handlers that only need to override a few callbacks.
type Passthrough struct{}

func (Passthrough) Init(*Layer) error { return nil }

func (Passthrough) Read(l *Layer, buf []byte) (int, error) { return l.ReadBelow(buf) }

func (Passthrough) Write(l *Layer, buf []byte) (int, error) { return l.WriteBelow(buf) }

func (Passthrough) ProcessEvent(_ *Layer, ev api.EventType) (api.EventType, bool) {
	return ev, false
}

func (Passthrough) Disconnect(*Layer) bool { return true }

func (Passthrough) Unregister(*Layer) {}

func (Passthrough) Destroy(*Layer) {}

// State reports connected so the state of the layers below shows through.
func (Passthrough) State(*Layer) api.IOState { return api.StateConnected }

func (Passthrough) ErrorMessage(*Layer) string { return "" }
