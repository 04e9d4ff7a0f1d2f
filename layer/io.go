// File: layer/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// I/O object: ordered layer stack, per-object lock and event routing.

package layer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/momentics/hioload-net/api"
)

// EventFunc receives events that made it through the whole stack.
type EventFunc func(obj *IO, ev api.EventType)

// IO is the user-facing handle composed of a stack of layers.
type IO struct {
	mu        sync.Mutex
	id        uuid.UUID
	typ       api.IOType
	layers    []*Layer
	loop      Loop
	cb        EventFunc
	destroyed bool
}

// New creates an empty IO of the given type.
func New(typ api.IOType) *IO {
	return &IO{id: uuid.New(), typ: typ}
}

// ID returns the object identity used in log records.
func (o *IO) ID() uuid.UUID { return o.id }

// Type returns the object role.
func (o *IO) Type() api.IOType { return o.typ }

func (o *IO) String() string {
	return fmt.Sprintf("%s/%s", o.typ, o.id.String()[:8])
}

// AddLayer pushes a new layer on top of the stack. Layers can only be added
// before the object is attached to a loop.
func (o *IO) AddLayer(name string, h Handler) (*Layer, error) {
	if h == nil {
		return nil, api.ErrCodeInvalid
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed || o.loop != nil {
		return nil, api.ErrCodeInvalid
	}
	l := &Layer{name: name, index: len(o.layers), io: o, h: h}
	o.layers = append(o.layers, l)
	return l, nil
}

// LayerCount returns the stack depth.
func (o *IO) LayerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.layers)
}

// AcquireLayer locks the object and returns the requested layer. When name is
// non-empty the topmost layer with that name is returned and index is ignored.
// Returns nil, with the lock released, if no such layer exists.
// The caller must call Release on the returned layer.
func (o *IO) AcquireLayer(index int, name string) *Layer {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return nil
	}
	if name != "" {
		for i := len(o.layers) - 1; i >= 0; i-- {
			if o.layers[i].name == name {
				return o.layers[i]
			}
		}
		o.mu.Unlock()
		return nil
	}
	if index < 0 || index >= len(o.layers) {
		o.mu.Unlock()
		return nil
	}
	return o.layers[index]
}

// Attach binds the object to loop and initializes every layer bottom-up.
// A layer whose Init fails raises an ERROR soft event and stops initialization.
func (o *IO) Attach(loop Loop, cb EventFunc) error {
	if loop == nil {
		return api.ErrCodeInvalid
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed || o.loop != nil || len(o.layers) == 0 {
		return api.ErrCodeInvalid
	}
	o.loop = loop
	o.cb = cb
	for _, l := range o.layers {
		if err := l.h.Init(l); err != nil {
			l.Logger().Debug("layer init failed", "err", err)
			loop.SoftEvent(o, l.index, false, api.EventError)
			return err
		}
	}
	return nil
}

// Loop returns the attached loop, or nil.
func (o *IO) Loop() Loop {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loop
}

// Dispatch routes ev upward starting at layer index and hands the result to the
// user callback. Events for destroyed or detached objects are dropped.
func (o *IO) Dispatch(index int, ev api.EventType) {
	o.mu.Lock()
	if o.destroyed || o.loop == nil {
		o.mu.Unlock()
		return
	}
	for i := index; i < len(o.layers); i++ {
		l := o.layers[i]
		var consumed bool
		ev, consumed = l.h.ProcessEvent(l, ev)
		if consumed {
			o.mu.Unlock()
			return
		}
	}
	cb := o.cb
	o.mu.Unlock()
	if cb != nil {
		cb(o, ev)
	}
}

// Read reads through the top layer.
func (o *IO) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, api.ErrCodeInvalid
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	top, err := o.topLocked()
	if err != nil {
		return 0, err
	}
	return top.h.Read(top, buf)
}

// Write writes through the top layer.
func (o *IO) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, api.ErrCodeInvalid
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	top, err := o.topLocked()
	if err != nil {
		return 0, err
	}
	return top.h.Write(top, buf)
}

// Accept creates a stream object for the next pending connection of a listener.
// Each layer implementing Acceptor pushes its counterpart onto the child, bottom-up.
// The child must be attached to a loop by the caller.
func (o *IO) Accept() (*IO, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return nil, api.ErrCodeInvalid
	}
	if o.typ != api.IOTypeListener {
		return nil, api.ErrCodeInvalid
	}
	child := New(api.IOTypeStream)
	for _, l := range o.layers {
		a, ok := l.h.(Acceptor)
		if !ok {
			continue
		}
		if err := a.Accept(child, l); err != nil {
			child.Destroy()
			return nil, err
		}
	}
	if len(child.layers) == 0 {
		return nil, api.ErrCodeNotSupported
	}
	return child, nil
}

// Disconnect asks the layers, top-down, to close gracefully. Completion is
// signalled by a DISCONNECTED (or ERROR) event. Objects already in a terminal
// state report ErrCodeNotConnected.
func (o *IO) Disconnect() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return api.ErrCodeInvalid
	}
	if o.loop == nil {
		return api.ErrCodeNotConnected
	}
	switch o.stateLocked() {
	case api.StateDisconnected, api.StateError:
		return api.ErrCodeNotConnected
	}
	for i := len(o.layers) - 1; i >= 0; i-- {
		l := o.layers[i]
		if !l.h.Disconnect(l) {
			return nil
		}
	}
	// Every layer finished synchronously: let the whole stack observe it.
	o.loop.SoftEvent(o, 0, false, api.EventDisconnected)
	return nil
}

// Destroy unregisters and destroys every layer, top to bottom. Safe in any state
// and idempotent.
func (o *IO) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	loop := o.loop
	for i := len(o.layers) - 1; i >= 0; i-- {
		l := o.layers[i]
		if loop != nil {
			l.h.Unregister(l)
		}
	}
	for i := len(o.layers) - 1; i >= 0; i-- {
		l := o.layers[i]
		l.h.Destroy(l)
	}
	o.destroyed = true
	o.layers = nil
	o.loop = nil
	o.cb = nil
	o.mu.Unlock()

	if loop != nil {
		loop.Detach(o)
	}
}

// Detach unregisters every layer from the loop without destroying them; the
// object may be attached to another loop afterwards.
func (o *IO) Detach() {
	o.mu.Lock()
	loop := o.loop
	if o.destroyed || loop == nil {
		o.mu.Unlock()
		return
	}
	for i := len(o.layers) - 1; i >= 0; i-- {
		l := o.layers[i]
		l.h.Unregister(l)
	}
	o.loop = nil
	o.cb = nil
	o.mu.Unlock()

	loop.Detach(o)
}

// State returns the first non-connected state found from the top of the stack.
func (o *IO) State() api.IOState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed {
		return api.StateError
	}
	return o.stateLocked()
}

// ErrorString returns the first error message offered by a layer, top-down.
func (o *IO) ErrorString() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.layers) - 1; i >= 0; i-- {
		l := o.layers[i]
		if msg := l.h.ErrorMessage(l); msg != "" {
			return msg
		}
	}
	return ""
}

func (o *IO) stateLocked() api.IOState {
	if len(o.layers) == 0 {
		return api.StateInit
	}
	for i := len(o.layers) - 1; i >= 0; i-- {
		l := o.layers[i]
		if st := l.h.State(l); st != api.StateConnected {
			return st
		}
	}
	return api.StateConnected
}

func (o *IO) topLocked() (*Layer, error) {
	if o.destroyed || len(o.layers) == 0 {
		return nil, api.ErrCodeInvalid
	}
	return o.layers[len(o.layers)-1], nil
}
