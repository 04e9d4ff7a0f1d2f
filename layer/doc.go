// File: layer/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package layer implements the I/O object and its stack of layers.
//
// An IO owns an ordered stack of layers. Index 0 is the innermost layer, the
// one that owns the OS resource; every layer pushed afterwards sits above it.
// Calls made by the user (Read, Write, Disconnect, ...) enter at the top of the
// stack and travel down through ReadBelow/WriteBelow. Events delivered by the
// event loop enter at the layer that raised them and travel up; every layer may
// rewrite the event type or consume it before it reaches the user callback.
//
// All Handler callbacks of one IO run while that IO's lock is held, whether they
// are triggered by a user goroutine or by the event loop goroutine. The user
// callback is invoked with the lock released so it may call back into the IO.
package layer
