// File: event/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package event implements the event loop I/O objects are attached to.
//
// One goroutine runs a Loop at a time. Each iteration polls the reactor,
// delivers queued soft events, dispatches readiness for the wait types each
// handle is registered for and fires expired timers. Soft events always go
// out before readiness events of the same iteration, so a synthesized
// CONNECTED reaches the user before any READ or WRITE for the same handle.
//
// Lock order is IO lock, then loop lock. The loop never holds its own lock
// while calling into an I/O object.
package event
