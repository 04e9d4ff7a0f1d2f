// File: transport/tcp/doc.go
// Package tcp
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Network transport layer ("NET"): the innermost layer of stream and listener
// I/O objects. It owns one non-blocking TCP socket and drives it through
//
//	INIT -> [RESOLVING] -> CONNECTING -> CONNECTED -> DISCONNECTING -> DISCONNECTED
//	                                                  any state     -> ERROR
//	LISTENING (listeners only)
//
// DISCONNECTED and ERROR are absorbing. Readiness is one-shot from the caller's
// point of view: a READ or WRITE event disarms that wait, and the next Read or
// Write re-arms it when the call would block or transferred less than asked.
//
// Fatal errors close the socket and are reported exactly once, as an ERROR or
// DISCONNECTED event.

package tcp
