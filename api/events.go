// File: api/events.go
// Package api defines core event types for hioload-net.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventType is delivered to layers and to the user callback of an I/O object.
type EventType int

const (
	EventConnected EventType = iota
	EventAccept
	EventRead
	EventWrite
	EventDisconnected
	EventError
	EventOther
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventAccept:
		return "ACCEPT"
	case EventRead:
		return "READ"
	case EventWrite:
		return "WRITE"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventError:
		return "ERROR"
	default:
		return "OTHER"
	}
}
