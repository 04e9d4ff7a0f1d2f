// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level enums for I/O objects, their states and address families.

package api

// IOType is the role of an I/O object.
type IOType int

const (
	IOTypeStream IOType = iota
	IOTypeListener
	IOTypeReader
	IOTypeWriter
)

func (t IOType) String() string {
	switch t {
	case IOTypeStream:
		return "stream"
	case IOTypeListener:
		return "listener"
	case IOTypeReader:
		return "reader"
	case IOTypeWriter:
		return "writer"
	default:
		return "unknown"
	}
}

// IOState enumerates the portable lifecycle state reported by a layer.
type IOState int

const (
	StateInit IOState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateError
	StateListening
)

func (s IOState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}

// NetFamily selects the address family of a network handle.
type NetFamily int

const (
	FamilyAny NetFamily = iota
	FamilyIPv4
	FamilyIPv6
)

func (f NetFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "any"
	}
}

// RunResult is the outcome of one event loop run.
type RunResult int

const (
	RunDone RunResult = iota
	RunTimeout
	RunMisuse
)

func (r RunResult) String() string {
	switch r {
	case RunDone:
		return "done"
	case RunTimeout:
		return "timeout"
	default:
		return "misuse"
	}
}
