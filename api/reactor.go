// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// OS handle types and readiness vocabulary shared between layers and the multiplexer.

package api

// OSHandle is the waitable object registered with the multiplexer. On POSIX it
// is the socket descriptor itself, on Windows a WSAEVENT bound to the socket.
type OSHandle uintptr

// OSSocket is the raw socket descriptor (int fd or SOCKET).
type OSSocket uintptr

const (
	InvalidHandle OSHandle = ^OSHandle(0)
	InvalidSocket OSSocket = ^OSSocket(0)
)

// WaitType is a readiness interest mask.
type WaitType uint8

const (
	WaitRead WaitType = 1 << iota
	WaitWrite
)

func (w WaitType) String() string {
	switch w {
	case 0:
		return "none"
	case WaitRead:
		return "read"
	case WaitWrite:
		return "write"
	case WaitRead | WaitWrite:
		return "read|write"
	default:
		return "invalid"
	}
}

// Caps advertises which readiness kinds a handle can ever produce.
type Caps uint8

const (
	CapsRead Caps = 1 << iota
	CapsWrite
)

// ModType selects the registration change requested from the multiplexer.
type ModType int

const (
	ModAddHandle ModType = iota
	ModDelHandle
	ModAddWait
	ModDelWait
)
