//go:build linux || darwin
// +build linux darwin

// File: internal/sock/sock_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// POSIX socket primitives shared by Linux and Darwin.

package sock

import (
	"errors"
	"net/netip"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

// Raw error numbers synthesized by the NET layer.
const (
	SysTimedOut     = int(unix.ETIMEDOUT)
	SysConnAborted  = int(unix.ECONNABORTED)
	SysAddrNotAvail = int(unix.EADDRNOTAVAIL)
)

// Init prepares the platform network stack. Nothing to do on POSIX.
func Init() error { return nil }

// Cleanup releases what Init acquired. Nothing to do on POSIX.
func Cleanup() {}

func fd(s api.OSSocket) int { return int(s) }

func domain(f api.NetFamily) int {
	if f == api.FamilyIPv4 {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func sockaddr(ap netip.AddrPort) unix.Sockaddr {
	ip := ap.Addr()
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ip.As16()}
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	}
	return netip.AddrPort{}
}

func boolInt(on bool) int {
	if on {
		return 1
	}
	return 0
}

// Socket creates a non-blocking, close-on-exec TCP socket. FamilyAny yields an
// IPv6 socket; dual-stack behaviour is chosen with SetV6Only.
func Socket(f api.NetFamily) (api.OSSocket, error) {
	n, err := socket(domain(f))
	if err != nil {
		return api.InvalidSocket, err
	}
	return api.OSSocket(n), nil
}

// Connect starts a non-blocking connect. A would-block error means in progress.
func Connect(s api.OSSocket, addr netip.AddrPort) error {
	return unix.Connect(fd(s), sockaddr(addr))
}

func Bind(s api.OSSocket, addr netip.AddrPort) error {
	return unix.Bind(fd(s), sockaddr(addr))
}

func Listen(s api.OSSocket) error {
	return unix.Listen(fd(s), listenBacklog)
}

// Recv reads once. A zero count with a nil error is end of stream.
func Recv(s api.OSSocket, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd(s), buf)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Send writes once without raising SIGPIPE.
func Send(s api.OSSocket, buf []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(fd(s), buf, nil, nil, sendFlags)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Shutdown closes both directions.
func Shutdown(s api.OSSocket) error {
	return unix.Shutdown(fd(s), unix.SHUT_RDWR)
}

func Close(s api.OSSocket) error {
	return unix.Close(fd(s))
}

// SockError returns and clears the pending socket error (SO_ERROR).
func SockError(s api.OSSocket) (int, error) {
	return unix.GetsockoptInt(fd(s), unix.SOL_SOCKET, unix.SO_ERROR)
}

// LocalAddr returns the locally bound address (getsockname).
func LocalAddr(s api.OSSocket) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd(s))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return addrPort(sa), nil
}

func SetNoDelay(s api.OSSocket, on bool) error {
	return unix.SetsockoptInt(fd(s), unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(on))
}

func SetReuseAddr(s api.OSSocket) error {
	return unix.SetsockoptInt(fd(s), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func SetV6Only(s api.OSSocket, on bool) error {
	return unix.SetsockoptInt(fd(s), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, boolInt(on))
}

// SetLoopbackFastPath is a Windows-only optimisation.
func SetLoopbackFastPath(api.OSSocket) error { return nil }

// NewWaitHandle returns the waitable object for s. On POSIX it is the descriptor.
func NewWaitHandle(s api.OSSocket) (api.OSHandle, error) {
	return api.OSHandle(s), nil
}

// CloseWaitHandle releases a handle from NewWaitHandle.
func CloseWaitHandle(api.OSHandle, api.OSSocket) {}

// Resolve maps an error from this package to the portable code and the raw errno.
func Resolve(err error) (api.ErrorCode, int) {
	if err == nil {
		return api.ErrCodeOK, 0
	}
	var ae *api.Error
	if errors.As(err, &ae) {
		return ae.Code, ae.Sys
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return api.CodeOf(err), 0
	}
	return codeOf(errno), int(errno)
}

// ResolveSys maps a raw errno, as read from SO_ERROR, to the portable code.
func ResolveSys(sys int) api.ErrorCode { return codeOf(unix.Errno(sys)) }

func codeOf(e unix.Errno) api.ErrorCode {
	switch e {
	case 0:
		return api.ErrCodeOK
	case unix.EAGAIN, unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return api.ErrCodeWouldBlock
	case unix.EADDRINUSE:
		return api.ErrCodeAddrInUse
	case unix.ECONNREFUSED:
		return api.ErrCodeConnRefused
	case unix.ECONNRESET:
		return api.ErrCodeConnReset
	case unix.ECONNABORTED:
		return api.ErrCodeConnAborted
	case unix.EPIPE:
		return api.ErrCodeDisconnect
	case unix.ENOTCONN:
		return api.ErrCodeNotConnected
	case unix.ENETUNREACH, unix.EHOSTUNREACH, unix.ENETDOWN, unix.EHOSTDOWN:
		return api.ErrCodeNetUnreachable
	case unix.ETIMEDOUT:
		return api.ErrCodeTimeout
	case unix.EINVAL, unix.EBADF, unix.EFAULT:
		return api.ErrCodeInvalid
	case unix.EAFNOSUPPORT, unix.EPROTONOSUPPORT, unix.EOPNOTSUPP:
		return api.ErrCodeNotSupported
	}
	return api.ErrCodeError
}

// ErrorMessage formats a raw errno the way strerror does.
func ErrorMessage(sys int) string {
	if sys == 0 {
		return ""
	}
	return unix.Errno(sys).Error()
}
