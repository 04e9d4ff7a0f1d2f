//go:build darwin
// +build darwin

// File: internal/sock/sock_darwin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Darwin: no SOCK_CLOEXEC/accept4, SIGPIPE suppressed per socket, keepalive
// idle time under TCP_KEEPALIVE.

package sock

import (
	"errors"
	"net/netip"
	"syscall"
	"time"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

const sendFlags = 0

func socket(domain int) (int, error) {
	syscall.ForkLock.RLock()
	n, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(n)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(n, true); err != nil {
		unix.Close(n)
		return -1, err
	}
	return n, nil
}

// Accept takes one pending connection. The child is non-blocking and close-on-exec.
func Accept(s api.OSSocket) (api.OSSocket, netip.AddrPort, error) {
	for {
		syscall.ForkLock.RLock()
		n, sa, err := unix.Accept(fd(s))
		if err == nil {
			unix.CloseOnExec(n)
		}
		syscall.ForkLock.RUnlock()
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return api.InvalidSocket, netip.AddrPort{}, err
		}
		if err := unix.SetNonblock(n, true); err != nil {
			unix.Close(n)
			return api.InvalidSocket, netip.AddrPort{}, err
		}
		return api.OSSocket(n), addrPort(sa), nil
	}
}

func SetNoSigPipe(s api.OSSocket) error {
	return unix.SetsockoptInt(fd(s), unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}

// SetKeepalive enables keepalive probing: idle time before the first probe,
// interval between probes and the number of unanswered probes.
func SetKeepalive(s api.OSSocket, idle, interval time.Duration, count int) error {
	if err := unix.SetsockoptInt(fd(s), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	return errors.Join(
		unix.SetsockoptInt(fd(s), unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, seconds(idle)),
		unix.SetsockoptInt(fd(s), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, seconds(interval)),
		unix.SetsockoptInt(fd(s), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, count),
	)
}

func seconds(d time.Duration) int {
	if d < time.Second {
		return 1
	}
	return int(d / time.Second)
}
