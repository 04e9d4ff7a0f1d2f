//go:build linux
// +build linux

// File: internal/sock/sock_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux: atomic SOCK_NONBLOCK|SOCK_CLOEXEC, accept4, MSG_NOSIGNAL and the
// TCP_KEEPIDLE/KEEPINTVL/KEEPCNT triple.

package sock

import (
	"errors"
	"net/netip"
	"time"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

const sendFlags = unix.MSG_NOSIGNAL

func socket(domain int) (int, error) {
	return unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}

// Accept takes one pending connection. The child is non-blocking and close-on-exec.
func Accept(s api.OSSocket) (api.OSSocket, netip.AddrPort, error) {
	for {
		n, sa, err := unix.Accept4(fd(s), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return api.InvalidSocket, netip.AddrPort{}, err
		}
		return api.OSSocket(n), addrPort(sa), nil
	}
}

// SetNoSigPipe is covered by MSG_NOSIGNAL on every send.
func SetNoSigPipe(api.OSSocket) error { return nil }

// SetKeepalive enables keepalive probing: idle time before the first probe,
// interval between probes and the number of unanswered probes.
func SetKeepalive(s api.OSSocket, idle, interval time.Duration, count int) error {
	if err := unix.SetsockoptInt(fd(s), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	return errors.Join(
		unix.SetsockoptInt(fd(s), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, seconds(idle)),
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
