//go:build !linux && !darwin && !windows
// +build !linux,!darwin,!windows

// File: internal/sock/sock_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for unsupported platforms.

package sock

import (
	"net/netip"
	"time"

	"github.com/momentics/hioload-net/api"
)

const (
	SysTimedOut     = 0
	SysConnAborted  = 0
	SysAddrNotAvail = 0
)

var errUnsupported = api.NewError("sock", api.ErrCodeNotSupported, 0)

func Init() error { return errUnsupported }
func Cleanup() {}

func Socket(api.NetFamily) (api.OSSocket, error) { return api.InvalidSocket, errUnsupported }
func Connect(api.OSSocket, netip.AddrPort) error { return errUnsupported }
func Bind(api.OSSocket, netip.AddrPort) error { return errUnsupported }
func Listen(api.OSSocket) error { return errUnsupported }
func Recv(api.OSSocket, []byte) (int, error) { return 0, errUnsupported }
func Send(api.OSSocket, []byte) (int, error) { return 0, errUnsupported }
func Shutdown(api.OSSocket) error { return errUnsupported }
func Close(api.OSSocket) error { return errUnsupported }
func SockError(api.OSSocket) (int, error) { return 0, errUnsupported }
func LocalAddr(api.OSSocket) (netip.AddrPort, error) { return netip.AddrPort{}, errUnsupported }
func SetNoDelay(api.OSSocket, bool) error { return errUnsupported }
func SetReuseAddr(api.OSSocket) error { return errUnsupported }
func SetV6Only(api.OSSocket, bool) error { return errUnsupported }
func SetLoopbackFastPath(api.OSSocket) error { return nil }
func SetNoSigPipe(api.OSSocket) error { return nil }
func NewWaitHandle(api.OSSocket) (api.OSHandle, error) { return api.InvalidHandle, errUnsupported }
func CloseWaitHandle(api.OSHandle, api.OSSocket) {}
func ErrorMessage(int) string { return "" }
func ResolveSys(int) api.ErrorCode { return api.ErrCodeNotSupported }

func Accept(api.OSSocket) (api.OSSocket, netip.AddrPort, error) {
	return api.InvalidSocket, netip.AddrPort{}, errUnsupported
}

func SetKeepalive(api.OSSocket, time.Duration, time.Duration, int) error {
	return errUnsupported
}

func Resolve(err error) (api.ErrorCode, int) {
	return api.CodeOf(err), 0
}
