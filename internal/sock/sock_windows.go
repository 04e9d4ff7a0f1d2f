//go:build windows
// +build windows

// File: internal/sock/sock_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Winsock primitives. Readiness is reported through an event object bound
// to the socket with WSAEventSelect; the procedures x/sys/windows does not
// wrap are loaded lazily from ws2_32.dll.

package sock

import (
	"errors"
	"net/netip"
	"sync"
	"time"
	"unsafe"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/windows"
)

var (
	modws2_32                = windows.NewLazySystemDLL("ws2_32.dll")
	procAccept               = modws2_32.NewProc("accept")
	procIoctlsocket          = modws2_32.NewProc("ioctlsocket")
	procWSAEventSelect       = modws2_32.NewProc("WSAEventSelect")
	procWSAEnumNetworkEvents = modws2_32.NewProc("WSAEnumNetworkEvents")
)

const (
	wsaEINTR           = windows.Errno(10004)
	wsaEFAULT          = windows.Errno(10014)
	wsaEINVAL          = windows.Errno(10022)
	wsaEWOULDBLOCK     = windows.Errno(10035)
	wsaEINPROGRESS     = windows.Errno(10036)
	wsaEALREADY        = windows.Errno(10037)
	wsaENOTSOCK        = windows.Errno(10038)
	wsaEPROTONOSUPPORT = windows.Errno(10043)
	wsaEOPNOTSUPP      = windows.Errno(10045)
	wsaEAFNOSUPPORT    = windows.Errno(10047)
	wsaEADDRINUSE      = windows.Errno(10048)
	wsaEADDRNOTAVAIL   = windows.Errno(10049)
	wsaENETDOWN        = windows.Errno(10050)
	wsaENETUNREACH     = windows.Errno(10051)
	wsaECONNABORTED    = windows.Errno(10053)
	wsaECONNRESET      = windows.Errno(10054)
	wsaENOTCONN        = windows.Errno(10057)
	wsaESHUTDOWN       = windows.Errno(10058)
	wsaETIMEDOUT       = windows.Errno(10060)
	wsaECONNREFUSED    = windows.Errno(10061)
	wsaEHOSTDOWN       = windows.Errno(10064)
	wsaEHOSTUNREACH    = windows.Errno(10065)
)

// Raw error numbers synthesized by the NET layer.
const (
	SysTimedOut     = int(wsaETIMEDOUT)
	SysConnAborted  = int(wsaECONNABORTED)
	SysAddrNotAvail = int(wsaEADDRNOTAVAIL)
)

const (
	fionbio            = 0x8004667e
	soError            = 0x1007
	soExclusiveAddrUse = ^int(windows.SO_REUSEADDR)
	ipv6V6Only         = 27
	sioKeepaliveVals   = 0x98000004
	sioLoopbackFast    = 0x98000010
	socketError        = ^uintptr(0)
)

// Network event bits reported by NetworkEvents.
const (
	FDRead    = 1 << 0
	FDWrite   = 1 << 1
	FDAccept  = 1 << 3
	FDConnect = 1 << 4
	FDClose   = 1 << 5

	fdAll = FDRead | FDWrite | FDAccept | FDConnect | FDClose
)

// NetEvents mirrors WSANETWORKEVENTS.
type NetEvents struct {
	Mask   uint32
	Errors [10]int32
}

// Err returns the error code recorded for the event with the given bit.
func (e *NetEvents) Err(bit uint32) int32 {
	for i := 0; i < len(e.Errors); i++ {
		if bit == 1<<uint(i) {
			return e.Errors[i]
		}
	}
	return 0
}

var (
	startOnce sync.Once
	startErr  error
	started   bool
	startMu   sync.Mutex
)

// Init runs WSAStartup once per process.
func Init() error {
	startOnce.Do(func() {
		var data windows.WSAData
		startErr = windows.WSAStartup(uint32(0x202), &data)
		startMu.Lock()
		started = startErr == nil
		startMu.Unlock()
	})
	return startErr
}

// Cleanup undoes Init. Meant for process shutdown.
func Cleanup() {
	startMu.Lock()
	defer startMu.Unlock()
	if started {
		windows.WSACleanup()
		started = false
	}
}

func handle(s api.OSSocket) windows.Handle { return windows.Handle(s) }

func domain(f api.NetFamily) int {
	if f == api.FamilyIPv4 {
		return windows.AF_INET
	}
	return windows.AF_INET6
}

func sockaddr(ap netip.AddrPort) windows.Sockaddr {
	ip := ap.Addr()
	if ip.Is4() {
		return &windows.SockaddrInet4{Port: int(ap.Port()), Addr: ip.As4()}
	}
	return &windows.SockaddrInet6{Port: int(ap.Port()), Addr: ip.As16()}
}

func addrPort(sa windows.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *windows.SockaddrInet6:
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

func setNonblock(h windows.Handle) error {
	arg := uint32(1)
	r, _, e := procIoctlsocket.Call(uintptr(h), uintptr(fionbio), uintptr(unsafe.Pointer(&arg)))
	if r != 0 {
		return e
	}
	return nil
}

// Socket creates a non-blocking, non-inheritable TCP socket. FamilyAny yields
// an IPv6 socket; dual-stack behaviour is chosen with SetV6Only.
func Socket(f api.NetFamily) (api.OSSocket, error) {
	h, err := windows.Socket(domain(f), windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return api.InvalidSocket, err
	}
	_ = windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, 0)
	if err := setNonblock(h); err != nil {
		windows.Closesocket(h)
		return api.InvalidSocket, err
	}
	return api.OSSocket(h), nil
}

// Connect starts a non-blocking connect. A would-block error means in progress.
func Connect(s api.OSSocket, addr netip.AddrPort) error {
	return windows.Connect(handle(s), sockaddr(addr))
}

func Bind(s api.OSSocket, addr netip.AddrPort) error {
	return windows.Bind(handle(s), sockaddr(addr))
}

func Listen(s api.OSSocket) error {
	return windows.Listen(handle(s), listenBacklog)
}

// Accept takes one pending connection. The child is non-blocking.
func Accept(s api.OSSocket) (api.OSSocket, netip.AddrPort, error) {
	var rsa windows.RawSockaddrAny
	l := int32(unsafe.Sizeof(rsa))
	r, _, e := procAccept.Call(uintptr(s), uintptr(unsafe.Pointer(&rsa)), uintptr(unsafe.Pointer(&l)))
	if r == socketError {
		return api.InvalidSocket, netip.AddrPort{}, e
	}
	h := windows.Handle(r)
	_ = windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, 0)
	if err := setNonblock(h); err != nil {
		windows.Closesocket(h)
		return api.InvalidSocket, netip.AddrPort{}, err
	}
	var peer netip.AddrPort
	if sa, err := rsa.Sockaddr(); err == nil {
		peer = addrPort(sa)
	}
	return api.OSSocket(h), peer, nil
}

// Recv reads once. A zero count with a nil error is end of stream.
func Recv(s api.OSSocket, buf []byte) (int, error) {
	var n, flags uint32
	b := windows.WSABuf{Len: uint32(len(buf)), Buf: &buf[0]}
	err := windows.WSARecv(handle(s), &b, 1, &n, &flags, nil, nil)
	return int(n), err
}

func Send(s api.OSSocket, buf []byte) (int, error) {
	var n uint32
	b := windows.WSABuf{Len: uint32(len(buf)), Buf: &buf[0]}
	err := windows.WSASend(handle(s), &b, 1, &n, 0, nil, nil)
	return int(n), err
}

// Shutdown closes both directions.
func Shutdown(s api.OSSocket) error {
	return windows.Shutdown(handle(s), windows.SHUT_RDWR)
}

func Close(s api.OSSocket) error {
	return windows.Closesocket(handle(s))
}

// SockError returns and clears the pending socket error (SO_ERROR).
func SockError(s api.OSSocket) (int, error) {
	return windows.GetsockoptInt(handle(s), windows.SOL_SOCKET, soError)
}

// LocalAddr returns the locally bound address (getsockname).
func LocalAddr(s api.OSSocket) (netip.AddrPort, error) {
	sa, err := windows.Getsockname(handle(s))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return addrPort(sa), nil
}

func SetNoDelay(s api.OSSocket, on bool) error {
	return windows.SetsockoptInt(handle(s), windows.IPPROTO_TCP, windows.TCP_NODELAY, boolInt(on))
}

// SetReuseAddr applies the bind reuse policy. Windows lets SO_REUSEADDR steal
// bound ports, so exclusive use is requested instead.
func SetReuseAddr(s api.OSSocket) error {
	return windows.SetsockoptInt(handle(s), windows.SOL_SOCKET, soExclusiveAddrUse, 1)
}

func SetV6Only(s api.OSSocket, on bool) error {
	return windows.SetsockoptInt(handle(s), windows.IPPROTO_IPV6, ipv6V6Only, boolInt(on))
}

// SetLoopbackFastPath enables SIO_LOOPBACK_FAST_PATH. It must be set before
// connect, and on listeners before accept. Fails harmlessly before Windows 8.
func SetLoopbackFastPath(s api.OSSocket) error {
	on := uint32(1)
	var ret uint32
	return windows.WSAIoctl(handle(s), sioLoopbackFast, (*byte)(unsafe.Pointer(&on)), 4, nil, 0, &ret, nil, 0)
}

// SetNoSigPipe has no Windows counterpart.
func SetNoSigPipe(api.OSSocket) error { return nil }

type tcpKeepalive struct {
	OnOff    uint32
	Time     uint32
	Interval uint32
}

// SetKeepalive enables keepalive probing. Windows fixes the probe count at 10,
// so the interval is stretched to keep the overall give-up time requested.
func SetKeepalive(s api.OSSocket, idle, interval time.Duration, count int) error {
	ka := tcpKeepalive{
		OnOff:    1,
		Time:     uint32(idle / time.Millisecond),
		Interval: uint32(interval/time.Millisecond) * uint32(count) / 10,
	}
	var ret uint32
	return windows.WSAIoctl(handle(s), sioKeepaliveVals, (*byte)(unsafe.Pointer(&ka)), uint32(unsafe.Sizeof(ka)), nil, 0, &ret, nil, 0)
}

// NewWaitHandle creates a manual-reset event and binds every network event
// of s to it. WSAEventSelect also forces s into non-blocking mode.
func NewWaitHandle(s api.OSSocket) (api.OSHandle, error) {
	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return api.InvalidHandle, err
	}
	r, _, e := procWSAEventSelect.Call(uintptr(s), uintptr(ev), uintptr(fdAll))
	if r != 0 {
		windows.CloseHandle(ev)
		return api.InvalidHandle, e
	}
	return api.OSHandle(ev), nil
}

// CloseWaitHandle detaches the event from s and closes it.
func CloseWaitHandle(h api.OSHandle, s api.OSSocket) {
	if h == api.InvalidHandle {
		return
	}
	if s != api.InvalidSocket {
		procWSAEventSelect.Call(uintptr(s), uintptr(h), 0)
	}
	windows.CloseHandle(windows.Handle(h))
}

// NetworkEvents collects and resets the network events recorded on h for s.
func NetworkEvents(s api.OSSocket, h api.OSHandle) (NetEvents, error) {
	var ne NetEvents
	r, _, e := procWSAEnumNetworkEvents.Call(uintptr(s), uintptr(h), uintptr(unsafe.Pointer(&ne)))
	if r != 0 {
		return ne, e
	}
	return ne, nil
}

// Resolve maps an error from this package to the portable code and the raw
// WSA error number.
func Resolve(err error) (api.ErrorCode, int) {
	if err == nil {
		return api.ErrCodeOK, 0
	}
	var ae *api.Error
	if errors.As(err, &ae) {
		return ae.Code, ae.Sys
	}
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return api.CodeOf(err), 0
	}
	return codeOf(errno), int(errno)
}

// ResolveSys maps a raw WSA error, as read from SO_ERROR, to the portable code.
func ResolveSys(sys int) api.ErrorCode { return codeOf(windows.Errno(sys)) }

func codeOf(e windows.Errno) api.ErrorCode {
	switch e {
	case 0:
		return api.ErrCodeOK
	case wsaEWOULDBLOCK, wsaEINPROGRESS, wsaEALREADY, wsaEINTR:
		return api.ErrCodeWouldBlock
	case wsaEADDRINUSE:
		return api.ErrCodeAddrInUse
	case wsaECONNREFUSED:
		return api.ErrCodeConnRefused
	case wsaECONNRESET:
		return api.ErrCodeConnReset
	case wsaECONNABORTED:
		return api.ErrCodeConnAborted
	case wsaESHUTDOWN:
		return api.ErrCodeDisconnect
	case wsaENOTCONN:
		return api.ErrCodeNotConnected
	case wsaENETUNREACH, wsaEHOSTUNREACH, wsaENETDOWN, wsaEHOSTDOWN:
		return api.ErrCodeNetUnreachable
	case wsaETIMEDOUT:
		return api.ErrCodeTimeout
	case wsaEINVAL, wsaENOTSOCK, wsaEFAULT:
		return api.ErrCodeInvalid
	case wsaEAFNOSUPPORT, wsaEPROTONOSUPPORT, wsaEOPNOTSUPP:
		return api.ErrCodeNotSupported
	}
	return api.ErrCodeError
}

// ErrorMessage formats a raw WSA error number with FormatMessage.
func ErrorMessage(sys int) string {
	if sys == 0 {
		return ""
	}
	return windows.Errno(sys).Error()
}
