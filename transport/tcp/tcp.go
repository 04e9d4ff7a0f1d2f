// File: transport/tcp/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Caller API: client and server construction, accept, settings and accessors.

package tcp

import (
	"net/netip"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sock"
	"github.com/momentics/hioload-net/layer"
)

// NewClient creates a stream whose NET layer connects to host:port once the
// object is added to a loop. host is an IP literal or a name resolved at that
// point. An IP literal must match a non-ANY family.
func NewClient(host string, port uint16, family api.NetFamily) (*layer.IO, error) {
	if host == "" || port == 0 {
		return nil, api.ErrCodeInvalid
	}
	if err := sock.Init(); err != nil {
		return nil, err
	}

	h := newHandle(host, port, family)
	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.WithZone("")
		switch family {
		case api.FamilyAny:
			h.family = sock.FamilyOf(ip)
		case api.FamilyIPv4:
			if !ip.Is4() {
				return nil, api.ErrCodeInvalid
			}
		case api.FamilyIPv6:
			if !ip.Is6() {
				return nil, api.ErrCodeInvalid
			}
		}
		h.peer = netip.AddrPortFrom(ip, port)
	} else {
		h.state = stateResolving
	}

	obj := layer.New(api.IOTypeStream)
	if _, err := obj.AddLayer(LayerName, h); err != nil {
		return nil, err
	}
	return obj, nil
}

// NewServer binds and listens right away so bind errors (ErrCodeAddrInUse
// among them) are returned here. An empty bindIP listens on every interface;
// with FamilyAny that is a dual-stack IPv6 socket, or IPv4 where that fails.
// Port 0 binds an OS-assigned port, readable through Port.
func NewServer(port uint16, bindIP string, family api.NetFamily) (*layer.IO, error) {
	if err := sock.Init(); err != nil {
		return nil, err
	}
	h := newHandle(bindIP, port, family)
	if err := h.listen(); err != nil {
		return nil, err
	}
	obj := layer.New(api.IOTypeListener)
	if _, err := obj.AddLayer(LayerName, h); err != nil {
		h.closeDetached()
		return nil, err
	}
	return obj, nil
}

// Accept returns a new stream for the next pending connection of listener, or
// an error matching ErrCodeWouldBlock when none is pending. The child must be
// added to a loop; it starts CONNECTED and reports CONNECTED as its first event.
func Accept(listener *layer.IO) (*layer.IO, error) {
	if listener == nil {
		return nil, api.ErrCodeInvalid
	}
	return listener.Accept()
}

// with runs fn on the NET handle of obj under the object lock.
func with(obj *layer.IO, fn func(h *handle)) error {
	if obj == nil {
		return api.ErrCodeInvalid
	}
	l := obj.AcquireLayer(0, LayerName)
	if l == nil {
		return api.ErrCodeInvalid
	}
	defer l.Release()
	h, ok := l.Handler().(*handle)
	if !ok {
		return api.ErrCodeInvalid
	}
	fn(h)
	return nil
}

// SetKeepalive enables keepalive probing with the given idle time, probe
// interval and probe count. Applied when the connection is established.
func SetKeepalive(obj *layer.IO, idle, interval time.Duration, count int) error {
	return with(obj, func(h *handle) {
		h.settings.Keepalive = true
		h.settings.KeepaliveIdle = idle
		h.settings.KeepaliveInterval = interval
		h.settings.KeepaliveCount = count
	})
}

// SetNagle turns Nagle's algorithm on or off for the next connection setup.
func SetNagle(obj *layer.IO, enabled bool) error {
	return with(obj, func(h *handle) { h.settings.Nagle = enabled })
}

// SetConnectTimeout changes the connect timeout. 0 means the 10ms minimum.
func SetConnectTimeout(obj *layer.IO, d time.Duration) error {
	if d <= 0 {
		d = minTimeout
	}
	return with(obj, func(h *handle) { h.settings.ConnectTimeout = d })
}

// SetDisconnectTimeout changes how long a graceful disconnect may take. 0
// means the 10ms minimum.
func SetDisconnectTimeout(obj *layer.IO, d time.Duration) error {
	if d <= 0 {
		d = minTimeout
	}
	return with(obj, func(h *handle) { h.settings.DisconnectTimeout = d })
}

// SetSettings replaces all settings at once.
func SetSettings(obj *layer.IO, s Settings) error {
	return with(obj, func(h *handle) { h.settings = s })
}

// GetSettings returns a copy of the current settings.
func GetSettings(obj *layer.IO) (Settings, error) {
	var s Settings
	err := with(obj, func(h *handle) { s = h.settings })
	return s, err
}

// Host returns the remote host of a stream (the peer address for accepted
// ones) or the bind address of a listener.
func Host(obj *layer.IO) string {
	var host string
	_ = with(obj, func(h *handle) { host = h.host })
	return host
}

// Port returns the remote port of a client, or the listening port of a
// listener and of the connections it accepted.
func Port(obj *layer.IO) uint16 {
	var port uint16
	_ = with(obj, func(h *handle) { port = h.port })
	return port
}

// EphemeralPort returns the local port of a client or listener and the remote
// port of an accepted connection. 0 before the socket exists.
func EphemeralPort(obj *layer.IO) uint16 {
	var port uint16
	_ = with(obj, func(h *handle) { port = h.eport })
	return port
}

// Family returns the effective address family. ANY is narrowed once an
// address is known, except for a dual-stack listener.
func Family(obj *layer.IO) api.NetFamily {
	f := api.FamilyAny
	_ = with(obj, func(h *handle) { f = h.family })
	return f
}

// LastError returns the portable code and raw OS number of the last failure.
func LastError(obj *layer.IO) (api.ErrorCode, int) {
	var (
		code api.ErrorCode
		sys  int
	)
	_ = with(obj, func(h *handle) { code, sys = h.lastErr, h.lastErrSys })
	return code, sys
}

// closeDetached releases the socket of a handle that never reached a loop.
func (h *handle) closeDetached() {
	if h.wait != api.InvalidHandle {
		sock.CloseWaitHandle(h.wait, h.sock)
	}
	if h.sock != api.InvalidSocket {
		_ = sock.Close(h.sock)
	}
	h.sock, h.wait = api.InvalidSocket, api.InvalidHandle
}
