// File: transport/tcp/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle record of the NET layer and its lifecycle callbacks.

package tcp

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sock"
	"github.com/momentics/hioload-net/layer"
)

// LayerName is the tag of the network transport layer.
const LayerName = "NET"

type netState int

const (
	stateInit netState = iota
	stateResolving
	stateConnecting
	stateConnected
	stateDisconnecting
	stateDisconnected
	stateError
	stateListening
)

var stateNames = [...]string{"init", "resolving", "connecting", "connected", "disconnecting", "disconnected", "error", "listening"}

func (s netState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// handle is the NET layer state. Every method runs with the IO lock held.
type handle struct {
	state    netState
	sock     api.OSSocket
	wait     api.OSHandle
	host     string
	port     uint16
	family   api.NetFamily
	peer     netip.AddrPort
	eport    uint16
	settings Settings

	lastErr    api.ErrorCode
	lastErrSys int
	cause      error

	timer    layer.Timer
	lookupIP func(ctx context.Context, network, host string) ([]netip.Addr, error)
	lookup   uint64
	cancel   context.CancelFunc
	// resolved addresses not tried yet
	addrs []netip.Addr
}

var (
	_ layer.Handler  = (*handle)(nil)
	_ layer.Acceptor = (*handle)(nil)
)

func newHandle(host string, port uint16, family api.NetFamily) *handle {
	return &handle{
		sock:     api.InvalidSocket,
		wait:     api.InvalidHandle,
		host:     host,
		port:     port,
		family:   family,
		settings: DefaultSettings(),
		lookupIP: net.DefaultResolver.LookupNetIP,
	}
}

func (h *handle) Init(l *layer.Layer) error {
	if l.IO().Type() == api.IOTypeListener {
		if h.state != stateListening {
			return nil
		}
		return l.Loop().HandleModify(api.ModAddHandle, l.IO(), h.wait, h.sock, api.WaitRead, api.CapsRead)
	}

	h.timer = l.Loop().TimerAdd(h.onTimer(l.IO(), l.Index()))

	switch h.state {
	case stateConnected:
		l.SoftEventAdd(false, api.EventConnected)
		return h.register(l, api.WaitRead)
	case stateInit:
		h.connect(l)
	case stateResolving:
		h.resolve(l)
	case stateConnecting:
		if err := h.register(l, api.WaitWrite); err != nil {
			return err
		}
		h.arm(h.settings.ConnectTimeout)
	case stateDisconnecting:
		if err := h.register(l, api.WaitRead); err != nil {
			return err
		}
		h.arm(h.settings.DisconnectTimeout)
	}
	return nil
}

func (h *handle) register(l *layer.Layer, waits api.WaitType) error {
	return l.Loop().HandleModify(api.ModAddHandle, l.IO(), h.wait, h.sock, waits, api.CapsRead|api.CapsWrite)
}

func (h *handle) modify(l *layer.Layer, mod api.ModType, waits api.WaitType) {
	loop := l.Loop()
	if loop == nil || h.wait == api.InvalidHandle {
		return
	}
	if err := loop.HandleModify(mod, l.IO(), h.wait, h.sock, waits, 0); err != nil {
		l.Logger().Debug("wait change failed", "state", h.state.String(), "waits", waits.String(), "err", err)
	}
}

// arm starts the single-shot state timer.
func (h *handle) arm(d time.Duration) {
	if h.timer == nil || d <= 0 {
		return
	}
	h.timer.SetFireCount(1)
	h.timer.Reset(d)
}

// connect starts a non-blocking connect to h.peer and registers for its outcome.
func (h *handle) connect(l *layer.Layer) {
	err := h.startConnect(l)
	if err == nil && h.state == stateConnecting {
		err = h.register(l, api.WaitWrite)
		if err == nil {
			h.arm(h.settings.ConnectTimeout)
		}
	}
	if err != nil {
		h.setErr(err)
		if h.failover(l) {
			return
		}
		h.finish(l, stateError)
		l.SoftEventAdd(false, api.EventError)
	}
}

// failover drops the failed attempt and connects to the next resolved
// address. Reports false when no address is left.
func (h *handle) failover(l *layer.Layer) bool {
	if len(h.addrs) == 0 {
		return false
	}
	ip := h.addrs[0]
	h.addrs = h.addrs[1:]
	l.Logger().Debug("trying next address", "failed", h.peer.String(), "errno", h.lastErrSys, "next", ip.String())
	h.closeSocket(l)
	if h.timer != nil {
		h.timer.Stop()
	}
	h.family = sock.FamilyOf(ip)
	h.peer = netip.AddrPortFrom(ip, h.port)
	h.lastErr, h.lastErrSys, h.cause = api.ErrCodeOK, 0, nil
	h.state = stateInit
	h.connect(l)
	return true
}

func (h *handle) startConnect(l *layer.Layer) error {
	s, err := sock.Socket(h.family)
	if err != nil {
		return sock.Fail("socket", err)
	}
	h.sock = s
	h.state = stateConnecting
	if err := sock.SetLoopbackFastPath(s); err != nil {
		l.Logger().Warn("loopback fast path failed", "err", err)
	}

	cerr := sock.Connect(s, h.peer)
	if code, _ := sock.Resolve(cerr); cerr != nil && code != api.ErrCodeWouldBlock {
		return sock.Fail("connect", cerr)
	}
	h.refreshEphemeral()
	if h.wait, err = sock.NewWaitHandle(s); err != nil {
		return sock.Fail("wait handle", err)
	}
	if cerr != nil {
		l.Logger().Debug("connect in progress", "peer", h.peer.String())
		return nil
	}

	h.state = stateConnected
	l.SoftEventAdd(false, api.EventConnected)
	return h.register(l, api.WaitRead)
}

func (h *handle) refreshEphemeral() {
	if ap, err := sock.LocalAddr(h.sock); err == nil {
		h.eport = ap.Port()
	}
}

// applyOptions configures a freshly connected socket. Failures are logged only.
func (h *handle) applyOptions(l *layer.Layer) {
	log := l.Logger()
	if err := sock.SetNoDelay(h.sock, !h.settings.Nagle); err != nil {
		log.Warn("TCP_NODELAY failed", "err", err)
	}
	if err := sock.SetNoSigPipe(h.sock); err != nil {
		log.Warn("SO_NOSIGPIPE failed", "err", err)
	}
	if h.settings.Keepalive {
		s := h.settings
		if err := sock.SetKeepalive(h.sock, s.KeepaliveIdle, s.KeepaliveInterval, s.KeepaliveCount); err != nil {
			log.Warn("keepalive failed", "err", err)
		}
	}
}

func (h *handle) onTimer(obj *layer.IO, index int) layer.TimerFunc {
	return func(layer.Timer) {
		l := obj.AcquireLayer(index, "")
		if l == nil {
			return
		}
		defer l.Release()
		if l.Handler() != h {
			return
		}
		h.timeout(l)
	}
}

func (h *handle) timeout(l *layer.Layer) {
	switch h.state {
	case stateConnecting:
		h.lastErr = api.ErrCodeTimeout
		h.lastErrSys = sock.SysTimedOut
		h.cause = nil
		if h.failover(l) {
			return
		}
		h.finish(l, stateError)
		l.SoftEventAdd(false, api.EventError)
	case stateDisconnecting:
		h.finish(l, stateDisconnected)
		l.SoftEventAdd(false, api.EventDisconnected)
	}
}

func (h *handle) setErr(err error) {
	h.lastErr, h.lastErrSys = sock.Resolve(err)
	h.cause = err
}

// finish enters a terminal state and releases the socket. ERROR and
// DISCONNECTED share it.
func (h *handle) finish(l *layer.Layer, st netState) {
	h.close(l)
	h.state = st
	l.Logger().Debug("connection finished", "state", st.String(), "errno", h.lastErrSys)
}

// close releases the socket and drops the timer. Safe to call repeatedly.
func (h *handle) close(l *layer.Layer) {
	if h.sock != api.InvalidSocket || h.wait != api.InvalidHandle {
		switch h.state {
		case stateConnected, stateConnecting, stateDisconnecting:
			h.state = stateDisconnected
		}
		h.closeSocket(l)
	}
	if h.timer != nil {
		h.timer.Remove()
		h.timer = nil
	}
}

// closeSocket deregisters and closes the socket and wait handle together.
func (h *handle) closeSocket(l *layer.Layer) {
	if loop := l.Loop(); loop != nil && h.wait != api.InvalidHandle {
		_ = loop.HandleModify(api.ModDelHandle, l.IO(), h.wait, h.sock, 0, 0)
	}
	if h.wait != api.InvalidHandle {
		sock.CloseWaitHandle(h.wait, h.sock)
	}
	if h.sock != api.InvalidSocket {
		_ = sock.Close(h.sock)
	}
	h.sock = api.InvalidSocket
	h.wait = api.InvalidHandle
}

func (h *handle) Unregister(l *layer.Layer) {
	if h.wait != api.InvalidHandle {
		_ = l.Loop().HandleModify(api.ModDelHandle, l.IO(), h.wait, h.sock, 0, 0)
	}
	if h.timer != nil {
		h.timer.Remove()
		h.timer = nil
	}
	h.cancelLookup()
}

func (h *handle) Destroy(l *layer.Layer) {
	h.cancelLookup()
	h.close(l)
}

func (h *handle) State(*layer.Layer) api.IOState {
	switch h.state {
	case stateInit:
		return api.StateInit
	case stateResolving, stateConnecting:
		return api.StateConnecting
	case stateConnected:
		return api.StateConnected
	case stateDisconnecting:
		return api.StateDisconnecting
	case stateDisconnected:
		return api.StateDisconnected
	case stateListening:
		return api.StateListening
	default:
		return api.StateError
	}
}

// ErrorMessage formats the last system error, falling back to the portable one.
func (h *handle) ErrorMessage(*layer.Layer) string {
	if msg := sock.ErrorMessage(h.lastErrSys); msg != "" {
		return msg
	}
	if h.cause != nil {
		return h.cause.Error()
	}
	if h.lastErr.IsCritical() {
		return h.lastErr.Error()
	}
	return ""
}
