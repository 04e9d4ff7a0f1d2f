// File: transport/tcp/listen.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listener bind with the ANY family policy, and accept.

package tcp

import (
	"net/netip"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sock"
	"github.com/momentics/hioload-net/layer"
)

// listen binds and listens. A wildcard family that fails is retried once as
// IPv4. When the retry cannot apply to the bind address the first error stands.
func (h *handle) listen() error {
	err := h.bindListen()
	if err == nil || h.family != api.FamilyAny {
		return err
	}
	h.family = api.FamilyIPv4
	rerr := h.bindListen()
	if rerr == nil {
		return nil
	}
	h.family = api.FamilyAny
	if api.CodeOf(rerr) == api.ErrCodeInvalid {
		return err
	}
	return rerr
}

func (h *handle) bindListen() error {
	bindIP := h.host
	if bindIP == "" {
		bindIP = "::"
		if h.family == api.FamilyIPv4 {
			bindIP = "0.0.0.0"
		}
	}
	ip, err := netip.ParseAddr(bindIP)
	if err != nil {
		return api.NewError("bind", api.ErrCodeInvalid, 0)
	}
	if (h.family == api.FamilyIPv6 && !ip.Is6()) || (h.family == api.FamilyIPv4 && !ip.Is4()) {
		return api.NewError("bind", api.ErrCodeInvalid, 0)
	}
	// A concrete address narrows ANY to its own family.
	if h.family == api.FamilyAny && h.host != "" && h.host != "::" {
		h.family = sock.FamilyOf(ip)
	}

	s, err := sock.Socket(sock.FamilyOf(ip))
	if err != nil {
		h.setErr(err)
		return sock.Fail("socket", err)
	}
	fail := func(op string, err error) error {
		_ = sock.Close(s)
		h.setErr(err)
		return sock.Fail(op, err)
	}
	_ = sock.SetReuseAddr(s)
	if ip.Is6() {
		_ = sock.SetV6Only(s, h.family == api.FamilyIPv6)
	}
	if err := sock.Bind(s, netip.AddrPortFrom(ip, h.port)); err != nil {
		return fail("bind", err)
	}
	_ = sock.SetLoopbackFastPath(s)
	if err := sock.Listen(s); err != nil {
		return fail("listen", err)
	}
	wait, err := sock.NewWaitHandle(s)
	if err != nil {
		return fail("wait handle", err)
	}

	h.sock, h.wait, h.state = s, wait, stateListening
	h.refreshEphemeral()
	if h.port == 0 {
		h.port = h.eport
	}
	return nil
}

// Accept takes one pending connection and pushes its NET layer onto child.
// Returns ErrCodeWouldBlock when nothing is pending.
func (h *handle) Accept(child *layer.IO, _ *layer.Layer) error {
	if h.state != stateListening {
		return api.ErrCodeNotConnected
	}
	s, peer, err := sock.Accept(h.sock)
	if err != nil {
		if code, _ := sock.Resolve(err); code == api.ErrCodeWouldBlock {
			return api.ErrCodeWouldBlock
		}
		h.setErr(err)
		return sock.Fail("accept", err)
	}
	wait, err := sock.NewWaitHandle(s)
	if err != nil {
		_ = sock.Close(s)
		return sock.Fail("wait handle", err)
	}

	ip := peer.Addr().Unmap()
	c := newHandle(ip.String(), h.port, sock.FamilyOf(ip))
	c.state = stateConnected
	c.sock, c.wait = s, wait
	c.peer = netip.AddrPortFrom(ip, peer.Port())
	c.eport = peer.Port()
	c.settings = h.settings
	if _, err := child.AddLayer(LayerName, c); err != nil {
		sock.CloseWaitHandle(wait, s)
		_ = sock.Close(s)
		return err
	}
	return nil
}
