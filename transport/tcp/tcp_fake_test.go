//go:build linux || darwin
// +build linux darwin

package tcp_test

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/fake"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type events struct{ got []api.EventType }

func (e *events) cb(_ *layer.IO, ev api.EventType) { e.got = append(e.got, ev) }

// peerListener opens a plain loopback listener standing in for the remote side.
func peerListener(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, uint16(ln.Addr().(*net.TCPAddr).Port)
}

type pair struct {
	obj  *layer.IO
	loop *fake.FakeLoop
	ev   *events
	peer net.Conn
	h    api.OSHandle
}

// connectPair attaches a client to a fake loop and drives it to CONNECTED.
func connectPair(t *testing.T) *pair {
	t.Helper()
	ln, port := peerListener(t)
	obj, err := tcp.NewClient("127.0.0.1", port, api.FamilyIPv4)
	require.NoError(t, err)
	t.Cleanup(obj.Destroy)

	p := &pair{obj: obj, loop: fake.NewFakeLoop(), ev: &events{}}
	require.NoError(t, obj.Attach(p.loop, p.ev.cb))

	p.peer, err = ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { p.peer.Close() })

	h, _, ok := p.loop.Lookup(obj)
	require.True(t, ok)
	p.h = h
	if obj.State() == api.StateConnecting {
		require.True(t, p.loop.Raise(h, api.EventWrite))
	}
	p.loop.DeliverSoft()
	require.Equal(t, api.StateConnected, obj.State())
	require.Equal(t, []api.EventType{api.EventConnected}, p.ev.got)
	p.ev.got = nil
	return p
}

func (p *pair) waits(t *testing.T) api.WaitType {
	t.Helper()
	reg, ok := p.loop.Registration(p.h)
	require.True(t, ok)
	return reg.Waits
}

func TestClient_ConnectRegistersWriteAndArmsTimer(t *testing.T) {
	ln, port := peerListener(t)
	obj, err := tcp.NewClient("127.0.0.1", port, api.FamilyIPv4)
	require.NoError(t, err)
	defer obj.Destroy()

	loop := fake.NewFakeLoop()
	ev := &events{}
	require.NoError(t, obj.Attach(loop, ev.cb))
	if obj.State() != api.StateConnecting {
		t.Skip("connect completed synchronously")
	}

	h, reg, ok := loop.Lookup(obj)
	require.True(t, ok)
	assert.Equal(t, api.WaitWrite, reg.Waits)
	assert.Equal(t, api.CapsRead|api.CapsWrite, reg.Caps)
	timers := loop.Timers()
	require.Len(t, timers, 1)
	assert.True(t, timers[0].Armed())
	assert.Equal(t, 10*time.Second, timers[0].After())

	peer, err := ln.Accept()
	require.NoError(t, err)
	defer peer.Close()

	require.True(t, loop.Raise(h, api.EventWrite))
	assert.Equal(t, []api.EventType{api.EventConnected}, ev.got)
	assert.Equal(t, api.StateConnected, obj.State())
	reg, _ = loop.Registration(h)
	assert.Equal(t, api.WaitRead, reg.Waits)
	assert.False(t, timers[0].Armed())
	assert.Equal(t, uint16(peer.RemoteAddr().(*net.TCPAddr).Port), tcp.EphemeralPort(obj))
}

func TestClient_ReadRearmsOnShortTransfer(t *testing.T) {
	p := connectPair(t)

	_, err := p.peer.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	var n int
	require.Eventually(t, func() bool {
		n, err = p.obj.Read(buf)
		return err == nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Zero(t, p.waits(t)&api.WaitRead, "full read disarms")

	_, err = p.obj.Read(buf)
	assert.ErrorIs(t, err, api.ErrCodeWouldBlock)
	assert.NotZero(t, p.waits(t)&api.WaitRead, "would-block re-arms")
	code, _ := tcp.LastError(p.obj)
	assert.Equal(t, api.ErrCodeOK, code, "would-block is not recorded")

	_, err = p.peer.Write([]byte("ab"))
	require.NoError(t, err)
	big := make([]byte, 64)
	require.Eventually(t, func() bool {
		n, err = p.obj.Read(big)
		return err == nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, "ab", string(big[:n]))
	assert.NotZero(t, p.waits(t)&api.WaitRead, "short read re-arms")
}

func TestClient_WriteRearmsWhenBlocked(t *testing.T) {
	p := connectPair(t)

	n, err := p.obj.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, p.waits(t)&api.WaitWrite)

	// The peer never reads, so the send buffer fills up.
	chunk := make([]byte, 1<<20)
	for i := 0; i < 256; i++ {
		n, err = p.obj.Write(chunk)
		if err != nil || n < len(chunk) {
			break
		}
	}
	if err != nil {
		require.ErrorIs(t, err, api.ErrCodeWouldBlock)
	}
	assert.NotZero(t, p.waits(t)&api.WaitWrite)
	assert.Equal(t, api.StateConnected, p.obj.State())
}

func TestClient_PeerCloseSurfacesOnce(t *testing.T) {
	p := connectPair(t)
	require.NoError(t, p.peer.Close())

	buf := make([]byte, 16)
	var err error
	require.Eventually(t, func() bool {
		_, err = p.obj.Read(buf)
		return !errors.Is(err, api.ErrCodeWouldBlock)
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, err, api.ErrCodeDisconnect)
	assert.Equal(t, api.StateDisconnected, p.obj.State())
	assert.Zero(t, p.loop.HandleCount())

	soft := p.loop.PendingSoft()
	require.Len(t, soft, 1)
	assert.Equal(t, api.EventDisconnected, soft[0].Event)
	assert.True(t, soft[0].SiblingOnly)

	p.loop.DeliverSoft()
	assert.Equal(t, []api.EventType{api.EventDisconnected}, p.ev.got)
	assert.False(t, p.loop.Raise(p.h, api.EventRead))

	_, err = p.obj.Read(buf)
	assert.ErrorIs(t, err, api.ErrCodeNotConnected)
	_, err = p.obj.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrCodeNotConnected)
}

func TestClient_ConnectTimeout(t *testing.T) {
	_, port := peerListener(t)
	obj, err := tcp.NewClient("127.0.0.1", port, api.FamilyIPv4)
	require.NoError(t, err)
	defer obj.Destroy()
	require.NoError(t, tcp.SetConnectTimeout(obj, 0))

	loop := fake.NewFakeLoop()
	ev := &events{}
	require.NoError(t, obj.Attach(loop, ev.cb))
	if obj.State() != api.StateConnecting {
		t.Skip("connect completed synchronously")
	}
	timer := loop.Timers()[0]
	assert.Equal(t, 10*time.Millisecond, timer.After())

	require.True(t, timer.Fire())
	assert.Equal(t, api.StateError, obj.State())
	assert.True(t, timer.Removed())
	assert.Zero(t, loop.HandleCount())
	code, sys := tcp.LastError(obj)
	assert.Equal(t, api.ErrCodeTimeout, code)
	assert.NotZero(t, sys)
	assert.NotEmpty(t, obj.ErrorString())

	loop.DeliverSoft()
	assert.Equal(t, []api.EventType{api.EventError}, ev.got)

	// terminal state: only the final notifications pass
	obj.Dispatch(0, api.EventRead)
	obj.Dispatch(0, api.EventWrite)
	obj.Dispatch(0, api.EventConnected)
	assert.Equal(t, []api.EventType{api.EventError}, ev.got)
	obj.Dispatch(0, api.EventDisconnected)
	assert.Equal(t, []api.EventType{api.EventError, api.EventDisconnected}, ev.got)
}

func TestClient_DisconnectTimerCompletes(t *testing.T) {
	p := connectPair(t)
	require.NoError(t, tcp.SetDisconnectTimeout(p.obj, 3*time.Second))

	require.NoError(t, p.obj.Disconnect())
	assert.Equal(t, api.StateDisconnecting, p.obj.State())
	assert.Empty(t, p.loop.PendingSoft(), "completion is asynchronous")
	assert.NotZero(t, p.waits(t)&api.WaitRead)

	timer := p.loop.Timers()[0]
	assert.True(t, timer.Armed())
	assert.Equal(t, 3*time.Second, timer.After())

	p.loop.Raise(p.h, api.EventWrite)
	assert.Empty(t, p.ev.got, "writability is meaningless while disconnecting")

	require.True(t, timer.Fire())
	assert.Equal(t, api.StateDisconnected, p.obj.State())
	p.loop.DeliverSoft()
	assert.Equal(t, []api.EventType{api.EventDisconnected}, p.ev.got)
	assert.ErrorIs(t, p.obj.Disconnect(), api.ErrCodeNotConnected)
}

func TestClient_DisconnectDrainsToEOF(t *testing.T) {
	p := connectPair(t)
	_, err := p.peer.Write([]byte("leftover"))
	require.NoError(t, err)

	require.NoError(t, p.obj.Disconnect())
	require.NoError(t, p.peer.Close())

	require.Eventually(t, func() bool {
		p.loop.Raise(p.h, api.EventRead)
		return p.obj.State() == api.StateDisconnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, []api.EventType{api.EventDisconnected}, p.ev.got)
	assert.True(t, p.loop.Timers()[0].Removed())
	assert.Empty(t, p.loop.PendingSoft())
}

func TestClient_ErrorEventEndsConnection(t *testing.T) {
	p := connectPair(t)
	p.obj.Dispatch(0, api.EventError)
	assert.Equal(t, api.StateError, p.obj.State())
	assert.Equal(t, []api.EventType{api.EventError}, p.ev.got)
	assert.Zero(t, p.loop.HandleCount())
}

func TestServer_ListenerEvents(t *testing.T) {
	srv, err := tcp.NewServer(0, "127.0.0.1", api.FamilyAny)
	require.NoError(t, err)
	defer srv.Destroy()

	assert.Equal(t, api.IOTypeListener, srv.Type())
	assert.Equal(t, api.StateListening, srv.State())
	assert.Equal(t, api.FamilyIPv4, tcp.Family(srv))
	port := tcp.Port(srv)
	require.NotZero(t, port)
	assert.Equal(t, port, tcp.EphemeralPort(srv))

	loop := fake.NewFakeLoop()
	ev := &events{}
	require.NoError(t, srv.Attach(loop, ev.cb))
	h, reg, ok := loop.Lookup(srv)
	require.True(t, ok)
	assert.Equal(t, api.WaitRead, reg.Waits)
	assert.Equal(t, api.CapsRead, reg.Caps)
	assert.Empty(t, loop.Timers(), "listeners keep no timer")

	_, err = tcp.Accept(srv)
	assert.ErrorIs(t, err, api.ErrCodeWouldBlock)

	loop.Raise(h, api.EventRead)
	srv.Dispatch(0, api.EventWrite)
	srv.Dispatch(0, api.EventConnected)
	assert.Equal(t, []api.EventType{api.EventAccept}, ev.got)

	_, err = srv.Read(make([]byte, 4))
	assert.Error(t, err)
}

func TestServer_AcceptedChildInheritsSettings(t *testing.T) {
	srv, err := tcp.NewServer(0, "127.0.0.1", api.FamilyIPv4)
	require.NoError(t, err)
	defer srv.Destroy()
	require.NoError(t, tcp.SetNagle(srv, true))
	require.NoError(t, tcp.SetDisconnectTimeout(srv, 3*time.Second))
	want, _ := tcp.GetSettings(srv)

	conn, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", itoa(tcp.Port(srv))))
	require.NoError(t, err)
	defer conn.Close()

	var child *layer.IO
	require.Eventually(t, func() bool {
		child, err = tcp.Accept(srv)
		return err == nil
	}, time.Second, time.Millisecond)
	defer child.Destroy()

	assert.Equal(t, api.StateConnected, child.State())
	assert.Equal(t, "127.0.0.1", tcp.Host(child))
	assert.Equal(t, tcp.Port(srv), tcp.Port(child))
	assert.Equal(t, uint16(conn.LocalAddr().(*net.TCPAddr).Port), tcp.EphemeralPort(child))
	assert.Equal(t, api.FamilyIPv4, tcp.Family(child))
	got, err := tcp.GetSettings(child)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// the copy is independent of the listener
	require.NoError(t, tcp.SetNagle(srv, false))
	got, _ = tcp.GetSettings(child)
	assert.True(t, got.Nagle)

	loop := fake.NewFakeLoop()
	ev := &events{}
	require.NoError(t, child.Attach(loop, ev.cb))
	_, reg, ok := loop.Lookup(child)
	require.True(t, ok)
	assert.Equal(t, api.WaitRead, reg.Waits)
	loop.DeliverSoft()
	assert.Equal(t, []api.EventType{api.EventConnected}, ev.got)

	n, err := child.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	buf := make([]byte, 1)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf))
}

func TestServer_AddrInUse(t *testing.T) {
	srv, err := tcp.NewServer(0, "127.0.0.1", api.FamilyIPv4)
	require.NoError(t, err)
	defer srv.Destroy()

	_, err = tcp.NewServer(tcp.Port(srv), "127.0.0.1", api.FamilyIPv4)
	assert.ErrorIs(t, err, api.ErrCodeAddrInUse)
}

func TestServer_AnyFallsBackToIPv4(t *testing.T) {
	v6, err := tcp.NewServer(0, "::", api.FamilyIPv6)
	if err != nil {
		t.Skip("no IPv6 on this host")
	}
	defer v6.Destroy()

	// the IPv6-only socket holds the port, so the dual-stack bind fails
	srv, err := tcp.NewServer(tcp.Port(v6), "", api.FamilyAny)
	require.NoError(t, err)
	defer srv.Destroy()
	assert.Equal(t, api.FamilyIPv4, tcp.Family(srv))
	assert.Equal(t, tcp.Port(v6), tcp.Port(srv))
	assert.Equal(t, api.StateListening, srv.State())
}

func TestServer_WildcardCollisionReportsAddrInUse(t *testing.T) {
	first, err := tcp.NewServer(0, "::", api.FamilyAny)
	if err != nil {
		t.Skip("no IPv6 on this host")
	}
	defer first.Destroy()

	_, err = tcp.NewServer(tcp.Port(first), "::", api.FamilyAny)
	assert.ErrorIs(t, err, api.ErrCodeAddrInUse)
}

func TestServer_BindMismatch(t *testing.T) {
	_, err := tcp.NewServer(0, "127.0.0.1", api.FamilyIPv6)
	assert.ErrorIs(t, err, api.ErrCodeInvalid)
	_, err = tcp.NewServer(0, "not-an-ip", api.FamilyIPv4)
	assert.ErrorIs(t, err, api.ErrCodeInvalid)
}

func itoa(p uint16) string { return strconv.Itoa(int(p)) }
