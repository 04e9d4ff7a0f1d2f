//go:build linux || darwin
// +build linux darwin

package sock_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		err  error
		code api.ErrorCode
	}{
		{nil, api.ErrCodeOK},
		{unix.EAGAIN, api.ErrCodeWouldBlock},
		{unix.EINPROGRESS, api.ErrCodeWouldBlock},
		{unix.ECONNREFUSED, api.ErrCodeConnRefused},
		{unix.EADDRINUSE, api.ErrCodeAddrInUse},
		{unix.ETIMEDOUT, api.ErrCodeTimeout},
		{unix.EPERM, api.ErrCodeError},
	}
	for _, c := range cases {
		code, _ := sock.Resolve(c.err)
		assert.Equal(t, c.code, code, "%v", c.err)
	}

	code, sys := sock.Resolve(api.NewError("bind", api.ErrCodeAddrInUse, 98))
	assert.Equal(t, api.ErrCodeAddrInUse, code)
	assert.Equal(t, 98, sys)

	_, sys = sock.Resolve(unix.ECONNREFUSED)
	assert.Equal(t, int(unix.ECONNREFUSED), sys)
}

func TestErrorMessage(t *testing.T) {
	assert.Empty(t, sock.ErrorMessage(0))
	assert.NotEmpty(t, sock.ErrorMessage(sock.SysTimedOut))
	assert.NotEmpty(t, sock.ErrorMessage(sock.SysConnAborted))
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, api.FamilyIPv4, sock.FamilyOf(netip.MustParseAddr("127.0.0.1")))
	assert.Equal(t, api.FamilyIPv6, sock.FamilyOf(netip.MustParseAddr("::1")))
}

func TestLoopbackExchange(t *testing.T) {
	require.NoError(t, sock.Init())
	loop := netip.MustParseAddr("127.0.0.1")

	ln, err := sock.Socket(api.FamilyIPv4)
	require.NoError(t, err)
	defer sock.Close(ln)
	require.NoError(t, sock.SetReuseAddr(ln))
	require.NoError(t, sock.Bind(ln, netip.AddrPortFrom(loop, 0)))
	require.NoError(t, sock.Listen(ln))
	local, err := sock.LocalAddr(ln)
	require.NoError(t, err)
	require.NotZero(t, local.Port())

	_, _, err = sock.Accept(ln)
	code, _ := sock.Resolve(err)
	assert.Equal(t, api.ErrCodeWouldBlock, code, "nothing pending yet")

	cl, err := sock.Socket(api.FamilyIPv4)
	require.NoError(t, err)
	defer sock.Close(cl)
	err = sock.Connect(cl, netip.AddrPortFrom(loop, local.Port()))
	if err != nil {
		code, _ := sock.Resolve(err)
		require.Equal(t, api.ErrCodeWouldBlock, code)
	}

	var child api.OSSocket
	require.Eventually(t, func() bool {
		c, _, err := sock.Accept(ln)
		if err != nil {
			return false
		}
		child = c
		return true
	}, 2*time.Second, 5*time.Millisecond)
	defer sock.Close(child)

	soErr, err := sock.SockError(cl)
	require.NoError(t, err)
	assert.Zero(t, soErr)
	require.NoError(t, sock.SetNoDelay(cl, true))
	require.NoError(t, sock.SetNoSigPipe(cl))
	require.NoError(t, sock.SetKeepalive(cl, 30*time.Second, 5*time.Second, 3))

	n, err := sock.Send(cl, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 16)
	var got int
	require.Eventually(t, func() bool {
		n, err := sock.Recv(child, buf)
		if err != nil {
			return false
		}
		got = n
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", string(buf[:got]))

	require.NoError(t, sock.Shutdown(cl))
	require.Eventually(t, func() bool {
		n, err := sock.Recv(child, buf)
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond, "peer sees end of stream")
}

func TestWaitHandleIsDescriptor(t *testing.T) {
	s, err := sock.Socket(api.FamilyIPv4)
	require.NoError(t, err)
	defer sock.Close(s)

	h, err := sock.NewWaitHandle(s)
	require.NoError(t, err)
	assert.Equal(t, api.OSHandle(s), h)
	sock.CloseWaitHandle(h, s)
}
