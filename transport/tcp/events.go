// File: transport/tcp/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event translation, data transfer and graceful shutdown of the NET layer.

package tcp

import (
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sock"
	"github.com/momentics/hioload-net/layer"
)

const (
	drainChunk = 1024
	probeChunk = 64
)

func (h *handle) ProcessEvent(l *layer.Layer, ev api.EventType) (api.EventType, bool) {
	// Terminal states only let the final notification through.
	switch h.state {
	case stateDisconnected, stateError:
		return ev, ev != api.EventDisconnected && ev != api.EventError
	case stateDisconnecting:
		switch ev {
		case api.EventWrite:
			return ev, true
		case api.EventError:
			ev = api.EventDisconnected
		}
	}

	if l.IO().Type() == api.IOTypeListener {
		if ev == api.EventRead || ev == api.EventAccept {
			return api.EventAccept, false
		}
		return ev, true
	}

	switch h.state {
	case stateInit, stateResolving:
		switch ev {
		case api.EventDisconnected:
			h.abandon()
			h.finish(l, stateDisconnected)
			return ev, false
		case api.EventError:
			h.abandon()
			h.finish(l, stateError)
			return ev, false
		}
		return ev, true
	case stateConnecting:
		out, consumed := h.connecting(l, ev)
		if consumed || out != api.EventConnected {
			return out, consumed
		}
		ev = out
	case stateDisconnecting:
		if ev == api.EventRead {
			switch h.drain(l) {
			case api.ErrCodeOK, api.ErrCodeWouldBlock:
				return ev, true
			case api.ErrCodeDisconnect:
				ev = api.EventDisconnected
			default:
				ev = api.EventError
			}
		}
	}

	switch ev {
	case api.EventConnected:
		h.applyOptions(l)
	case api.EventError:
		if (h.state == stateConnected || h.state == stateDisconnecting) && h.lastErrSys == 0 {
			// a read surfaces the pending socket error
			var buf [probeChunk]byte
			_, _ = h.read(l, buf[:], false)
		}
		h.finish(l, stateError)
	case api.EventDisconnected:
		h.finish(l, stateDisconnected)
	case api.EventRead:
		if h.state == stateConnected {
			h.modify(l, api.ModDelWait, api.WaitRead)
		}
	case api.EventWrite:
		if h.state == stateConnected {
			h.modify(l, api.ModDelWait, api.WaitWrite)
		}
	}
	return ev, false
}

// connecting resolves the outcome of a pending connect. Only a WRITE with a
// clean SO_ERROR completes it; anything else that can signal failure ends in ERROR.
func (h *handle) connecting(l *layer.Layer, ev api.EventType) (api.EventType, bool) {
	switch ev {
	case api.EventWrite, api.EventRead, api.EventDisconnected, api.EventError:
	default:
		return ev, true
	}

	sys, err := sock.SockError(h.sock)
	if err != nil {
		h.setErr(sock.Fail("getsockopt", err))
	} else {
		h.lastErrSys = sys
	}
	if ev == api.EventWrite && err == nil && sys == 0 {
		h.lastErr = api.ErrCodeOK
		h.modify(l, api.ModDelWait, api.WaitWrite)
		h.modify(l, api.ModAddWait, api.WaitRead)
		h.state = stateConnected
		if h.timer != nil {
			h.timer.Stop()
		}
		h.refreshEphemeral()
		l.Logger().Debug("connected", "peer", h.peer.String(), "eport", h.eport)
		return api.EventConnected, false
	}

	// Some stacks report EOF on a failed connect without setting SO_ERROR.
	if h.lastErrSys == 0 {
		h.lastErrSys = sock.SysConnAborted
	}
	h.lastErr = sock.ResolveSys(h.lastErrSys)
	h.cause = nil
	// a disconnect request ends the attempt instead of moving on
	if ev != api.EventDisconnected && h.failover(l) {
		return ev, true
	}
	h.finish(l, stateError)
	return api.EventError, false
}

func (h *handle) drain(l *layer.Layer) api.ErrorCode {
	var buf [drainChunk]byte
	for {
		n, err := h.read(l, buf[:], false)
		if err != nil {
			return api.CodeOf(err)
		}
		if n < len(buf) {
			return api.ErrCodeOK
		}
	}
}

func (h *handle) Read(l *layer.Layer, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, api.ErrCodeInvalid
	}
	return h.read(l, buf, true)
}

// read receives once and updates the read wait. notify is false for reads
// issued while an event is already being processed, so no second event is queued.
func (h *handle) read(l *layer.Layer, buf []byte, notify bool) (int, error) {
	if h.state != stateConnected && h.state != stateDisconnecting {
		return 0, api.ErrCodeNotConnected
	}
	n, err := sock.Recv(h.sock, buf)
	switch {
	case err != nil:
		err = h.ioErr("recv", err)
	case n == 0:
		h.lastErr = api.ErrCodeDisconnect
		err = api.ErrCodeDisconnect
	}
	h.rearm(l, api.WaitRead, err, len(buf), n, notify)
	return n, err
}

func (h *handle) Write(l *layer.Layer, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, api.ErrCodeInvalid
	}
	if h.state != stateConnected {
		return 0, api.ErrCodeNotConnected
	}
	n, err := sock.Send(h.sock, buf)
	switch {
	case err != nil:
		err = h.ioErr("send", err)
	case n == 0:
		h.lastErr = api.ErrCodeDisconnect
		err = api.ErrCodeDisconnect
	}
	h.rearm(l, api.WaitWrite, err, len(buf), n, true)
	return n, err
}

// ioErr records a fatal transfer error. Would-block is returned as the bare code.
func (h *handle) ioErr(op string, err error) error {
	code, sys := sock.Resolve(err)
	if code == api.ErrCodeWouldBlock {
		return api.ErrCodeWouldBlock
	}
	h.lastErr, h.lastErrSys, h.cause = code, sys, nil
	return api.NewError(op, code, sys)
}

// rearm keeps waiting after a short or blocked transfer, stops after a full
// one and tears the connection down on a fatal error.
func (h *handle) rearm(l *layer.Layer, wait api.WaitType, err error, requested, got int, notify bool) {
	code := api.CodeOf(err)
	switch {
	case code == api.ErrCodeWouldBlock, code == api.ErrCodeOK && got < requested:
		h.modify(l, api.ModAddWait, wait)
	case code == api.ErrCodeOK:
		h.modify(l, api.ModDelWait, wait)
	default:
		st, ev := stateError, api.EventError
		if code == api.ErrCodeDisconnect {
			st, ev = stateDisconnected, api.EventDisconnected
		}
		h.finish(l, st)
		if notify {
			l.SoftEventAdd(true, ev)
		}
	}
}

func (h *handle) Disconnect(l *layer.Layer) bool {
	if h.state != stateConnected || l.IO().Type() != api.IOTypeStream {
		return h.state != stateDisconnecting
	}
	h.state = stateDisconnecting
	if err := sock.Shutdown(h.sock); err != nil {
		l.Logger().Debug("shutdown failed", "err", err)
		return true
	}
	// EOF only shows up as readability.
	h.modify(l, api.ModAddWait, api.WaitRead)
	d := h.settings.DisconnectTimeout
	if d <= 0 {
		d = minTimeout
	}
	h.arm(d)
	return false
}
