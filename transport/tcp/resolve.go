// File: transport/tcp/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sock"
	"github.com/momentics/hioload-net/layer"
)

func network(f api.NetFamily) string {
	switch f {
	case api.FamilyIPv4:
		return "ip4"
	case api.FamilyIPv6:
		return "ip6"
	default:
		return "ip"
	}
}

// resolve looks the host name up off the loop goroutine and continues with
// connect once the answer is back. Stale answers (after destroy, detach or a
// newer lookup) are dropped.
func (h *handle) resolve(l *layer.Layer) {
	h.cancelLookup()
	h.lookup++
	gen := h.lookup

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if d := h.settings.ConnectTimeout; d > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), d)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	h.cancel = cancel

	obj, index := l.IO(), l.Index()
	host, nw, lookupIP := h.host, network(h.family), h.lookupIP
	l.Logger().Debug("resolving", "host", host, "network", nw)

	go func() {
		ips, err := lookupIP(ctx, nw, host)
		expired := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()

		l := obj.AcquireLayer(index, "")
		if l == nil {
			return
		}
		defer l.Release()
		if l.Handler() != h || h.lookup != gen || h.state != stateResolving || l.Loop() == nil {
			return
		}
		h.cancel = nil
		h.resolved(l, ips, expired, err)
	}()
}

// resolved connects to the first usable address and keeps the others for
// failover.
func (h *handle) resolved(l *layer.Layer, ips []netip.Addr, expired bool, err error) {
	var cands []netip.Addr
	for _, a := range ips {
		a = a.Unmap()
		if h.family == api.FamilyAny || sock.FamilyOf(a) == h.family {
			cands = append(cands, a)
		}
	}
	if err == nil && len(cands) == 0 {
		err = fmt.Errorf("lookup %s: no %s address", h.host, h.family)
	}
	if err != nil {
		if expired {
			h.lastErr, h.lastErrSys, h.cause = api.ErrCodeTimeout, sock.SysTimedOut, nil
		} else {
			h.lastErr, h.lastErrSys, h.cause = api.ErrCodeNotFound, 0, err
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsTimeout {
			h.lastErr, h.lastErrSys, h.cause = api.ErrCodeTimeout, sock.SysTimedOut, nil
		}
		l.Logger().Debug("resolve failed", "host", h.host, "err", err)
		h.state = stateError
		l.SoftEventAdd(false, api.EventError)
		return
	}

	ip := cands[0]
	h.addrs = cands[1:]
	h.family = sock.FamilyOf(ip)
	h.peer = netip.AddrPortFrom(ip, h.port)
	h.state = stateInit
	h.connect(l)
}

// abandon ends a pending lookup; an answer still in flight is dropped.
func (h *handle) abandon() {
	h.cancelLookup()
	h.lookup++
	h.addrs = nil
}

func (h *handle) cancelLookup() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}
