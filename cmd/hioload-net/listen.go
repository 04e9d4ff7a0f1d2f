// File: cmd/hioload-net/listen.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/urfave/cli/v3"
)

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "Run an echo server",
		Flags: endpointFlags("", "Local interface, leave empty for all interfaces"),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			port, err := parsePort(cmd.Int(portFlag), true)
			if err != nil {
				return err
			}
			family, err := parseFamily(cmd.String(familyFlag))
			if err != nil {
				return err
			}

			a, ctx, err := newApp(ctx, optionsFrom(cmd))
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := a.serve(port, cmd.String(hostFlag), family)
			if err != nil {
				return err
			}
			infoMsg("Listening on %s port %d (%s)", displayHost(tcp.Host(srv)), tcp.Port(srv), tcp.Family(srv))
			return a.run(ctx, nil)
		},
	}
}

// serve starts the echo listener on the loop. Settings reloaded later apply
// to connections accepted from then on.
func (a *app) serve(port uint16, host string, family api.NetFamily) (*layer.IO, error) {
	srv, err := tcp.NewServer(port, host, family)
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	if err := tcp.SetSettings(srv, a.settings()); err != nil {
		srv.Destroy()
		return nil, err
	}
	if err := a.decorate(srv); err != nil {
		srv.Destroy()
		return nil, err
	}
	a.store.OnReload(func(map[string]any) {
		_ = tcp.SetSettings(srv, a.settings())
	})

	e := &echo{app: a}
	if err := a.loop.Add(srv, e.onListener); err != nil {
		srv.Destroy()
		return nil, err
	}
	return srv, nil
}

type echo struct {
	app      *app
	sessions map[*layer.IO]*session
}

func (e *echo) onListener(obj *layer.IO, ev api.EventType) {
	switch ev {
	case api.EventAccept:
		e.acceptAll(obj)
	case api.EventError:
		errorMsg("listener failed: %s", obj.ErrorString())
	}
}

func (e *echo) acceptAll(listener *layer.IO) {
	if e.sessions == nil {
		e.sessions = make(map[*layer.IO]*session)
	}
	for {
		child, err := tcp.Accept(listener)
		if err != nil {
			if api.CodeOf(err) != api.ErrCodeWouldBlock {
				e.app.log.Warn("accept failed", "err", err)
			}
			return
		}
		e.sessions[child] = newSession(child)
		if err := e.app.loop.Add(child, e.onStream); err != nil {
			e.app.log.Warn("attach failed", "err", err)
			delete(e.sessions, child)
			child.Destroy()
		}
	}
}

func (e *echo) onStream(obj *layer.IO, ev api.EventType) {
	s, ok := e.sessions[obj]
	if !ok {
		return
	}
	switch ev {
	case api.EventConnected:
		infoMsg("Accepted %s:%d", tcp.Host(obj), tcp.EphemeralPort(obj))
	case api.EventRead:
		if s.drain() == nil {
			s.out = append(s.out, s.in...)
			s.in = s.in[:0]
			_ = s.flush()
		}
	case api.EventWrite:
		_ = s.flush()
	case api.EventDisconnected, api.EventError:
		if ev == api.EventError {
			errorMsg("%s:%d: %s", tcp.Host(obj), tcp.EphemeralPort(obj), obj.ErrorString())
		} else {
			infoMsg("Connection to %s:%d closed", tcp.Host(obj), tcp.EphemeralPort(obj))
		}
		delete(e.sessions, obj)
		s.release()
		obj.Destroy()
	}
}

func displayHost(h string) string {
	if h == "" {
		return "*"
	}
	return h
}
