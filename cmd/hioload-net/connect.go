// File: cmd/hioload-net/connect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/urfave/cli/v3"
)

func connectCommand() *cli.Command {
	flags := endpointFlags("127.0.0.1", "Remote host name or address")
	flags = append(flags,
		&cli.StringFlag{
			Name:     messageFlag,
			Aliases:  []string{"m"},
			Usage:    "Payload to send; the command waits for the same number of bytes back",
			Category: categoryConnect,
			Value:    "hello",
		},
		&cli.DurationFlag{
			Name:     timeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Give up after this long",
			Category: categoryConnect,
			Value:    30 * time.Second,
		},
	)
	return &cli.Command{
		Name:  "connect",
		Usage: "Send a message and print the reply",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			port, err := parsePort(cmd.Int(portFlag), false)
			if err != nil {
				return err
			}
			family, err := parseFamily(cmd.String(familyFlag))
			if err != nil {
				return err
			}
			msg := cmd.String(messageFlag)
			if msg == "" {
				return errors.New("empty message")
			}

			a, ctx, err := newApp(ctx, optionsFrom(cmd))
			if err != nil {
				return err
			}
			defer a.close()
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration(timeoutFlag))
			defer cancel()

			obj, err := tcp.NewClient(cmd.String(hostFlag), port, family)
			if err != nil {
				return err
			}
			if err := tcp.SetSettings(obj, a.settings()); err != nil {
				obj.Destroy()
				return err
			}
			if err := a.decorate(obj); err != nil {
				obj.Destroy()
				return err
			}

			c := &client{want: len(msg), payload: []byte(msg)}
			if err := a.loop.Add(obj, c.onEvent); err != nil {
				obj.Destroy()
				return err
			}
			if err := a.run(ctx, func() bool { return c.done }); err != nil {
				return err
			}
			switch {
			case c.err != nil:
				return c.err
			case !c.done:
				return fmt.Errorf("no complete reply: %w", api.ErrCodeTimeout)
			}
			return nil
		},
	}
}

type client struct {
	s       *session
	payload []byte
	want    int
	done    bool
	err     error
}

func (c *client) onEvent(obj *layer.IO, ev api.EventType) {
	if c.s == nil {
		c.s = newSession(obj)
	}
	s := c.s
	switch ev {
	case api.EventConnected:
		infoMsg("Connected to %s:%d from port %d", tcp.Host(obj), tcp.Port(obj), tcp.EphemeralPort(obj))
		s.out = append(s.out, c.payload...)
		_ = s.flush()
	case api.EventRead:
		_ = s.drain()
		if len(s.in) >= c.want {
			dataMsg("%s", s.in)
			if err := obj.Disconnect(); err != nil {
				c.done = true
			}
		}
	case api.EventWrite:
		_ = s.flush()
	case api.EventDisconnected:
		if len(s.in) < c.want {
			c.err = fmt.Errorf("peer closed after %d of %d bytes", len(s.in), c.want)
		}
		c.done = true
		s.release()
		obj.Destroy()
	case api.EventError:
		c.err = fmt.Errorf("%s:%d: %s", tcp.Host(obj), tcp.Port(obj), obj.ErrorString())
		c.done = true
		s.release()
		obj.Destroy()
	}
}
