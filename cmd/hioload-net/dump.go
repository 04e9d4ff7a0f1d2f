// File: cmd/hioload-net/dump.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/momentics/hioload-net/transport/trace"
	"github.com/urfave/cli/v3"
)

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "Print the records of a trace file",
		ArgsUsage: "file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("must provide exactly one trace file, got %d", cmd.Args().Len())
			}
			f, err := os.Open(cmd.Args().Get(0))
			if err != nil {
				return err
			}
			defer f.Close()
			return dump(os.Stdout, f)
		},
	}
}

var kindColor = map[trace.Kind]*color.Color{
	trace.KindEvent: color.New(color.FgYellow),
	trace.KindRead:  color.New(color.FgGreen),
	trace.KindWrite: color.New(color.FgCyan),
}

func dump(w io.Writer, r io.Reader) error {
	rd := trace.NewReader(r)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding trace: %w", err)
		}
		io8 := rec.IO
		if len(io8) > 8 {
			io8 = io8[:8]
		}
		line := fmt.Sprintf("%s %s %-5s", rec.Time.Format(time.RFC3339Nano), io8, rec.Kind)
		switch rec.Kind {
		case trace.KindEvent:
			line += " " + rec.Event
		default:
			line += fmt.Sprintf(" len=%d %q", rec.Len, rec.Data)
			if rec.Err != "" {
				line += " err=" + rec.Err
			}
		}
		c, ok := kindColor[rec.Kind]
		if !ok {
			c = color.New(color.Reset)
		}
		c.Fprintln(w, line)
	}
}
