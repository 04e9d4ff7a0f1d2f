// File: cmd/hioload-net/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command hioload-net drives the event engine from the shell: an echo server,
// a one-shot client and a reader for trace files.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is set at link time.
var Version = "dev"

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		errorMsg("%s", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "hioload-net",
		Usage: "event-driven TCP engine tool",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			listenCommand(),
			connectCommand(),
			dumpCommand(),
			{
				Name:  "version",
				Usage: "Program version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Println(Version)
					return nil
				},
			},
		},
	}
}
