// File: cmd/hioload-net/flags.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-net/api"
	"github.com/urfave/cli/v3"
)

const (
	categoryCommon  = "common"
	categoryConnect = "connect"

	configFlag  = "config"
	verboseFlag = "verbose"
	cpuFlag     = "cpu"
	traceFlag   = "trace"

	hostFlag    = "host"
	portFlag    = "port"
	familyFlag  = "family"
	messageFlag = "message"
	timeoutFlag = "timeout"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     configFlag,
			Aliases:  []string{"c"},
			Usage:    "YAML configuration file, reloaded on SIGHUP",
			Category: categoryCommon,
			Value:    "hioload-net.yaml",
		},
		&cli.BoolFlag{
			Name:     verboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Debug logging, overrides loop.log_level",
			Category: categoryCommon,
		},
		&cli.IntFlag{
			Name:     cpuFlag,
			Usage:    "Pin the event loop thread to this CPU, -1 leaves it floating",
			Category: categoryCommon,
			Value:    -1,
		},
		&cli.StringFlag{
			Name:     traceFlag,
			Usage:    "Append CBOR trace records of every connection to this file",
			Category: categoryCommon,
		},
	}
}

func endpointFlags(defaultHost, hostUsage string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     hostFlag,
			Usage:    hostUsage,
			Category: categoryConnect,
			Value:    defaultHost,
		},
		&cli.IntFlag{
			Name:     portFlag,
			Aliases:  []string{"p"},
			Usage:    "TCP port",
			Category: categoryConnect,
			Required: true,
		},
		&cli.StringFlag{
			Name:     familyFlag,
			Aliases:  []string{"f"},
			Usage:    "Address family: any, ipv4 or ipv6",
			Category: categoryConnect,
			Value:    "any",
		},
	}
}

func parseFamily(s string) (api.NetFamily, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return api.FamilyAny, nil
	case "ipv4", "4":
		return api.FamilyIPv4, nil
	case "ipv6", "6":
		return api.FamilyIPv6, nil
	}
	return api.FamilyAny, fmt.Errorf("unknown address family %q", s)
}

func parsePort(v int64, allowZero bool) (uint16, error) {
	if v < 0 || v > 65535 || (v == 0 && !allowZero) {
		return 0, fmt.Errorf("port %d out of range", v)
	}
	return uint16(v), nil
}
