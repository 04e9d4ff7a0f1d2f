// File: cmd/hioload-net/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared process setup: configuration with hot reload, logging, the event
// loop with its metrics, optional tracing and CPU pinning.

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/config"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/event"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/momentics/hioload-net/transport/trace"
	"github.com/urfave/cli/v3"
)

const tick = 100 * time.Millisecond

// options are the global flags.
type options struct {
	config  string
	verbose bool
	cpu     int
	trace   string
}

func optionsFrom(cmd *cli.Command) options {
	return options{
		config:  cmd.String(configFlag),
		verbose: cmd.Bool(verboseFlag),
		cpu:     int(cmd.Int(cpuFlag)),
		trace:   cmd.String(traceFlag),
	}
}

type app struct {
	cfgPath string
	verbose bool
	cpu     int

	store   *control.ConfigStore
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
	level   slog.LevelVar
	log     *slog.Logger
	loop    *event.Loop
	trace   *os.File
	stop    context.CancelFunc
}

// newApp loads the configuration and builds the loop. The returned context is
// cancelled by SIGINT or SIGTERM; SIGHUP reloads the configuration.
func newApp(ctx context.Context, opts options) (*app, context.Context, error) {
	a := &app{
		cfgPath: opts.config,
		verbose: opts.verbose,
		cpu:     opts.cpu,
		store:   control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, nil, err
	}
	a.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &a.level}))
	a.applyLevel(cfg)

	a.loop, err = event.New(
		event.WithLogger(a.log),
		event.WithMaxEvents(cfg.Loop.MaxEvents),
		event.WithMetrics(a.metrics),
		event.WithProbes(a.probes),
	)
	if err != nil {
		return nil, nil, err
	}

	if path := opts.trace; path != "" {
		a.trace, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			a.loop.Close()
			return nil, nil, err
		}
	}

	a.store.SetConfig(cfg.Snapshot())
	control.RegisterReloadHook(a.reload)

	ctx, a.stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-hup:
				control.TriggerHotReload()
			case <-ctx.Done():
				return
			}
		}
	}()
	return a, ctx, nil
}

func (a *app) applyLevel(cfg *config.Config) {
	lvl, err := cfg.Level()
	if err != nil || a.verbose {
		lvl = slog.LevelDebug
	}
	a.level.Set(lvl)
}

// reload re-reads the configuration file and publishes it to the store.
func (a *app) reload() {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		a.log.Error("config reload failed", "path", a.cfgPath, "err", err)
		return
	}
	a.applyLevel(cfg)
	a.store.SetConfig(cfg.Snapshot())
	a.log.Info("config reloaded", "path", a.cfgPath)
}

// settings returns the socket settings currently configured.
func (a *app) settings() tcp.Settings {
	return config.Settings(a.store.GetSnapshot())
}

// decorate adds the trace layer when tracing is enabled.
func (a *app) decorate(obj *layer.IO) error {
	if a.trace == nil {
		return nil
	}
	return trace.Add(obj, a.trace)
}

// run drives the loop until ctx is cancelled or finished reports true.
func (a *app) run(ctx context.Context, finished func() bool) error {
	if a.cpu >= 0 {
		release, err := affinity.Pin(a.cpu)
		if err != nil {
			return err
		}
		defer release()
		a.log.Debug("event loop pinned", "cpu", a.cpu)
	}
	for ctx.Err() == nil {
		if a.loop.Run(tick) == api.RunMisuse {
			return errors.New("event loop failed")
		}
		if finished != nil && finished() {
			return nil
		}
	}
	return nil
}

func (a *app) close() {
	a.stop()
	a.log.Debug("loop stats", "metrics", a.metrics.GetSnapshot(), "probes", a.probes.DumpState())
	if err := a.loop.Close(); err != nil {
		a.log.Warn("loop close", "err", err)
	}
	if a.trace != nil {
		_ = a.trace.Close()
	}
}
