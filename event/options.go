// File: event/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package event

import (
	"io"
	"log/slog"

	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/reactor"
)

const defaultMaxEvents = 64

type options struct {
	log       *slog.Logger
	maxEvents int
	metrics   *control.MetricsRegistry
	probes    *control.DebugProbes
	poller    reactor.Poller
}

// Option configures a Loop.
type Option func(*options)

// WithLogger sets the logger handed to layers. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMaxEvents bounds the readiness reports collected per iteration.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// WithMetrics publishes loop counters to mr after every iteration.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(o *options) { o.metrics = mr }
}

// WithProbes registers loop introspection probes on dp.
func WithProbes(dp *control.DebugProbes) Option {
	return func(o *options) { o.probes = dp }
}

// WithPoller replaces the platform poller.
func WithPoller(p reactor.Poller) Option {
	return func(o *options) { o.poller = p }
}

func defaults() options {
	return options{
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxEvents: defaultMaxEvents,
	}
}
