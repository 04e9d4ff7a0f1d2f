// Package control
// Author: momentics <momentics@gmail.com>
//
// Hot-reload, runtime metrics, configuration control, and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads and merged updates with reload listeners
//   - Process-wide reload hooks (wired to SIGHUP by the CLI)
//   - A metrics registry the event loop publishes its counters to
//   - Named debug probes, including per-platform poller details
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
