// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package config loads loop and socket settings from YAML.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/momentics/hioload-net/transport/tcp"
	"gopkg.in/yaml.v3"
)

// Loop configures the event loop.
type Loop struct {
	MaxEvents int    `yaml:"max_events"`
	LogLevel  string `yaml:"log_level"`
}

// Config is the file layout:
//
//	loop:
//	  max_events: 64
//	  log_level: info
//	net:
//	  connect_timeout: 10s
//	  disconnect_timeout: 10s
//	  keepalive: true
//	  keepalive_idle: 30s
//	  keepalive_interval: 5s
//	  keepalive_count: 4
//	  nagle: false
type Config struct {
	Loop Loop         `yaml:"loop"`
	Net  tcp.Settings `yaml:"net"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Loop: Loop{MaxEvents: 64, LogLevel: "info"},
		Net:  tcp.DefaultSettings(),
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Loop.MaxEvents <= 0 {
		return fmt.Errorf("loop.max_events must be positive, got %d", c.Loop.MaxEvents)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	n := c.Net
	for name, d := range map[string]time.Duration{
		"net.connect_timeout":    n.ConnectTimeout,
		"net.disconnect_timeout": n.DisconnectTimeout,
		"net.keepalive_idle":     n.KeepaliveIdle,
		"net.keepalive_interval": n.KeepaliveInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if n.KeepaliveCount < 0 {
		return fmt.Errorf("net.keepalive_count must not be negative")
	}
	return nil
}

// Level parses Loop.LogLevel ("debug", "info", "warn", "error").
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.Loop.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Loop.LogLevel)); err != nil {
		return 0, fmt.Errorf("loop.log_level: %w", err)
	}
	return lvl, nil
}

// Snapshot flattens the configuration into control.ConfigStore keys.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"loop.max_events":        c.Loop.MaxEvents,
		"loop.log_level":         c.Loop.LogLevel,
		"net.connect_timeout":    c.Net.ConnectTimeout,
		"net.disconnect_timeout": c.Net.DisconnectTimeout,
		"net.keepalive":          c.Net.Keepalive,
		"net.keepalive_idle":     c.Net.KeepaliveIdle,
		"net.keepalive_interval": c.Net.KeepaliveInterval,
		"net.keepalive_count":    c.Net.KeepaliveCount,
		"net.nagle":              c.Net.Nagle,
	}
}

// Settings rebuilds socket settings from a snapshot. Missing or mistyped
// keys keep the defaults.
func Settings(snap map[string]any) tcp.Settings {
	s := tcp.DefaultSettings()
	dur := func(key string, dst *time.Duration) {
		if v, ok := snap[key].(time.Duration); ok {
			*dst = v
		}
	}
	dur("net.connect_timeout", &s.ConnectTimeout)
	dur("net.disconnect_timeout", &s.DisconnectTimeout)
	dur("net.keepalive_idle", &s.KeepaliveIdle)
	dur("net.keepalive_interval", &s.KeepaliveInterval)
	if v, ok := snap["net.keepalive"].(bool); ok {
		s.Keepalive = v
	}
	if v, ok := snap["net.keepalive_count"].(int); ok {
		s.KeepaliveCount = v
	}
	if v, ok := snap["net.nagle"].(bool); ok {
		s.Nagle = v
	}
	return s
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
