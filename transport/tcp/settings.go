// File: transport/tcp/settings.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import "time"

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultDisconnectTimeout = 10 * time.Second
	minTimeout               = 10 * time.Millisecond
)

// Settings are the per-connection socket parameters. They are read at the
// transitions that use them, so changing them affects the next transition only.
type Settings struct {
	// ConnectTimeout bounds name resolution and, separately, CONNECTING.
	// 0 disables the connect timer.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// DisconnectTimeout forces DISCONNECTED when the peer does not answer a shutdown.
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`

	Keepalive         bool          `yaml:"keepalive"`
	KeepaliveIdle     time.Duration `yaml:"keepalive_idle"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	KeepaliveCount    int           `yaml:"keepalive_count"`

	// Nagle leaves Nagle's algorithm on; the default sets TCP_NODELAY.
	Nagle bool `yaml:"nagle"`
}

// DefaultSettings returns 10s connect and disconnect timeouts, no keepalive
// and Nagle disabled.
func DefaultSettings() Settings {
	return Settings{
		ConnectTimeout:    defaultConnectTimeout,
		DisconnectTimeout: defaultDisconnectTimeout,
	}
}
