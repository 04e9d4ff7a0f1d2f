package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-net/config"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsDefault(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loop:
  log_level: debug
net:
  connect_timeout: 2s
  keepalive: true
  keepalive_idle: 30s
  keepalive_count: 4
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Loop.MaxEvents)
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	assert.Equal(t, 2*time.Second, cfg.Net.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Net.DisconnectTimeout, "untouched keys keep defaults")
	assert.True(t, cfg.Net.Keepalive)
	assert.Equal(t, 30*time.Second, cfg.Net.KeepaliveIdle)
	assert.Equal(t, 4, cfg.Net.KeepaliveCount)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "net:\n  bogus: 1\n",
		"bad duration":     "net:\n  connect_timeout: soon\n",
		"negative timeout": "net:\n  disconnect_timeout: -1s\n",
		"zero max events":  "loop:\n  max_events: 0\n",
		"bad level":        "loop:\n  log_level: loud\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Net.Nagle = true
	cfg.Net.KeepaliveInterval = 5 * time.Second
	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "connect_timeout: 10s")

	back, err := config.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestSnapshotThroughConfigStore(t *testing.T) {
	cfg := config.Default()
	cfg.Net.Keepalive = true
	cfg.Net.KeepaliveCount = 3
	cfg.Net.ConnectTimeout = time.Second

	store := control.NewConfigStore()
	var applied tcp.Settings
	store.OnReload(func(snap map[string]any) { applied = config.Settings(snap) })
	store.SetConfig(cfg.Snapshot())

	assert.Equal(t, cfg.Net, applied)
	assert.Equal(t, tcp.DefaultSettings(), config.Settings(nil))
}
