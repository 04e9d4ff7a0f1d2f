package control_test

import (
	"sync/atomic"
	"testing"

	"github.com/momentics/hioload-net/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_MergeAndNotify(t *testing.T) {
	cs := control.NewConfigStore()
	var seen []map[string]any
	cs.OnReload(func(snap map[string]any) { seen = append(seen, snap) })

	cs.SetConfig(map[string]any{"net.nagle": false, "net.keepalive": true})
	cs.SetConfig(map[string]any{"net.nagle": true})

	require.Len(t, seen, 2)
	assert.Equal(t, map[string]any{"net.nagle": true, "net.keepalive": true}, seen[1])

	v, ok := cs.Get("net.nagle")
	require.True(t, ok)
	assert.Equal(t, true, v)

	snap := cs.GetSnapshot()
	snap["net.nagle"] = "mutated"
	v, _ = cs.Get("net.nagle")
	assert.Equal(t, true, v, "snapshots are copies")
}

func TestConfigStore_ListenerMayReadStore(t *testing.T) {
	cs := control.NewConfigStore()
	var got any
	cs.OnReload(func(map[string]any) { got, _ = cs.Get("k") })
	cs.SetConfig(map[string]any{"k": 1})
	assert.Equal(t, 1, got)
}

func TestMetricsRegistry(t *testing.T) {
	mr := control.NewMetricsRegistry()
	assert.True(t, mr.Updated().IsZero())

	mr.Set("loop.events", uint64(3))
	mr.SetMany(map[string]any{"loop.handles": 2, "loop.timers_fired": uint64(1)})

	v, ok := mr.Get("loop.events")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
	assert.Len(t, mr.GetSnapshot(), 3)
	assert.False(t, mr.Updated().IsZero())
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("loop.handles", func() any { return 7 })

	state := dp.DumpState()
	assert.Equal(t, 7, state["loop.handles"])
	assert.Contains(t, state, "platform.cpus")
	assert.NotEmpty(t, state["platform.poller"])
}

func TestReloadHooks(t *testing.T) {
	var n atomic.Int32
	control.RegisterReloadHook(func() { n.Add(1) })
	control.TriggerHotReloadSync()
	assert.Equal(t, int32(1), n.Load())
}
