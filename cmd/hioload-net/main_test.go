package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/transport/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFamily(t *testing.T) {
	for in, want := range map[string]api.NetFamily{
		"":     api.FamilyAny,
		"any":  api.FamilyAny,
		"IPv4": api.FamilyIPv4,
		"6":    api.FamilyIPv6,
	} {
		got, err := parseFamily(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseFamily("ipx")
	assert.Error(t, err)
}

func TestParsePort(t *testing.T) {
	p, err := parsePort(8080, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), p)

	_, err = parsePort(0, false)
	assert.Error(t, err)
	p, err = parsePort(0, true)
	require.NoError(t, err)
	assert.Zero(t, p)
	_, err = parsePort(70000, true)
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	color.NoColor = true
	var rec bytes.Buffer
	obj := layer.New(api.IOTypeStream)
	_, err := obj.AddLayer("NIL", layer.Passthrough{})
	require.NoError(t, err)
	require.NoError(t, trace.Add(obj, &rec))

	_, err = obj.Write([]byte("hi"))
	require.Error(t, err)

	var out bytes.Buffer
	require.NoError(t, dump(&out, &rec))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], obj.ID().String()[:8])
	assert.Contains(t, lines[0], "write")
	assert.Contains(t, lines[0], "err="+api.ErrCodeInvalid.Error())
}

func TestDump_Garbage(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, dump(&out, strings.NewReader("\xff\xff\xff")))
}
