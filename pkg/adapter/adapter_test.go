package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcore/pkg/plugin"
	"microcore/pkg/types"
)

func TestManagerLoadCaches(t *testing.T) {
	loader := plugin.NewLoader("")
	calls := 0
	loader.Register("tracer", "otel.Tracer", func(cfg map[string]any) (any, error) {
		calls++
		return "tracer-instance", nil
	})

	m := NewManager(loader)
	desc := &types.PluginDescriptor{Module: "otel", Class: "Tracer"}

	inst1, err := m.Load("t1", "tracer", desc)
	require.NoError(t, err)
	inst2, err := m.Load("t1", "tracer", desc)
	require.NoError(t, err)

	assert.Equal(t, inst1, inst2)
	assert.Equal(t, 1, calls)

	got, ok := m.Get("tracer", "t1")
	assert.True(t, ok)
	assert.Equal(t, "tracer-instance", got)

	m.Remove("tracer", "t1")
	_, ok = m.Get("tracer", "t1")
	assert.False(t, ok)
}

func TestManagerRemoveAll(t *testing.T) {
	loader := plugin.NewLoader("")
	loader.Register("naming", "memory.Naming", func(cfg map[string]any) (any, error) {
		return "naming-instance", nil
	})
	m := NewManager(loader)
	_, err := m.Load("n1", "naming", &types.PluginDescriptor{Module: "memory", Class: "Naming"})
	require.NoError(t, err)

	m.RemoveAll()
	_, ok := m.Get("naming", "n1")
	assert.False(t, ok)
}
