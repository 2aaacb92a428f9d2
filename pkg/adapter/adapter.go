// Package adapter implements the framework's Adapter Manager (component
// C4): the thin, cache-only layer every other component (naming, cluster,
// tracer, formatter, caller, web server) is loaded through. It has no
// lifecycle beyond caching by (type, id) -- adapters own their own
// teardown, matching the spec's "no lifecycle beyond caching" note.
package adapter

import (
	"microcore/pkg/plugin"
	"microcore/pkg/types"
)

// Manager loads, caches, and evicts adapter instances by (type, id),
// resolving each descriptor through a Plugin Loader.
type Manager struct {
	loader *plugin.Loader
}

// NewManager creates an Adapter Manager backed by the given Plugin Loader.
func NewManager(loader *plugin.Loader) *Manager {
	return &Manager{loader: loader}
}

// Load resolves and caches an adapter instance by (type, id). Second and
// later calls with the same (type, id) return the cached instance unless
// the descriptor is marked StandAlone.
func (m *Manager) Load(id, adapterType string, desc *types.PluginDescriptor) (any, error) {
	desc.Type = adapterType
	desc.ID = id
	return m.loader.Load(desc)
}

// Get returns an already-loaded adapter instance by (type, id).
func (m *Manager) Get(adapterType, id string) (any, bool) {
	return m.loader.Get(adapterType, id)
}

// Remove evicts one cached adapter instance by (type, id).
func (m *Manager) Remove(adapterType, id string) {
	m.loader.Remove(adapterType, id)
}

// RemoveAll evicts every cached adapter instance.
func (m *Manager) RemoveAll() {
	m.loader.RemoveAll()
}
