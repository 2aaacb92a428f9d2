// Package plugin implements the framework's Plugin Loader (component C1).
//
// HiveNetMicro resolves a plugin descriptor by dynamically importing a
// Python module and instantiating a class named in config. Go has no
// runtime import: the idiomatic equivalent, per the concurrency-model
// notes, is a registered-constructor-by-string-id factory -- every adapter
// kind self-registers a Constructor under a string id at package init time
// (the Go analogue of "module + class"), and the Plugin Loader resolves a
// types.PluginDescriptor to one of those constructors instead of loading
// code at runtime.
package plugin

import (
	"fmt"
	"path/filepath"
	"sync"

	"microcore/pkg/apperror"
	"microcore/pkg/types"
)

// Constructor builds one adapter instance from its resolved config map
// (types.PluginDescriptor.Config, with relative paths already rewritten).
type Constructor func(cfg map[string]any) (any, error)

// Loader resolves plugin descriptors into constructed adapter instances and
// caches them, unless the descriptor marks itself StandAlone.
type Loader struct {
	mu           sync.RWMutex
	constructors map[string]Constructor // key: "type:module.class"
	instances    map[string]any         // key: "type:id"
	basePath     string                  // root used to resolve relative paths in config
}

// NewLoader creates a Plugin Loader rooted at basePath, the directory
// relative paths in plugin config (file paths, log file paths) are resolved
// against.
func NewLoader(basePath string) *Loader {
	return &Loader{
		constructors: make(map[string]Constructor),
		instances:    make(map[string]any),
		basePath:     basePath,
	}
}

// Register records a Constructor for a given adapter type and
// "module.class" reference, the Go analogue of HiveNetMicro's
// module-import-then-instantiate resolution. Call this from each adapter
// package's init().
func (l *Loader) Register(adapterType, moduleClass string, ctor Constructor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.constructors[key(adapterType, moduleClass)] = ctor
}

// Load resolves a descriptor into a constructed adapter instance. It is
// cached by (type, id) unless StandAlone is set, matching the Adapter
// Manager's caching contract -- the Plugin Loader and Adapter Manager share
// one cache key space since every adapter ultimately loads through here.
func (l *Loader) Load(desc *types.PluginDescriptor) (any, error) {
	if desc == nil {
		return nil, apperror.New(apperror.CodeNilInput, "plugin descriptor is nil")
	}

	cacheKey := key(desc.Type, desc.ID)
	if !desc.StandAlone {
		l.mu.RLock()
		if inst, ok := l.instances[cacheKey]; ok {
			l.mu.RUnlock()
			return inst, nil
		}
		l.mu.RUnlock()
	}

	ctorKey := key(desc.Type, desc.Module+"."+desc.Class)
	l.mu.RLock()
	ctor, ok := l.constructors[ctorKey]
	l.mu.RUnlock()
	if !ok {
		return nil, apperror.New(apperror.CodeClassNotFound,
			fmt.Sprintf("no constructor registered for %s.%s (type %s)", desc.Module, desc.Class, desc.Type)).
			WithField("class")
	}

	cfg := l.convertRelativePaths(desc.Config)
	inst, err := ctor(cfg)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeAdapterLoadFailure,
			fmt.Sprintf("constructing %s/%s failed", desc.Type, desc.ID))
	}

	if !desc.StandAlone {
		l.mu.Lock()
		l.instances[cacheKey] = inst
		l.mu.Unlock()
	}
	return inst, nil
}

// Get returns an already-loaded instance by (type, id) without constructing
// it, mirroring the Adapter Manager's get().
func (l *Loader) Get(adapterType, id string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	inst, ok := l.instances[key(adapterType, id)]
	return inst, ok
}

// Remove evicts a cached instance by (type, id).
func (l *Loader) Remove(adapterType, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.instances, key(adapterType, id))
}

// RemoveAll evicts every cached instance.
func (l *Loader) RemoveAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.instances = make(map[string]any)
}

// convertRelativePaths rewrites any config value under a *_path-suffixed
// key that is a relative path into one anchored at the loader's basePath,
// mirroring HiveNetMicro's convert_relative_paths / convert_logger_paths
// behavior so that config documents stay portable across working
// directories.
func (l *Loader) convertRelativePaths(cfg map[string]any) map[string]any {
	if cfg == nil || l.basePath == "" {
		return cfg
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if isPathKey(k) {
			if s, ok := v.(string); ok && s != "" && !filepath.IsAbs(s) {
				out[k] = filepath.Join(l.basePath, s)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isPathKey(k string) bool {
	return len(k) >= 5 && k[len(k)-5:] == "_path"
}

func key(adapterType, id string) string {
	return adapterType + ":" + id
}
