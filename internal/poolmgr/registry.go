package poolmgr

import (
	"fmt"
	"sync"
)

// registry favors explicit-dispatch backend detection over a
// reflection-based plugin loader: each backend registers a constructor
// under its name.
var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a backend constructor under name. Called from each
// backend's init().
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("poolmgr: backend %q registered twice", name))
	}
	registry[name] = f
}

// New constructs the named backend with cfg.
func New(name string, cfg map[string]string) (PoolManager, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("poolmgr: unknown backend %q", name)
	}
	return f(cfg)
}

// Names lists every registered backend name, for CLI help and config
// validation.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
