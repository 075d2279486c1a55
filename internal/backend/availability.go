package backend

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Factory creates a backend instance.
type Factory func() (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// autoPreference is the order in which Auto picks a registered backend.
var autoPreference = []string{CPU}

// Register makes a backend available by name. Backends register themselves
// from init; registering a name twice panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("backend: %q registered twice", name))
	}
	registry[name] = f
}

// Has reports whether name is registered.
func Has(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Available returns a comma-separated list of registered backends.
func Available() string {
	registryMu.RLock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	registryMu.RUnlock()
	slices.Sort(names)
	return strings.Join(names, ",")
}

// Open creates the named backend. Auto selects the first registered backend
// in preference order.
func Open(name string) (Backend, error) {
	resolved, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if resolved == Auto {
		resolved = ""
		for _, candidate := range autoPreference {
			if Has(candidate) {
				resolved = candidate
				break
			}
		}
		if resolved == "" {
			return nil, fmt.Errorf("backend: none registered")
		}
	}
	registryMu.RLock()
	f, ok := registry[resolved]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: %q is not available (have %s)", resolved, Available())
	}
	return f()
}
