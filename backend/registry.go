package backend

import (
	"errors"
	"fmt"
	"sync"
)

// Factory creates a backend instance.
type Factory func() Backend

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[Kind]Factory)
	// Priority order for Auto selection (first available wins).
	// Native APIs first, GLES as the portable fallback, headless last.
	backendPriority = []Kind{Vulkan, Metal, D3D11, GLES2, Headless}
)

// Register registers a backend factory for the given kind.
// This is typically called from init() functions.
// If a backend with the same kind is already registered, it will be replaced.
func Register(kind Kind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[kind] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(kind Kind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, kind)
}

// Available returns the registered kinds in priority order.
func Available() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]Kind, 0, len(backends))
	for _, k := range backendPriority {
		if _, ok := backends[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// IsRegistered checks if a backend of the given kind is registered.
func IsRegistered(kind Kind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[kind]
	return ok
}

// Get returns a backend instance by kind.
// Returns nil if the backend is not registered.
func Get(kind Kind) Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := backends[kind]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the best available backend based on priority.
// Returns nil if no backends are registered.
func Default() Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, kind := range backendPriority {
		if factory, ok := backends[kind]; ok {
			if b := factory(); b != nil {
				return b
			}
		}
	}
	return nil
}

// Select resolves kind to a backend. Auto picks Default().
func Select(kind Kind) (Backend, error) {
	if kind == Auto {
		if b := Default(); b != nil {
			return b, nil
		}
		return nil, ErrBackendNotAvailable
	}
	if b := Get(kind); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %v (registered: %v)", ErrBackendNotAvailable, kind, Available())
}

// OpenDefault opens a device on the best available backend, falling back
// down the priority list when a backend is registered but cannot open a
// device (no driver, no adapter).
func OpenDefault(cfg Config) (*Device, error) {
	var errs []error
	for _, kind := range Available() {
		b := Get(kind)
		if b == nil {
			continue
		}
		d, err := b.Open(cfg)
		if err == nil {
			return d, nil
		}
		errs = append(errs, fmt.Errorf("%v: %w", kind, err))
	}
	if len(errs) == 0 {
		return nil, ErrBackendNotAvailable
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}
