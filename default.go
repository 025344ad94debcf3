package di

import "sync"

var (
	defaultMu        sync.Mutex
	defaultRegistry  *Registry
	defaultContainer *Container
)

// DefaultRegistry returns the process-wide registry, creating it on first
// use. Definition-time registration helpers (decorator-style glue) register
// here; containers built for tests should layer their own registry on top of
// it via NewRegistry(DefaultRegistry()).
func DefaultRegistry() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(nil)
	}
	return defaultRegistry
}

// Default returns the process-wide container, constructed on first use
// against the default registry.
func Default() *Container {
	registry := DefaultRegistry()
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultContainer == nil {
		defaultContainer = New(registry)
	}
	return defaultContainer
}

// Reset discards the default container and registry. Intended for tests.
func Reset() {
	defaultMu.Lock()
	defaultRegistry = nil
	defaultContainer = nil
	defaultMu.Unlock()
}
