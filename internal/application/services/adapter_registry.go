package services

import (
	"sync"

	"github.com/approveflow/backend/internal/domain/ports"
)

// AdapterRegistry is the lookup table of entity adapters keyed by entity
// type. A missing adapter is not an error; the executor degrades to generic
// titles and skips the business hooks.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]ports.EntityAdapter
}

// NewAdapterRegistry creates a new AdapterRegistry
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]ports.EntityAdapter)}
}

// Register installs an adapter under its entity type, replacing any previous
// registration.
func (r *AdapterRegistry) Register(adapter ports.EntityAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.EntityType()] = adapter
}

// Get returns the adapter for an entity type, or nil.
func (r *AdapterRegistry) Get(entityType string) ports.EntityAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[entityType]
}
