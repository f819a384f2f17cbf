package provider

import (
	"fmt"
	"sync"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// AutoProvider is the provider preference meaning "pick for me".
const AutoProvider = "auto"

// Registry holds the configured adapters in priority order.
//
// Registration happens once at startup; lookups are concurrent afterwards.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter. Registration order is resolution priority.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.ID()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.adapters[id] = a
	r.order = append(r.order, id)
	return nil
}

// Get returns the adapter with the given ID.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, ferrors.NewNotFoundError("provider", id)
	}
	return a, nil
}

// IDs returns the registered provider IDs in priority order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ResolveAuto picks the first provider, in priority order, that is currently
// available, supports the purpose, and can hold a file of the given size.
//
// available is the caller's health gate, typically the provider's circuit
// breaker. When every provider is ruled out the returned error explains the
// outage rather than any single provider's rejection.
func (r *Registry) ResolveAuto(size int64, purpose string, available func(providerID string) bool) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil, ferrors.NewProviderUnavailableError("no providers configured", nil)
	}

	for _, id := range r.order {
		a := r.adapters[id]
		limits := a.Limits()
		if !limits.Fits(size) || !limits.Supports(purpose) {
			continue
		}
		if available != nil && !available(id) {
			continue
		}
		return a, nil
	}

	return nil, ferrors.NewProviderUnavailableError(
		fmt.Sprintf("no provider can accept a %d byte %q upload right now", size, purpose), nil)
}

// Resolve returns the adapter for preference, using auto-resolution when
// preference is AutoProvider or empty. An explicitly named provider is
// returned even when unavailable; the breaker rejects the call itself so the
// caller sees a circuit-open error instead of a silent reroute.
func (r *Registry) Resolve(preference string, size int64, purpose string, available func(providerID string) bool) (Adapter, error) {
	if preference == "" || preference == AutoProvider {
		return r.ResolveAuto(size, purpose, available)
	}
	return r.Get(preference)
}
