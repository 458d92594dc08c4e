// Package sync holds the registry of configured remote stores and, in the
// sqlite subpackage, the local entity database.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

// Registry is the engine's source of remote stores. Stores are tried in
// registration order and the first one that answers a ping serves the round.
type Registry struct {
	mu     sync.RWMutex
	stores []ports.RemoteStorePort
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a store. A store with the same name takes the old one's slot.
func (r *Registry) Register(store ports.RemoteStorePort) error {
	if store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if store.Name() == "" {
		return fmt.Errorf("store name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.stores {
		if s.Name() == store.Name() {
			r.stores[i] = store
			return nil
		}
	}
	r.stores = append(r.stores, store)
	return nil
}

// Get returns the store registered under name.
func (r *Registry) Get(name string) (ports.RemoteStorePort, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.stores {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, domainErrors.NewError(domainErrors.CodeConfiguration, "remote store not registered: "+name, nil)
}

// List returns store names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.stores))
	for i, s := range r.stores {
		names[i] = s.Name()
	}
	return names
}

// Count returns the number of registered stores.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

// GetPrimary pings stores in order and returns the first that answers. Stores
// after it are not probed. When none answers, the error joins every probe
// failure and wraps ErrRemoteUnavailable.
func (r *Registry) GetPrimary(ctx context.Context) (ports.RemoteStorePort, error) {
	r.mu.RLock()
	candidates := append([]ports.RemoteStorePort(nil), r.stores...)
	r.mu.RUnlock()

	var failures []error
	for _, store := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := store.IsAvailable(ctx)
		if err == nil && ok {
			return store, nil
		}
		if err == nil {
			err = fmt.Errorf("%s: not reachable", store.Name())
		}
		failures = append(failures, err)
	}

	cause := domainErrors.ErrRemoteUnavailable
	if len(failures) > 0 {
		cause = fmt.Errorf("%w: %w", domainErrors.ErrRemoteUnavailable, errors.Join(failures...))
	}
	return nil, domainErrors.NewError(domainErrors.CodeExternalService, "no remote store is reachable", cause)
}
