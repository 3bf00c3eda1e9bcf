// Package provider defines the contract every credit-check provider satisfies.
//
// The lifecycle manager calls Resolve exactly once per submitted request, on
// its own goroutine. A provider either answers synchronously with a terminal
// outcome, answers pending (the result will arrive later through
// OnProviderResult), or returns an error which is recorded as a failed check.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"brokerdesk/internal/creditcheck/models"
)

// Provider is the interface the simulator and real adapters implement.
type Provider interface {
	// ID returns a unique identifier recorded on every resolved check.
	ID() string

	// Resolve asks the provider for an outcome for req.
	Resolve(ctx context.Context, req models.CreditCheckRequest) (models.Outcome, error)

	// Health checks if the provider is reachable.
	Health(ctx context.Context) error
}

// Registry maintains the providers wired at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid := p.ID()
	if _, exists := r.providers[pid]; exists {
		return fmt.Errorf("provider %s already registered", pid)
	}
	r.providers[pid] = p
	return nil
}

// Get retrieves a provider by ID
func (r *Registry) Get(pid string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[pid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, pid)
	}
	return p, nil
}

// IDs returns registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for pid := range r.providers {
		out = append(out, pid)
	}
	sort.Strings(out)
	return out
}

// Health checks every registered provider and returns failures by id.
func (r *Registry) Health(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error)
	for pid, p := range r.providers {
		if err := p.Health(ctx); err != nil {
			out[pid] = err
		}
	}
	return out
}
