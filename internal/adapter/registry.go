package adapter

import (
	"fmt"
	"sync"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Factory builds an adapter instance. Construction never validates
// credentials; those are checked lazily on first call.
type Factory func() (PaymentAdapter, error)

// Registry hands out one cached adapter instance per provider, built on
// first use. Vendor clients are stateless, so instances are immutable
// after construction and need no teardown.
type Registry struct {
	mu        sync.Mutex
	factories map[model.Provider]Factory
	cache     map[model.Provider]PaymentAdapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[model.Provider]Factory),
		cache:     make(map[model.Provider]PaymentAdapter),
	}
}

// Register installs the factory for a provider, replacing any previous one.
func (r *Registry) Register(p model.Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
	delete(r.cache, p)
}

// Get returns the cached adapter for the provider, constructing it on
// first use. Unknown providers are an error.
func (r *Registry) Get(p model.Provider) (PaymentAdapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.cache[p]; ok {
		return a, nil
	}
	f, ok := r.factories[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", p)
	}
	a, err := f()
	if err != nil {
		return nil, fmt.Errorf("building adapter for provider %q: %w", p, err)
	}
	r.cache[p] = a
	return a, nil
}
