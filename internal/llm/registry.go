package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry maps a provider name to a factory, a register-then-resolve
// shape so new providers can be added without touching call sites.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// Register associates a provider name with a factory. A later call with
// the same name replaces the earlier one.
func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get resolves a registered provider by name and model.
func (r *Registry) Get(ctx context.Context, name, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
	return f(ctx, model)
}
