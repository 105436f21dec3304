package provider

import (
	"fmt"
	"sync"

	"github.com/substratai/substrat/internal/coreerr"
)

// Registry holds every configured AgentProvider, keyed by name.
//
// Grounded on the teacher's internal/provider/registry.go: a mutex-guarded
// map with Register/Get/List, generalized from Provider to AgentProvider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]AgentProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]AgentProvider)}
}

func (r *Registry) Register(p AgentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (AgentProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, fmt.Sprintf("provider %q not registered", name))
	}
	return p, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
