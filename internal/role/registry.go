package role

import (
	"fmt"
	"sync"

	"github.com/substratai/substrat/internal/coreerr"
)

// Registry holds configured Roles by name, seeded with the built-ins.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

// NewRegistry returns a Registry preloaded with BuiltInRoles.
func NewRegistry() *Registry {
	r := &Registry{roles: make(map[string]*Role)}
	for name, role := range BuiltInRoles() {
		r.roles[name] = role
	}
	return r
}

// Register adds or replaces a role.
func (r *Registry) Register(role *Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}

// Get looks up a role by name, returning coreerr.NotFound if unregistered.
func (r *Registry) Get(name string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[name]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, fmt.Sprintf("role %q not registered", name))
	}
	return role, nil
}
