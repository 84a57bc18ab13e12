package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured provider clients. The set is fixed at
// startup; lookups are read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds a client. Registering the same name twice is an error.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, ok := r.clients[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.clients[name] = c
	return nil
}

// Get returns the client for name, or an error naming the unknown provider.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return c, nil
}

// Has reports whether name is a configured provider.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// Scopes returns the union of every configured provider's scope
// strings, sorted. Clients that do not expose their scopes contribute
// nothing.
func (r *Registry) Scopes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var scopes []string
	for _, c := range r.clients {
		lister, ok := c.(interface{ Scopes() []string })
		if !ok {
			continue
		}
		for _, s := range lister.Scopes() {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			scopes = append(scopes, s)
		}
	}
	sort.Strings(scopes)
	return scopes
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
