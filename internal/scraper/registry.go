package scraper

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the source adapters available to scrape runs
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty source registry
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source adapter under its name
func (r *Registry) Register(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.Name()] = source
}

// Get returns the adapter registered under name
func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", name)
	}
	return source, nil
}

// Names returns the registered source names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
