package discovery

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps provider records in process.
type MemoryRegistry struct {
	mu        sync.RWMutex
	providers map[string]map[string]Provider
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{providers: map[string]map[string]Provider{}}
}

func (r *MemoryRegistry) Register(_ context.Context, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.providers[p.Module]
	if !ok {
		byName = map[string]Provider{}
		r.providers[p.Module] = byName
	}
	byName[p.Name] = p
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers[p.Module], p.Name)
	return nil
}

func (r *MemoryRegistry) Providers(_ context.Context, module string) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers[module]))
	for _, p := range r.providers[module] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRegistry) Close() error { return nil }
