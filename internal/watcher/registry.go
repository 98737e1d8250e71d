package watcher

import "sync"

// Registry is the set of documents known to be indexed or already
// submitted for indexing.
type Registry struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[Key]struct{})}
}

// Replace swaps the contents for keys.
func (r *Registry) Replace(keys []Key) {
	next := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		next[k] = struct{}{}
	}
	r.mu.Lock()
	r.keys = next
	r.mu.Unlock()
}

// Add records k and reports whether it was absent.
func (r *Registry) Add(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[k]; ok {
		return false
	}
	r.keys[k] = struct{}{}
	return true
}

func (r *Registry) Remove(k Key) {
	r.mu.Lock()
	delete(r.keys, k)
	r.mu.Unlock()
}

func (r *Registry) Has(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[k]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
