package updates

import (
	"fmt"
	"sync"
)

// Descriptor is the user-visible record of a pending or repeating update.
type Descriptor struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Registry holds descriptors keyed by unique name, in insertion order.
type Registry struct {
	mu    sync.Mutex
	order []Descriptor
	index map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: map[string]int{}}
}

// Add inserts a descriptor. It fails with ErrDuplicateName if name is taken.
func (r *Registry) Add(name, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.index[name] = len(r.order)
	r.order = append(r.order, Descriptor{Name: name, Message: message})
	return nil
}

func (r *Registry) Find(name string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.order[i], true
}

// Remove deletes name and reports whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[name]
	if !ok {
		return false
	}
	r.order = append(r.order[:i], r.order[i+1:]...)
	delete(r.index, name)
	for j := i; j < len(r.order); j++ {
		r.index[r.order[j].Name] = j
	}
	return true
}

// List returns a copy of all descriptors in insertion order.
func (r *Registry) List() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
