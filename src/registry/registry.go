// Package registry keeps track of the validators launched in a network.
package registry

import (
	"strconv"
	"sync"
)

// Handle is what the Registry needs to know about a validator.
type Handle interface {
	ID() int
	Name() string
}

// Registry owns the handles of every validator launched in a network. Handles
// are kept in launch order and can be looked up by numeric id or by name; both
// keys resolve to the same handle.
type Registry[H Handle] struct {
	sync.RWMutex

	sorted []H
	byID   map[int]H
	byName map[string]H
}

// New creates an empty Registry.
func New[H Handle]() *Registry[H] {
	return &Registry[H]{
		byID:   make(map[int]H),
		byName: make(map[string]H),
	}
}

// Add registers a handle. It returns false, and leaves the Registry unchanged,
// if the id or the name is already taken.
func (r *Registry[H]) Add(h H) bool {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.byID[h.ID()]; ok {
		return false
	}
	if _, ok := r.byName[h.Name()]; ok {
		return false
	}

	r.sorted = append(r.sorted, h)
	r.byID[h.ID()] = h
	r.byName[h.Name()] = h

	return true
}

// Get returns the handle with the given id.
func (r *Registry[H]) Get(id int) (H, bool) {
	r.RLock()
	defer r.RUnlock()

	h, ok := r.byID[id]
	return h, ok
}

// Resolve returns the handle whose name is key or, failing that, whose id is
// key parsed as an integer. Keys that match neither resolve to nothing.
func (r *Registry[H]) Resolve(key string) (H, bool) {
	r.RLock()
	defer r.RUnlock()

	if h, ok := r.byName[key]; ok {
		return h, true
	}

	var zero H

	id, err := strconv.Atoi(key)
	if err != nil {
		return zero, false
	}

	h, ok := r.byID[id]
	return h, ok
}

// All returns the handles in launch order.
func (r *Registry[H]) All() []H {
	r.RLock()
	defer r.RUnlock()

	res := make([]H, len(r.sorted))
	copy(res, r.sorted)
	return res
}

// Len returns the number of registered handles.
func (r *Registry[H]) Len() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.sorted)
}
