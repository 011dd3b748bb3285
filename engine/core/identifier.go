package core

import (
	"fmt"
	"sync"
)

// Registry hands out small integer ids for owned values. Released ids are
// reused before the table grows. Id 0 is never handed out so that it can
// stand for a null handle.
type Registry[T any] struct {
	mu     sync.RWMutex
	owners []*T
}

func NewRegistry[T any](capacity int) *Registry[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry[T]{
		owners: make([]*T, 1, capacity+1),
	}
}

func (r *Registry[T]) Acquire(owner T) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	length := uint64(len(r.owners))
	for i := uint64(1); i < length; i++ {
		// Existing free spot. Take it.
		if r.owners[i] == nil {
			r.owners[i] = &owner
			return i
		}
	}

	// No free slots, push a new one.
	r.owners = append(r.owners, &owner)
	return uint64(len(r.owners)) - 1
}

func (r *Registry[T]) Get(id uint64) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if id == 0 || id >= uint64(len(r.owners)) || r.owners[id] == nil {
		return zero, false
	}
	return *r.owners[id], true
}

// MustGet is Get for handles the caller obtained from this registry.
func (r *Registry[T]) MustGet(id uint64) T {
	v, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("registry: unknown handle %d", id))
	}
	return v
}

func (r *Registry[T]) Release(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	length := uint64(len(r.owners))
	if id == 0 || id >= length {
		return fmt.Errorf("registry release: id '%d' out of range (max=%d). Nothing was done", id, length)
	}

	// Just zero out the entry, making it available for use.
	r.owners[id] = nil
	return nil
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, o := range r.owners {
		if o != nil {
			n++
		}
	}
	return n
}
