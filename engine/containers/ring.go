package containers

import "sync/atomic"

// Ring hands out a fixed set of items in round-robin order. Next is safe
// for concurrent use and never blocks.
type Ring[T any] struct {
	items  []T
	cursor atomic.Uint64
}

func NewRing[T any](items []T) *Ring[T] {
	if len(items) == 0 {
		panic("containers: ring needs at least one item")
	}
	return &Ring[T]{items: items}
}

// Next returns items[k % len] where k is the number of earlier calls.
func (r *Ring[T]) Next() T {
	k := r.cursor.Add(1) - 1
	return r.items[k%uint64(len(r.items))]
}

func (r *Ring[T]) Len() int {
	return len(r.items)
}

func (r *Ring[T]) At(i int) T {
	return r.items[i]
}

// Items returns the backing slice. Callers must not modify it.
func (r *Ring[T]) Items() []T {
	return r.items
}
