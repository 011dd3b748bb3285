package vulkan

import "sync/atomic"

// refCount is an atomic reference count that cannot be revived once it
// reaches zero.
type refCount struct {
	n atomic.Int64
}

func (r *refCount) init() {
	r.n.Store(1)
}

// acquire takes a new reference. It fails once the count dropped to zero.
func (r *refCount) acquire() bool {
	for {
		cur := r.n.Load()
		if cur <= 0 {
			return false
		}
		if r.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release drops a reference and reports whether it was the last one.
func (r *refCount) release() bool {
	n := r.n.Add(-1)
	if n < 0 {
		panic("vulkan: reference count released too many times")
	}
	return n == 0
}

func (r *refCount) count() int64 {
	return r.n.Load()
}
