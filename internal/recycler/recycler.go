// Package recycler implements the memory recycler named in spec.md §3 and
// §5: a pool of reusable segment buffers used when a type's data is not
// mmap-backed, with two generations swapped after each type application to
// provide a generation window. Grounded on internal/cache/manual.go's
// purpose-tagged manual-allocation bookkeeping, simplified to a
// generation-swapped free list instead of a full Clock-PRO cache — the
// CORE has no eviction policy to implement, only reuse.
package recycler

import "sync"

// Recycler hands out and reclaims byte slices sized to a single segment
// (internal/segment.Shift-sized), so repeated delta application against
// recycler-backed type states doesn't re-allocate a fresh buffer for every
// shard on every update.
type Recycler struct {
	mu         sync.Mutex
	segmentLen int
	current    [][]byte // buffers returned this generation
	previous   [][]byte // buffers from the prior generation, still live
}

// New returns a Recycler that pools buffers of segmentLen bytes each.
func New(segmentLen int) *Recycler {
	return &Recycler{segmentLen: segmentLen}
}

// Get returns a zeroed buffer of segmentLen bytes, reusing one from the
// previous generation's free list if available.
func (r *Recycler) Get() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.previous); n > 0 {
		buf := r.previous[n-1]
		r.previous = r.previous[:n-1]
		for i := range buf {
			buf[i] = 0
		}
		return buf
	}
	return make([]byte, r.segmentLen)
}

// Recycle returns buf to the current generation's free list for reuse
// after the next Swap.
func (r *Recycler) Recycle(buf []byte) {
	if len(buf) != r.segmentLen {
		return // not one of ours; drop it rather than corrupt the pool
	}
	r.mu.Lock()
	r.current = append(r.current, buf)
	r.mu.Unlock()
}

// Swap retires the previous generation's remaining buffers and promotes
// the current generation to become the new previous one. Called between
// type applications during delta processing (spec.md §4.9: "Swap memory
// recycler between types"), giving readers that might still be observing
// a buffer from two generations ago a safety window before it is
// overwritten again.
func (r *Recycler) Swap() {
	r.mu.Lock()
	r.previous = r.current
	r.current = nil
	r.mu.Unlock()
}
