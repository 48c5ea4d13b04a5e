package consumer

import "sync"

// ApiHandle is the read handle a consumer acquires after a successful
// update, tagged with the generation it was issued for. The design
// notes (spec.md §9) describe "a weak reference that can detect its
// target's disappearance"; Go's standard library only gained a true
// GC-observed weak pointer in 1.24, and this module targets go 1.21 for a
// broader compatibility window (documented in DESIGN.md), so staleness
// here is tracked explicitly: the embedder
// calls Drop when it is done with a handle, and StaleReferenceDetector
// flags handles from superseded generations that were never dropped.
type ApiHandle struct {
	mu         sync.Mutex
	generation uint64
	dropped    bool
}

// Generation returns the generation this handle was issued for.
func (h *ApiHandle) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

// Drop marks the handle as no longer in use. Safe to call more than
// once.
func (h *ApiHandle) Drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped = true
}

func (h *ApiHandle) isDropped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// StaleReferenceDetector observes every ApiHandle issued by a Driver and
// reports handles that remain un-dropped after their generation has
// been superseded (spec.md §9: "surfaces a signal when old handles
// remain reachable past their superseding generation").
type StaleReferenceDetector struct {
	mu      sync.Mutex
	handles []*ApiHandle
}

// NewStaleReferenceDetector returns an empty detector.
func NewStaleReferenceDetector() *StaleReferenceDetector {
	return &StaleReferenceDetector{}
}

// Track registers h for future staleness checks.
func (d *StaleReferenceDetector) Track(h *ApiHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles = append(d.handles, h)
}

// Stale returns every tracked handle whose generation is older than
// currentGeneration and has not been dropped, pruning dropped handles
// from the tracked set as it goes.
func (d *StaleReferenceDetector) Stale(currentGeneration uint64) []*ApiHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	live := d.handles[:0]
	var stale []*ApiHandle
	for _, h := range d.handles {
		if h.isDropped() {
			continue
		}
		live = append(live, h)
		if h.Generation() < currentGeneration {
			stale = append(stale, h)
		}
	}
	d.handles = live
	return stale
}
