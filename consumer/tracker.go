package consumer

import "sync"

// FailedTransitionTracker is the set of blob identities known to have
// failed application, named in spec.md §3 and used by the double-
// snapshot gate (spec.md §4.10): "an entire plan is rejected if it
// intersects this set when double-snapshot is enabled." Grounded on
// pebble's simple mutex-guarded set types (e.g. the compaction-picker's
// in-progress set) rather than a concurrent map library — this is a
// small, infrequently-written set with no need for sharding.
type FailedTransitionTracker struct {
	mu     sync.Mutex
	failed map[string]bool
}

// NewFailedTransitionTracker returns an empty tracker.
func NewFailedTransitionTracker() *FailedTransitionTracker {
	return &FailedTransitionTracker{failed: make(map[string]bool)}
}

// MarkFailed records id as having failed.
func (t *FailedTransitionTracker) MarkFailed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed[id] = true
}

// HasFailed reports whether id was previously marked failed.
func (t *FailedTransitionTracker) HasFailed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed[id]
}

// Intersects reports whether any of ids was previously marked failed.
func (t *FailedTransitionTracker) Intersects(ids []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if t.failed[id] {
			return true
		}
	}
	return false
}
