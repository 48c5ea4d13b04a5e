// Package engine implements the read state engine named in spec.md §3 and
// §4.8: the registry of typed read states, their wiring to schemas, the
// shared memory recycler, and the begin/end-update listener fanout.
// Grounded on internal/base's Logger-injection style and pebble's
// top-level EventListener fanout pattern (multiple optional callbacks,
// each broadcast rather than chained).
package engine

import (
	"sync"

	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/typestate"
)

// elementTyped is implemented by the typestate kinds that reference
// another type by name, so WireTypeStatesToSchemas can validate the
// reference resolves without widening the typestate.TypeState contract
// itself.
type elementTyped interface {
	ElementTypeName() string
}

// StateEngine is the registry of type states for one generation of
// loaded data (spec.md §3: "typeStates, memoryRecycler, randomizedTag,
// headerTags"). It is mutated in place by a single driver goroutine
// during an update; concurrent reads are only safe once NotifyEndUpdate
// has returned for the update that produced the state being read
// (spec.md §5).
type StateEngine struct {
	mu          sync.RWMutex
	typeStates  map[string]typestate.TypeState
	recycler    *recycler.Recycler
	randomized  uint64
	headerTags  map[string]string
	initialized bool

	// primaryKeyIndex maps an object type name to its primary-key index,
	// built once by AfterInitialization for types declaring a
	// single-field PrimaryKeyPath.
	primaryKeyIndex map[string]map[string]int64
}

// New returns an empty StateEngine backed by rec. rec may be nil if the
// embedder never intends to apply deltas (snapshot-only use never
// recycles buffers).
func New(rec *recycler.Recycler) *StateEngine {
	return &StateEngine{
		typeStates: make(map[string]typestate.TypeState),
		recycler:   rec,
	}
}

// Recycler returns the engine's memory recycler, for typestate
// ReadSnapshot/ApplyDelta calls.
func (e *StateEngine) Recycler() *recycler.Recycler { return e.recycler }

// AddTypeState registers ts under name, replacing any existing state,
// mirroring spec.md §4.8's addTypeState.
func (e *StateEngine) AddTypeState(name string, ts typestate.TypeState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typeStates[name] = ts
}

// GetTypeState returns the registered state for name, if any.
func (e *StateEngine) GetTypeState(name string) (typestate.TypeState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ts, ok := e.typeStates[name]
	return ts, ok
}

// TypeNames returns every registered type name, in no particular order.
func (e *StateEngine) TypeNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.typeStates))
	for name := range e.typeStates {
		names = append(names, name)
	}
	return names
}

// RandomizedTag returns the engine's current randomized tag, the
// destination tag of the last snapshot or delta successfully applied.
func (e *StateEngine) RandomizedTag() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.randomized
}

// SetRandomizedTag replaces the engine's randomized tag. Called by the
// reader after a snapshot or delta is fully applied (spec.md §3: "
// ingesting a snapshot or delta replaces the engine's tag with the
// header's destinationRandomizedTag").
func (e *StateEngine) SetRandomizedTag(tag uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.randomized = tag
}

// HeaderTags returns the header key/value tags from the most recently
// applied blob.
func (e *StateEngine) HeaderTags() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.headerTags
}

// SetHeaderTags replaces the engine's header tags.
func (e *StateEngine) SetHeaderTags(tags map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.headerTags = tags
}

// NotifyBeginUpdate fans out to every registered type state's listeners,
// per spec.md §4.8.
func (e *StateEngine) NotifyBeginUpdate() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ts := range e.typeStates {
		ts.NotifyBeginUpdate()
	}
}

// NotifyEndUpdate fans out to every registered type state's listeners.
func (e *StateEngine) NotifyEndUpdate() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ts := range e.typeStates {
		ts.NotifyEndUpdate()
	}
}

// WireTypeStatesToSchemas resolves cross-type references (a list's
// element type, a set's element type) by confirming the referenced type
// name is registered. A map's key and value types are not checked. The CORE has no
// generated per-schema accessor classes to bind pointers into (those
// are explicitly out of scope per spec.md §1), so "wiring" here means
// validating the reference is resolvable by name through GetTypeState —
// any accessor can follow it from there.
func (e *StateEngine) WireTypeStatesToSchemas() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, ts := range e.typeStates {
		et, ok := ts.(elementTyped)
		if !ok {
			continue
		}
		ref := et.ElementTypeName()
		if ref == "" {
			continue
		}
		if _, ok := e.typeStates[ref]; !ok {
			return rodberrors.SchemaMismatchf("engine: type %q references unresolved type %q", name, ref)
		}
	}
	return nil
}

// AfterInitialization is invoked once after the first snapshot
// (spec.md §4.8). It builds a primary-key ordinal index for every
// object type whose schema declares a single-segment PrimaryKeyPath,
// the common case; a multi-segment (nested) primary key path is left
// unindexed, since following a nested path requires the generated
// per-schema accessors this CORE deliberately excludes (spec.md §1).
func (e *StateEngine) AfterInitialization() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return
	}
	e.initialized = true
	e.primaryKeyIndex = make(map[string]map[string]int64)
	for name, ts := range e.typeStates {
		pk, ok := ts.(primaryKeyIndexable)
		if !ok {
			continue
		}
		idx := pk.BuildPrimaryKeyIndex()
		if idx != nil {
			e.primaryKeyIndex[name] = idx
		}
	}
}

// PrimaryKeyLookup returns the ordinal of typeName whose single-field
// primary key stringifies to key, if AfterInitialization built an index
// for that type.
func (e *StateEngine) PrimaryKeyLookup(typeName, key string) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.primaryKeyIndex[typeName]
	if !ok {
		return 0, false
	}
	ord, ok := idx[key]
	return ord, ok
}

// primaryKeyIndexable is implemented by typestate.ObjectTypeState to let
// the engine build a primary-key index without the typestate package
// importing engine.
type primaryKeyIndexable interface {
	BuildPrimaryKeyIndex() map[string]int64
}
