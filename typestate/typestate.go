// Package typestate implements the per-kind populators named in spec.md
// §4.7 and §9: object, list, set, and map type read states, each owning
// one or more shards of segmented-array-backed record data. The kind
// enumeration is a tagged variant (schema.Kind) rather than open
// inheritance, per spec.md §9's explicit guidance.
package typestate

import (
	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/filter"
	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/schema"
)

// Listener receives lifecycle notifications from a TypeState's owning
// engine during an update. Grounded on pebble's EventListener fanout
// style: a small set of optional callbacks, each invoked synchronously on
// the driver thread.
type Listener interface {
	BeginUpdate()
	EndUpdate()
}

// TypeState is the capability set every per-kind populator implements,
// per spec.md §9: {readSnapshot, discardSnapshot, applyDelta,
// discardDelta, numShards, schema, listeners}. DiscardSnapshot and
// DiscardDelta are free functions (discard.go) rather than methods, since
// a filtered-out type never gets a constructed TypeState to call them on.
type TypeState interface {
	// Schema returns the filtered schema this state was populated with.
	Schema() schema.Schema

	// NumShards returns the shard count decoded from the type's shard
	// preamble.
	NumShards() int

	// ReadSnapshot consumes the type's sub-stream, populating every
	// shard from scratch.
	ReadSnapshot(in *blob.Input, numShards int, rec *recycler.Recycler) error

	// ApplyDelta updates existing shards in place. It must fail if
	// deltaSchema doesn't structurally match the resident schema, or if
	// the delta's shard count disagrees with NumShards().
	ApplyDelta(in *blob.Input, deltaSchema schema.Schema, numShards int, rec *recycler.Recycler) error

	// AddListener registers l to receive BeginUpdate/EndUpdate
	// notifications fanned out by the owning engine.
	AddListener(l Listener)

	// NotifyBeginUpdate and NotifyEndUpdate fan out to every registered
	// listener. Called by the engine, not by TypeState implementations
	// themselves.
	NotifyBeginUpdate()
	NotifyEndUpdate()

	// Populated returns the set of ordinals currently populated across
	// every shard, for tests and primary-key index construction.
	Populated() []int64
}

// baseState holds the fields every kind's TypeState shares.
type baseState struct {
	listeners []Listener
}

func (b *baseState) AddListener(l Listener) { b.listeners = append(b.listeners, l) }

func (b *baseState) NotifyBeginUpdate() {
	for _, l := range b.listeners {
		l.BeginUpdate()
	}
}

func (b *baseState) NotifyEndUpdate() {
	for _, l := range b.listeners {
		l.EndUpdate()
	}
}

// New constructs the TypeState implementation matching s.Kind(), filtered
// through cfg. It does not itself consume any bytes from in; call
// ReadSnapshot on the result to do that.
func New(s schema.Schema, cfg *filter.Config) TypeState {
	switch v := s.(type) {
	case *schema.ObjectSchema:
		filtered := v
		if cfg != nil {
			filtered = cfg.FilterObjectSchema(v)
		}
		return newObjectState(filtered)
	case *schema.ListSchema:
		return newListState(v)
	case *schema.SetSchema:
		return newSetState(v)
	case *schema.MapSchema:
		return newMapState(v)
	default:
		panic("typestate: unknown schema kind")
	}
}
