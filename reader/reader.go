// Package reader implements the top-level blob reader named in
// spec.md §4.9: the snapshot/delta walker that reads a header, then
// each type's schema and shard preamble, and dispatches to the
// matching typestate populator (or discards it if filtered out).
// Grounded on version_edit.go's top-level decode loop — read a
// length-prefixed record, dispatch by a leading tag, repeat — adapted
// here to "read schema, read shard preamble, dispatch by filter".
package reader

import (
	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/engine"
	"github.com/lakshaybadak/rodb/filter"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/schema"
	"github.com/lakshaybadak/rodb/typestate"
	"github.com/lakshaybadak/rodb/varint"
)

// ReadSnapshot walks a full snapshot blob per spec.md §4.9 and populates
// eng in place. cfg may be nil, meaning "include everything"
// (filter.NewConfig(true) semantics without allocating one).
func ReadSnapshot(in *blob.Input, eng *engine.StateEngine, cfg *filter.Config) (blob.Header, error) {
	header, err := blob.ReadHeader(in)
	if err != nil {
		return blob.Header{}, err
	}

	eng.NotifyBeginUpdate()

	numTypes, err := varint.ReadVarint(in)
	if err != nil {
		return blob.Header{}, rodberrors.Malformedf("reader: reading numTypes: %v", err)
	}

	for i := uint64(0); i < numTypes; i++ {
		s, err := schema.Decode(in)
		if err != nil {
			return blob.Header{}, rodberrors.Malformedf("reader: decoding schema %d: %v", i, err)
		}
		numShards, err := typestate.DecodeShardPreamble(in)
		if err != nil {
			return blob.Header{}, err
		}

		if cfg != nil && !cfg.DoesIncludeType(s.Name()) {
			if err := typestate.DiscardSnapshot(in, s, numShards); err != nil {
				return blob.Header{}, err
			}
			continue
		}

		ts := typestate.New(s, cfg)
		if err := ts.ReadSnapshot(in, numShards, eng.Recycler()); err != nil {
			return blob.Header{}, err
		}
		eng.AddTypeState(s.Name(), ts)
	}

	if err := eng.WireTypeStatesToSchemas(); err != nil {
		return blob.Header{}, err
	}

	eng.SetRandomizedTag(destinationTag(header))
	eng.SetHeaderTags(header.Tags)

	eng.NotifyEndUpdate()
	eng.AfterInitialization()

	return header, nil
}

// destinationTag returns header's carried destination tag, or a
// deterministic fallback derived from the rest of the header when the
// producer left it at zero, so the engine's randomized tag is never
// indistinguishable from "never initialized."
func destinationTag(header blob.Header) uint64 {
	if header.DestinationRandomizedTag != 0 {
		return header.DestinationRandomizedTag
	}
	return blob.FallbackRandomizedTag(header)
}

// ReadDelta walks a delta blob per spec.md §4.9, applying it to the
// type states already registered in eng and discarding sub-streams for
// types eng doesn't have. The delta's origin tag must equal eng's
// current randomized tag.
func ReadDelta(in *blob.Input, eng *engine.StateEngine, cfg *filter.Config) (blob.Header, error) {
	header, err := blob.ReadHeader(in)
	if err != nil {
		return blob.Header{}, err
	}
	if header.OriginRandomizedTag != eng.RandomizedTag() {
		return blob.Header{}, rodberrors.WrongOriginf("reader: delta origin tag %#x != engine tag %#x", header.OriginRandomizedTag, eng.RandomizedTag())
	}

	eng.NotifyBeginUpdate()

	numTypes, err := varint.ReadVarint(in)
	if err != nil {
		return blob.Header{}, rodberrors.Malformedf("reader: reading numTypes: %v", err)
	}

	for i := uint64(0); i < numTypes; i++ {
		s, err := schema.Decode(in)
		if err != nil {
			return blob.Header{}, rodberrors.Malformedf("reader: decoding delta schema %d: %v", i, err)
		}
		numShards, err := typestate.DecodeShardPreamble(in)
		if err != nil {
			return blob.Header{}, err
		}

		ts, ok := eng.GetTypeState(s.Name())
		if !ok {
			if err := typestate.DiscardDelta(in, s, numShards); err != nil {
				return blob.Header{}, err
			}
			continue
		}
		if err := ts.ApplyDelta(in, s, numShards, eng.Recycler()); err != nil {
			return blob.Header{}, err
		}
		if eng.Recycler() != nil {
			eng.Recycler().Swap()
		}
	}

	eng.SetRandomizedTag(destinationTag(header))
	eng.SetHeaderTags(header.Tags)

	eng.NotifyEndUpdate()

	return header, nil
}
