package typestate

import (
	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/schema"
	"github.com/lakshaybadak/rodb/varint"
)

// DiscardSnapshot advances past a filtered-out type's sub-stream without
// retaining any data (spec.md §4.7). It needs only the schema's kind, not
// its filtered fields, since every shard's payload is self-length-prefixed
// on the wire (see object.go/collection.go's wire formats) specifically so
// that discarding never has to interpret field-kind-specific bytes.
func DiscardSnapshot(in *blob.Input, s schema.Schema, numShards int) error {
	for i := 0; i < numShards; i++ {
		if err := discardOneShard(in, s.Kind()); err != nil {
			return rodberrors.Malformedf("typestate: discarding shard %d of %q: %v", i, s.Name(), err)
		}
	}
	return nil
}

// DiscardDelta is the filtered-out analogue for delta sub-streams: the
// delta wire format uses the identical per-shard framing as a snapshot
// (spec.md §4.9), so discarding is identical.
func DiscardDelta(in *blob.Input, s schema.Schema, numShards int) error {
	return DiscardSnapshot(in, s, numShards)
}

func discardOneShard(in *blob.Input, kind schema.Kind) error {
	if _, err := varint.ReadVarint(in); err != nil { // numOrdinals
		return err
	}
	popLen, err := varint.ReadVarint(in)
	if err != nil {
		return err
	}
	if err := in.Skip(int64(popLen)); err != nil {
		return err
	}

	switch kind {
	case schema.KindObject:
		numBlocks, err := varint.ReadVarint(in)
		if err != nil {
			return err
		}
		for i := uint64(0); i < numBlocks; i++ {
			blockLen, err := varint.ReadVarint(in)
			if err != nil {
				return err
			}
			if err := in.Skip(int64(blockLen)); err != nil {
				return err
			}
		}
		return nil
	case schema.KindList, schema.KindSet, schema.KindMap:
		dataLen, err := varint.ReadVarint(in)
		if err != nil {
			return err
		}
		return in.Skip(int64(dataLen))
	default:
		return rodberrors.Malformedf("typestate: discard: unknown kind %v", kind)
	}
}
