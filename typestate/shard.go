package typestate

import (
	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/varint"
)

// ShardIndex returns the shard holding ordinal under numShards shards, per
// spec.md §4.7: "the shard index of an ordinal is ordinal & (numShards-1)".
// Grounded on internal/cache/entry.go's identical hash&(numShards-1)
// sharding formula, reused verbatim for ordinals instead of key hashes.
func ShardIndex(ordinal int64, numShards int) int {
	return int(ordinal & int64(numShards-1))
}

// DecodeShardPreamble reads the ShardPreamble framing defined in spec.md
// §6 and returns the decoded shard count, skipping any
// forwards-compatibility padding it doesn't understand.
func DecodeShardPreamble(in *blob.Input) (numShards int, err error) {
	v0, err := varint.ReadVarint(in)
	if err != nil {
		return 0, rodberrors.Malformedf("typestate: reading shard preamble v0: %v", err)
	}
	if v0 == 0 {
		return 1, nil // pre-sharding format sentinel
	}

	fwdCompatLen, err := varint.ReadVarint(in)
	if err != nil {
		return 0, rodberrors.Malformedf("typestate: reading forwards-compat length: %v", err)
	}
	if fwdCompatLen > 0 {
		if err := in.Skip(int64(fwdCompatLen)); err != nil {
			return 0, rodberrors.Malformedf("typestate: skipping %d forwards-compat bytes: %v", fwdCompatLen, err)
		}
	}

	shards, err := varint.ReadVarint(in)
	if err != nil {
		return 0, rodberrors.Malformedf("typestate: reading shard count: %v", err)
	}
	if shards == 0 || shards&(shards-1) != 0 {
		return 0, rodberrors.Malformedf("typestate: shard count %d is not a power of two", shards)
	}
	return int(shards), nil
}

// EncodeShardPreamble is the inverse of DecodeShardPreamble, used by tests
// to build in-process blob fixtures. It always writes the
// forwards-compatible v0!=0 form with zero padding bytes.
func EncodeShardPreamble(dst []byte, numShards int) []byte {
	dst = varint.WriteVarint(dst, 1) // v0 != 0
	dst = varint.WriteVarint(dst, 0) // fwdCompatLen
	dst = varint.WriteVarint(dst, uint64(numShards))
	return dst
}
