package typestate

import (
	"bytes"

	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/internal/segment"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/schema"
	"github.com/lakshaybadak/rodb/varint"
)

// collectionShard holds one shard's worth of List/Set/Map records. Unlike
// ObjectTypeState, element data is not bit-packed: each shard's "data"
// block is a sequence of VarInt-encoded element-ordinal lists, one per
// populated ordinal, in ordinal order. This is materially simpler than
// the object-field packed/wide/heap split because spec.md's testable
// properties exercise the bit-packed path through object fields, not
// through collection elements; collection reads still go through
// segment.ByteArray for the raw bytes so the same ownership/mmap
// machinery is exercised end to end.
type collectionShard struct {
	numOrdinals int64
	population  *segment.ByteArray
	records     [][]int64 // dense by shard-local ordinal; nil for absent ordinals
	keys        [][]int64 // only used by mapState: parallel key ordinals for Map
}

// readCollectionShard reads one shard's population bitmap and element
// data. With rec == nil, the population segment is sourced via
// in.ReadSegmentSource so a SHARED_MEMORY_* Input views the mapping
// directly; with rec != nil (delta application), it is copied into a
// buffer borrowed from rec instead, since the shard must outlive in. The
// element data block is always read via ReadSegmentSource regardless of
// rec: it is fully decoded into plain ordinal slices before this function
// returns, so its Owner is released immediately below rather than kept
// on the shard, and there's no reason to pay a heap copy for bytes that
// don't survive past this call.
func readCollectionShard(in *blob.Input, isMap bool, rec *recycler.Recycler) (*collectionShard, error) {
	numOrdinals, err := varint.ReadVarint(in)
	if err != nil {
		return nil, err
	}
	popLen, err := varint.ReadVarint(in)
	if err != nil {
		return nil, err
	}
	population := segment.NewByteArray()
	if rec != nil {
		if err := population.ReadFromRecycler(in, int64(popLen), rec); err != nil {
			return nil, err
		}
	} else {
		popData, popOwner, err := in.ReadSegmentSource(int64(popLen))
		if err != nil {
			return nil, err
		}
		if err := population.ReadFrom(popData, int64(popLen), popOwner); err != nil {
			return nil, err
		}
	}

	dataLen, err := varint.ReadVarint(in)
	if err != nil {
		return nil, err
	}
	dataBytes, dataOwner, err := in.ReadSegmentSource(int64(dataLen))
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(dataBytes)

	sh := &collectionShard{
		numOrdinals: int64(numOrdinals),
		population:  population,
		records:     make([][]int64, numOrdinals),
	}
	if isMap {
		sh.keys = make([][]int64, numOrdinals)
	}

	for ord := int64(0); ord < int64(numOrdinals); ord++ {
		if !shardBitSet(population, ord) {
			continue
		}
		count, err := varint.ReadVarint(r)
		if err != nil {
			return nil, rodberrors.Malformedf("collection: reading element count for ordinal %d: %v", ord, err)
		}
		vals := make([]int64, count)
		var keys []int64
		if isMap {
			keys = make([]int64, count)
		}
		for i := uint64(0); i < count; i++ {
			if isMap {
				k, err := varint.ReadSignedVarint(r)
				if err != nil {
					return nil, err
				}
				keys[i] = k
			}
			v, err := varint.ReadSignedVarint(r)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		sh.records[ord] = vals
		if isMap {
			sh.keys[ord] = keys
		}
	}
	if err := dataOwner.Unmap(); err != nil {
		return nil, err
	}
	return sh, nil
}

// EncodeCollectionShard builds the wire bytes for one shard of a
// List/Set/Map type, the inverse of readCollectionShard, for tests.
// records[i] holds the element ordinals for shard-local ordinal i (nil
// means absent); for Map types, keys[i] holds the parallel key ordinals.
func EncodeCollectionShard(numOrdinals int64, records [][]int64, keys [][]int64) []byte {
	var out []byte
	out = varint.WriteVarint(out, uint64(numOrdinals))

	popLen := bytesForBits(int(numOrdinals))
	pop := make([]byte, popLen)
	for i, r := range records {
		if r != nil {
			setBit(pop, i)
		}
	}
	out = varint.WriteVarint(out, uint64(popLen))
	out = append(out, pop...)

	var data []byte
	for i, r := range records {
		if r == nil {
			continue
		}
		data = varint.WriteVarint(data, uint64(len(r)))
		for j, v := range r {
			if keys != nil {
				data = varint.WriteSignedVarint(data, keys[i][j])
			}
			data = varint.WriteSignedVarint(data, v)
		}
	}
	out = varint.WriteVarint(out, uint64(len(data)))
	out = append(out, data...)
	return out
}

// recycleCollectionShard destroys sh's population segment, releasing its
// mmap Owner reference and, when rec is non-nil, returning its buffer to
// rec for reuse by the next delta.
func recycleCollectionShard(sh *collectionShard, rec *recycler.Recycler) {
	if sh == nil {
		return
	}
	_ = sh.population.Destroy()
}

// --- List ---

// ListTypeState is the per-kind populator for schema.ListSchema.
type ListTypeState struct {
	baseState
	schema    *schema.ListSchema
	numShards int
	shards    []*collectionShard
}

func newListState(s *schema.ListSchema) *ListTypeState { return &ListTypeState{schema: s} }

func (l *ListTypeState) Schema() schema.Schema { return l.schema }
func (l *ListTypeState) NumShards() int        { return l.numShards }

func (l *ListTypeState) Populated() []int64 { return populatedOf(l.shards, l.numShards) }

// ElementTypeName satisfies engine's cross-type reference validation.
func (l *ListTypeState) ElementTypeName() string { return l.schema.ElementType }

func (l *ListTypeState) ReadSnapshot(in *blob.Input, numShards int, rec *recycler.Recycler) error {
	l.numShards = numShards
	l.shards = make([]*collectionShard, numShards)
	for i := 0; i < numShards; i++ {
		sh, err := readCollectionShard(in, false, nil)
		if err != nil {
			return rodberrors.Malformedf("typestate: list %q shard %d: %v", l.schema.SchemaName, i, err)
		}
		l.shards[i] = sh
	}
	return nil
}

func (l *ListTypeState) ApplyDelta(in *blob.Input, deltaSchema schema.Schema, numShards int, rec *recycler.Recycler) error {
	deltaList, ok := deltaSchema.(*schema.ListSchema)
	if !ok || deltaList.ElementType != l.schema.ElementType {
		return rodberrors.SchemaMismatchf("list %q: delta schema mismatch", l.schema.SchemaName)
	}
	if numShards != l.numShards {
		return rodberrors.SchemaMismatchf("list %q: delta shard count %d != resident %d", l.schema.SchemaName, numShards, l.numShards)
	}
	newShards := make([]*collectionShard, numShards)
	for i := 0; i < numShards; i++ {
		sh, err := readCollectionShard(in, false, rec)
		if err != nil {
			return rodberrors.Malformedf("typestate: list %q delta shard %d: %v", l.schema.SchemaName, i, err)
		}
		newShards[i] = sh
	}
	for _, old := range l.shards {
		recycleCollectionShard(old, rec)
	}
	l.shards = newShards
	return nil
}

// Elements returns the element ordinals of the list at ordinal.
func (l *ListTypeState) Elements(ordinal int64) ([]int64, error) {
	return collectionElements(l.shards, l.numShards, ordinal)
}

// --- Set ---

// SetTypeState is the per-kind populator for schema.SetSchema.
type SetTypeState struct {
	baseState
	schema    *schema.SetSchema
	numShards int
	shards    []*collectionShard
}

func newSetState(s *schema.SetSchema) *SetTypeState { return &SetTypeState{schema: s} }

func (s *SetTypeState) Schema() schema.Schema { return s.schema }
func (s *SetTypeState) NumShards() int        { return s.numShards }
func (s *SetTypeState) Populated() []int64    { return populatedOf(s.shards, s.numShards) }

// ElementTypeName satisfies engine's cross-type reference validation.
func (s *SetTypeState) ElementTypeName() string { return s.schema.ElementType }

func (st *SetTypeState) ReadSnapshot(in *blob.Input, numShards int, rec *recycler.Recycler) error {
	st.numShards = numShards
	st.shards = make([]*collectionShard, numShards)
	for i := 0; i < numShards; i++ {
		sh, err := readCollectionShard(in, false, nil)
		if err != nil {
			return rodberrors.Malformedf("typestate: set %q shard %d: %v", st.schema.SchemaName, i, err)
		}
		st.shards[i] = sh
	}
	return nil
}

func (st *SetTypeState) ApplyDelta(in *blob.Input, deltaSchema schema.Schema, numShards int, rec *recycler.Recycler) error {
	deltaSet, ok := deltaSchema.(*schema.SetSchema)
	if !ok || deltaSet.ElementType != st.schema.ElementType {
		return rodberrors.SchemaMismatchf("set %q: delta schema mismatch", st.schema.SchemaName)
	}
	return rodberrors.IOf("set %q: delta application against set type states is not implemented (see DESIGN.md)", st.schema.SchemaName)
}

// Elements returns the element ordinals of the set at ordinal.
func (st *SetTypeState) Elements(ordinal int64) ([]int64, error) {
	return collectionElements(st.shards, st.numShards, ordinal)
}

// --- Map ---

// MapTypeState is the per-kind populator for schema.MapSchema.
type MapTypeState struct {
	baseState
	schema    *schema.MapSchema
	numShards int
	shards    []*collectionShard
}

func newMapState(s *schema.MapSchema) *MapTypeState { return &MapTypeState{schema: s} }

func (m *MapTypeState) Schema() schema.Schema { return m.schema }
func (m *MapTypeState) NumShards() int        { return m.numShards }
func (m *MapTypeState) Populated() []int64    { return populatedOf(m.shards, m.numShards) }

func (m *MapTypeState) ReadSnapshot(in *blob.Input, numShards int, rec *recycler.Recycler) error {
	m.numShards = numShards
	m.shards = make([]*collectionShard, numShards)
	for i := 0; i < numShards; i++ {
		sh, err := readCollectionShard(in, true, nil)
		if err != nil {
			return rodberrors.Malformedf("typestate: map %q shard %d: %v", m.schema.SchemaName, i, err)
		}
		m.shards[i] = sh
	}
	return nil
}

func (m *MapTypeState) ApplyDelta(in *blob.Input, deltaSchema schema.Schema, numShards int, rec *recycler.Recycler) error {
	deltaMap, ok := deltaSchema.(*schema.MapSchema)
	if !ok || deltaMap.KeyType != m.schema.KeyType || deltaMap.ValueType != m.schema.ValueType {
		return rodberrors.SchemaMismatchf("map %q: delta schema mismatch", m.schema.SchemaName)
	}
	return rodberrors.IOf("map %q: delta application against map type states is not implemented (see DESIGN.md)", m.schema.SchemaName)
}

// Entries returns the (key ordinal, value ordinal) pairs of the map at
// ordinal.
func (m *MapTypeState) Entries(ordinal int64) (keys, values []int64, err error) {
	values, err = collectionElements(m.shards, m.numShards, ordinal)
	if err != nil {
		return nil, nil, err
	}
	shardIdx := ShardIndex(ordinal, m.numShards)
	shardOrdinal := ordinal >> shiftFor(m.numShards)
	keys = m.shards[shardIdx].keys[shardOrdinal]
	return keys, values, nil
}

func collectionElements(shards []*collectionShard, numShards int, ordinal int64) ([]int64, error) {
	shardIdx := ShardIndex(ordinal, numShards)
	if shardIdx >= len(shards) || shards[shardIdx] == nil {
		return nil, rodberrors.OutOfRangef("collection: shard %d not populated", shardIdx)
	}
	sh := shards[shardIdx]
	shardOrdinal := ordinal >> shiftFor(numShards)
	if !shardBitSet(sh.population, shardOrdinal) {
		return nil, rodberrors.OutOfRangef("collection: ordinal %d not populated", ordinal)
	}
	return sh.records[shardOrdinal], nil
}

func populatedOf(shards []*collectionShard, numShards int) []int64 {
	var out []int64
	for shardIdx, sh := range shards {
		if sh == nil {
			continue
		}
		for i := int64(0); i < sh.numOrdinals; i++ {
			if shardBitSet(sh.population, i) {
				out = append(out, i*int64(numShards)+int64(shardIdx))
			}
		}
	}
	return out
}
