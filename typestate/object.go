package typestate

import (
	"strconv"

	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/internal/segment"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/schema"
	"github.com/lakshaybadak/rodb/varint"
)

// fieldKind is the wire-level marker distinguishing how a field's block is
// laid out, independent of schema.FieldType: it groups field types by
// storage strategy rather than by logical type.
type fieldKind byte

const (
	fieldKindPacked fieldKind = 0 // bit-packed LongArray, spans <=58 bits/value
	fieldKindWide   fieldKind = 1 // one full 64-bit word per ordinal
	fieldKindHeap   fieldKind = 2 // variable-width bytes behind offset/length
)

func kindOf(t schema.FieldType) fieldKind {
	switch t {
	case schema.FieldLong, schema.FieldDouble:
		return fieldKindWide
	case schema.FieldString, schema.FieldBytes:
		return fieldKindHeap
	default: // Boolean, Int, Float, Reference
		return fieldKindPacked
	}
}

// packedWidthOf returns the value-bit-width (excluding the presence bit)
// for a packed field.
func packedWidthOf(t schema.FieldType) int {
	switch t {
	case schema.FieldBoolean:
		return boolValueBits
	default: // Int, Float, Reference
		return int32ValueBits
	}
}

// objectField holds one included field's decoded storage, keyed by
// ordinal within a shard.
type objectField struct {
	kind fieldKind

	packed   *segment.LongArray
	bitWidth int // value bits + 1 presence bit

	wideVals *segment.LongArray
	wideNull *segment.ByteArray

	heapBytes   *segment.ByteArray
	heapOffsets *segment.LongArray
	heapLengths *segment.LongArray
	heapNull    *segment.ByteArray
}

type objectShard struct {
	numOrdinals int64
	population  *segment.ByteArray // 1 bit/ordinal, 1 = present
	fields      []*objectField     // parallel to filtered schema fields; nil where excluded
}

// ObjectTypeState is the per-kind populator for schema.ObjectSchema.
type ObjectTypeState struct {
	baseState
	filtered  *schema.ObjectSchema
	numShards int
	shards    []*objectShard
}

func newObjectState(filtered *schema.ObjectSchema) *ObjectTypeState {
	return &ObjectTypeState{filtered: filtered}
}

func (o *ObjectTypeState) Schema() schema.Schema { return o.filtered }
func (o *ObjectTypeState) NumShards() int        { return o.numShards }

// Populated returns every ordinal present in any shard, reconstructed
// from ordinal = shardIndex + shardOrdinal*numShards... actually the
// inverse of ShardIndex: an ordinal o lives in shard o&(numShards-1), and
// within the shard its dense position is o>>log2(numShards). We recover o
// by iterating each shard's population bitmap and reversing that map.
func (o *ObjectTypeState) Populated() []int64 {
	var out []int64
	for shardIdx, sh := range o.shards {
		if sh == nil {
			continue
		}
		for i := int64(0); i < sh.numOrdinals; i++ {
			if shardBitSet(sh.population, i) {
				out = append(out, i*int64(o.numShards)+int64(shardIdx))
			}
		}
	}
	return out
}

// BuildPrimaryKeyIndex satisfies engine's primaryKeyIndexable interface.
// It only indexes a single-segment PrimaryKeyPath naming an included
// Int32 or String field; any other shape (multi-segment path, unindexed
// field type, or no primary key at all) yields a nil index, which the
// engine simply omits rather than treating as an error.
func (o *ObjectTypeState) BuildPrimaryKeyIndex() map[string]int64 {
	if len(o.filtered.PrimaryKeyPath) != 1 {
		return nil
	}
	fieldName := o.filtered.PrimaryKeyPath[0]
	idx := o.filtered.FieldIndex(fieldName)
	if idx < 0 {
		return nil
	}
	switch o.filtered.Fields[idx].Type {
	case schema.FieldInt, schema.FieldString:
	default:
		return nil
	}

	out := make(map[string]int64)
	for _, ordinal := range o.Populated() {
		var key string
		switch o.filtered.Fields[idx].Type {
		case schema.FieldInt:
			v, present, err := o.GetInt32(ordinal, fieldName)
			if err != nil || !present {
				continue
			}
			key = strconv.FormatInt(int64(v), 10)
		case schema.FieldString:
			v, present, err := o.GetString(ordinal, fieldName)
			if err != nil || !present {
				continue
			}
			key = v
		}
		out[key] = ordinal
	}
	return out
}

func shardBitSet(pop *segment.ByteArray, i int64) bool {
	b, err := pop.Get(i / 8)
	if err != nil {
		return false
	}
	return b&(1<<uint(i%8)) != 0
}

// ReadSnapshot consumes the type's sub-stream per spec.md §4.7: one shard
// payload per shard, each self-length-prefixed per field block so that a
// caller filtering a field out can skip it without decoding it.
func (o *ObjectTypeState) ReadSnapshot(in *blob.Input, numShards int, rec *recycler.Recycler) error {
	o.numShards = numShards
	o.shards = make([]*objectShard, numShards)
	for i := 0; i < numShards; i++ {
		// A snapshot's shards view the snapshot blob's own mapping for as
		// long as they're resident (spec.md §1/§2), so readShard is never
		// given a recycler here even if the engine has one configured: the
		// recycler only copies data in for delta application, where the
		// source blob is transient and can't be held open indefinitely.
		sh, err := o.readShard(in, nil)
		if err != nil {
			return rodberrors.Malformedf("typestate: object %q shard %d: %v", o.filtered.SchemaName, i, err)
		}
		o.shards[i] = sh
	}
	return nil
}

// readShard reads one shard's payload. With rec == nil, each sub-array is
// sourced via in.ReadSegmentSource, so under a SHARED_MEMORY_* Input the
// resulting segments view the file's mapping directly with no heap copy.
// With rec != nil (delta application), each sub-array is instead copied
// into a buffer borrowed from rec, since the data must outlive in (closed
// once the delta blob has been fully applied).
func (o *ObjectTypeState) readShard(in *blob.Input, rec *recycler.Recycler) (*objectShard, error) {
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

	numBlocks, err := varint.ReadVarint(in)
	if err != nil {
		return nil, err
	}
	if int(numBlocks) != len(o.filtered.Fields) {
		return nil, rodberrors.Malformedf("object %q: wire has %d field blocks, schema has %d", o.filtered.SchemaName, numBlocks, len(o.filtered.Fields))
	}

	sh := &objectShard{
		numOrdinals: int64(numOrdinals),
		population:  population,
		fields:      make([]*objectField, numBlocks),
	}

	for i := uint64(0); i < numBlocks; i++ {
		blockLen, err := varint.ReadVarint(in)
		if err != nil {
			return nil, err
		}
		included := o.filtered.Fields[i].Name != ""
		if !included {
			if err := in.Skip(int64(blockLen)); err != nil {
				return nil, err
			}
			continue
		}
		startPos := in.Position()
		field, err := decodeFieldBlock(in, rec, o.filtered.Fields[i].Type, int64(numOrdinals))
		if err != nil {
			return nil, rodberrors.Malformedf("object %q field %q: %v", o.filtered.SchemaName, o.filtered.Fields[i].Name, err)
		}
		if consumed := in.Position() - startPos; consumed != int64(blockLen) {
			return nil, rodberrors.Malformedf("object %q field %q: block framing mismatch: declared %d bytes, consumed %d", o.filtered.SchemaName, o.filtered.Fields[i].Name, blockLen, consumed)
		}
		sh.fields[i] = field
	}
	return sh, nil
}

// ApplyDelta implements the copy-on-apply-into-recycler-owned-segments
// approach documented in DESIGN.md for delta against a (possibly mmap'd)
// object type state: the delta stream carries the same per-shard, full
// re-population framing as a snapshot (spec.md §4.9 names this the
// acknowledged partial implementation), so applying it here replaces each
// shard wholesale via recycler-owned buffers rather than mutating mapped
// segments in place.
func (o *ObjectTypeState) ApplyDelta(in *blob.Input, deltaSchema schema.Schema, numShards int, rec *recycler.Recycler) error {
	deltaObj, ok := deltaSchema.(*schema.ObjectSchema)
	if !ok {
		return rodberrors.SchemaMismatchf("object %q: delta schema kind mismatch", o.filtered.SchemaName)
	}
	if !schema.Equal(o.filtered, deltaObj) && !schemaFieldNamesMatch(o.filtered, deltaObj) {
		return rodberrors.SchemaMismatchf("object %q: delta schema does not match resident schema", o.filtered.SchemaName)
	}
	if numShards != o.numShards {
		return rodberrors.SchemaMismatchf("object %q: delta shard count %d != resident %d", o.filtered.SchemaName, numShards, o.numShards)
	}
	newShards := make([]*objectShard, numShards)
	for i := 0; i < numShards; i++ {
		sh, err := o.readShard(in, rec)
		if err != nil {
			return rodberrors.Malformedf("typestate: object %q delta shard %d: %v", o.filtered.SchemaName, i, err)
		}
		newShards[i] = sh
	}
	// Recycle the buffers backing the superseded shards before swapping
	// them out, giving the recycler's next generation something to
	// reuse. This also releases any mmap Owner the superseded shards
	// still held, whether or not a recycler is configured.
	for _, old := range o.shards {
		if old != nil {
			recycleObjectShard(old, rec)
		}
	}
	o.shards = newShards
	return nil
}

// recycleObjectShard destroys every segment backing sh, releasing its
// mmap Owner reference and, when rec is non-nil, returning the segment's
// buffer to rec for reuse by the next delta.
func recycleObjectShard(sh *objectShard, rec *recycler.Recycler) {
	_ = sh.population.Destroy()
	for _, f := range sh.fields {
		if f == nil {
			continue
		}
		switch f.kind {
		case fieldKindPacked:
			_ = f.packed.Destroy()
		case fieldKindWide:
			_ = f.wideVals.Destroy()
			_ = f.wideNull.Destroy()
		case fieldKindHeap:
			_ = f.heapBytes.Destroy()
			_ = f.heapOffsets.Destroy()
			_ = f.heapLengths.Destroy()
			_ = f.heapNull.Destroy()
		}
	}
}

func schemaFieldNamesMatch(a, b *schema.ObjectSchema) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].Name == "" {
			continue // excluded on our side; wire may still carry it
		}
		if a.Fields[i].Name != b.Fields[i].Name || a.Fields[i].Type != b.Fields[i].Type {
			return false
		}
	}
	return true
}

// --- field accessors ---

// GetBool, GetInt32, GetFloat32, GetRef, GetLong, GetDouble, GetString,
// and GetBytes each return (value, present, error) for one ordinal of one
// included field. present is false for a null value or for an ordinal
// that isn't populated.

func (o *ObjectTypeState) field(ordinal int64, fieldName string) (*objectField, int64, error) {
	idx := o.filtered.FieldIndex(fieldName)
	if idx < 0 || o.filtered.Fields[idx].Name == "" {
		return nil, 0, rodberrors.OutOfRangef("object %q: field %q not included", o.filtered.SchemaName, fieldName)
	}
	numShards := o.numShards
	shardIdx := ShardIndex(ordinal, numShards)
	sh := o.shards[shardIdx]
	shardOrdinal := ordinal >> shiftFor(numShards)
	if !shardBitSet(sh.population, shardOrdinal) {
		return nil, 0, rodberrors.OutOfRangef("object %q: ordinal %d not populated", o.filtered.SchemaName, ordinal)
	}
	return sh.fields[idx], shardOrdinal, nil
}

func shiftFor(numShards int) uint {
	s := uint(0)
	for (1 << s) < numShards {
		s++
	}
	return s
}

// GetInt32 returns the int32 value of fieldName for ordinal.
func (o *ObjectTypeState) GetInt32(ordinal int64, fieldName string) (int32, bool, error) {
	f, shardOrdinal, err := o.field(ordinal, fieldName)
	if err != nil {
		return 0, false, err
	}
	if f == nil || f.kind != fieldKindPacked {
		return 0, false, rodberrors.OutOfRangef("field %q is not a packed int field", fieldName)
	}
	v, present, err := readPacked(f, shardOrdinal)
	if err != nil || !present {
		return 0, present, err
	}
	return int32(v), true, nil
}

// GetBool returns the bool value of fieldName for ordinal.
func (o *ObjectTypeState) GetBool(ordinal int64, fieldName string) (bool, bool, error) {
	f, shardOrdinal, err := o.field(ordinal, fieldName)
	if err != nil {
		return false, false, err
	}
	if f == nil || f.kind != fieldKindPacked {
		return false, false, rodberrors.OutOfRangef("field %q is not a packed bool field", fieldName)
	}
	v, present, err := readPacked(f, shardOrdinal)
	if err != nil || !present {
		return false, present, err
	}
	return v != 0, true, nil
}

// GetRef returns the reference-ordinal value of fieldName for ordinal.
func (o *ObjectTypeState) GetRef(ordinal int64, fieldName string) (int64, bool, error) {
	f, shardOrdinal, err := o.field(ordinal, fieldName)
	if err != nil {
		return 0, false, err
	}
	if f == nil || f.kind != fieldKindPacked {
		return 0, false, rodberrors.OutOfRangef("field %q is not a reference field", fieldName)
	}
	v, present, err := readPacked(f, shardOrdinal)
	if err != nil || !present {
		return 0, present, err
	}
	return int64(v), true, nil
}

// GetLong returns the int64 value of fieldName for ordinal.
func (o *ObjectTypeState) GetLong(ordinal int64, fieldName string) (int64, bool, error) {
	f, shardOrdinal, err := o.field(ordinal, fieldName)
	if err != nil {
		return 0, false, err
	}
	if f == nil || f.kind != fieldKindWide {
		return 0, false, rodberrors.OutOfRangef("field %q is not a wide long field", fieldName)
	}
	if getBitFromByteArray(f.wideNull, shardOrdinal) {
		return 0, false, nil
	}
	v, err := f.wideVals.Get(shardOrdinal)
	if err != nil {
		return 0, false, err
	}
	return int64(v), true, nil
}

// GetString returns the string value of fieldName for ordinal.
func (o *ObjectTypeState) GetString(ordinal int64, fieldName string) (string, bool, error) {
	f, shardOrdinal, err := o.field(ordinal, fieldName)
	if err != nil {
		return "", false, err
	}
	if f == nil || f.kind != fieldKindHeap {
		return "", false, rodberrors.OutOfRangef("field %q is not a heap field", fieldName)
	}
	if getBitFromByteArray(f.heapNull, shardOrdinal) {
		return "", false, nil
	}
	off, err := f.heapOffsets.Get(shardOrdinal)
	if err != nil {
		return "", false, err
	}
	length, err := f.heapLengths.Get(shardOrdinal)
	if err != nil {
		return "", false, err
	}
	buf := make([]byte, length)
	for i := int64(0); i < int64(length); i++ {
		b, err := f.heapBytes.Get(int64(off) + i)
		if err != nil {
			return "", false, err
		}
		buf[i] = b
	}
	return string(buf), true, nil
}

// GetFloat32 returns the float32 value of fieldName for ordinal, stored
// as its raw IEEE-754 bit pattern in the packed stream.
func (o *ObjectTypeState) GetFloat32(ordinal int64, fieldName string) (float32, bool, error) {
	f, shardOrdinal, err := o.field(ordinal, fieldName)
	if err != nil {
		return 0, false, err
	}
	if f == nil || f.kind != fieldKindPacked {
		return 0, false, rodberrors.OutOfRangef("field %q is not a packed float field", fieldName)
	}
	v, present, err := readPacked(f, shardOrdinal)
	if err != nil || !present {
		return 0, present, err
	}
	return float32FromBits(uint32(v)), true, nil
}

// GetDouble returns the float64 value of fieldName for ordinal, stored as
// its raw IEEE-754 bit pattern in the wide word array.
func (o *ObjectTypeState) GetDouble(ordinal int64, fieldName string) (float64, bool, error) {
	f, shardOrdinal, err := o.field(ordinal, fieldName)
	if err != nil {
		return 0, false, err
	}
	if f == nil || f.kind != fieldKindWide {
		return 0, false, rodberrors.OutOfRangef("field %q is not a wide double field", fieldName)
	}
	if getBitFromByteArray(f.wideNull, shardOrdinal) {
		return 0, false, nil
	}
	v, err := f.wideVals.Get(shardOrdinal)
	if err != nil {
		return 0, false, err
	}
	return float64FromBits(v), true, nil
}

// GetBytes returns the []byte value of fieldName for ordinal.
func (o *ObjectTypeState) GetBytes(ordinal int64, fieldName string) ([]byte, bool, error) {
	s, present, err := o.GetString(ordinal, fieldName)
	if err != nil || !present {
		return nil, present, err
	}
	return []byte(s), true, nil
}

func getBitFromByteArray(arr *segment.ByteArray, i int64) bool {
	if arr == nil {
		return false
	}
	b, err := arr.Get(i / 8)
	if err != nil {
		return false
	}
	return b&(1<<uint(i%8)) != 0
}

func readPacked(f *objectField, shardOrdinal int64) (uint64, bool, error) {
	raw, err := f.packed.GetElementValue(shardOrdinal*int64(f.bitWidth), f.bitWidth)
	if err != nil {
		return 0, false, err
	}
	presentBit := raw >> uint(f.bitWidth-1)
	value := raw &^ (uint64(1) << uint(f.bitWidth-1))
	return value, presentBit != 0, nil
}
