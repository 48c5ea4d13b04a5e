package typestate

import (
	"encoding/binary"

	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/internal/segment"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/schema"
	"github.com/lakshaybadak/rodb/varint"
)

// ObjectFieldValue is one ordinal's value for one field, used by
// EncodeObjectShard to build in-process test fixtures. Exactly one of the
// typed fields is meaningful, selected by the field's schema.FieldType;
// Present=false means the field is null for this ordinal.
type ObjectFieldValue struct {
	Present bool
	Bool    bool
	Int32   int32
	Float32 float32
	Ref     int64
	Long    int64
	Double  float64
	Str     string
	Bytes   []byte
}

// EncodeObjectShard builds the wire bytes for one shard of an object
// type, given the *stored* (unfiltered) schema, the set of ordinals
// present in this shard (dense shard-local indices), and their field
// values. It is the inverse of (*ObjectTypeState).readShard and exists
// for tests to construct in-process blob fixtures without a producer.
func EncodeObjectShard(stored *schema.ObjectSchema, numOrdinals int64, values map[int64][]ObjectFieldValue) []byte {
	var out []byte
	out = varint.WriteVarint(out, uint64(numOrdinals))

	popLen := bytesForBits(int(numOrdinals))
	pop := make([]byte, popLen)
	for ord := range values {
		setBit(pop, int(ord))
	}
	out = varint.WriteVarint(out, uint64(popLen))
	out = append(out, pop...)

	out = varint.WriteVarint(out, uint64(len(stored.Fields)))
	for fi, f := range stored.Fields {
		block := encodeFieldBlock(f.Type, numOrdinals, fi, values)
		out = varint.WriteVarint(out, uint64(len(block)))
		out = append(out, block...)
	}
	return out
}

func encodeFieldBlock(t schema.FieldType, numOrdinals int64, fieldIdx int, values map[int64][]ObjectFieldValue) []byte {
	switch kindOf(t) {
	case fieldKindPacked:
		width := bitWidthFor(packedWidthOf(t))
		numLongs := (numOrdinals*int64(width) + 63) / 64
		if numLongs == 0 {
			numLongs = 1
		}
		words := make([]uint64, numLongs)
		for ord := int64(0); ord < numOrdinals; ord++ {
			var raw uint64
			if vs, ok := values[ord]; ok && fieldIdx < len(vs) && vs[fieldIdx].Present {
				v := vs[fieldIdx]
				var val uint64
				switch t {
				case schema.FieldBoolean:
					if v.Bool {
						val = 1
					}
				case schema.FieldFloat:
					val = uint64(float32Bits(v.Float32))
				default: // Int, Reference
					if t == schema.FieldReference {
						val = uint64(v.Ref)
					} else {
						val = uint64(uint32(v.Int32))
					}
				}
				raw = val | (uint64(1) << uint(width-1))
			}
			setBitsLE(words, ord*int64(width), width, raw)
		}
		buf := make([]byte, numLongs*8)
		for i, w := range words {
			binary.LittleEndian.PutUint64(buf[i*8:i*8+8], w)
		}
		var block []byte
		block = varint.WriteVarint(block, uint64(width))
		block = varint.WriteVarint(block, uint64(len(buf)))
		block = append(block, buf...)
		return block

	case fieldKindWide:
		nullLen := bytesForBits(int(numOrdinals))
		nullBitmap := make([]byte, nullLen)
		wide := make([]byte, numOrdinals*8)
		for ord := int64(0); ord < numOrdinals; ord++ {
			vs, ok := values[ord]
			present := ok && fieldIdx < len(vs) && vs[fieldIdx].Present
			if !present {
				setBit(nullBitmap, int(ord))
				continue
			}
			v := vs[fieldIdx]
			var raw uint64
			if t == schema.FieldDouble {
				raw = float64Bits(v.Double)
			} else {
				raw = uint64(v.Long)
			}
			binary.LittleEndian.PutUint64(wide[ord*8:ord*8+8], raw)
		}
		var block []byte
		block = varint.WriteVarint(block, uint64(len(nullBitmap)))
		block = append(block, nullBitmap...)
		block = varint.WriteVarint(block, uint64(len(wide)))
		block = append(block, wide...)
		return block

	case fieldKindHeap:
		nullLen := bytesForBits(int(numOrdinals))
		nullBitmap := make([]byte, nullLen)
		offsets := make([]byte, numOrdinals*8)
		lengths := make([]byte, numOrdinals*8)
		var heap []byte
		for ord := int64(0); ord < numOrdinals; ord++ {
			vs, ok := values[ord]
			present := ok && fieldIdx < len(vs) && vs[fieldIdx].Present
			if !present {
				setBit(nullBitmap, int(ord))
				continue
			}
			v := vs[fieldIdx]
			var raw []byte
			if t == schema.FieldBytes {
				raw = v.Bytes
			} else {
				raw = []byte(v.Str)
			}
			binary.LittleEndian.PutUint64(offsets[ord*8:ord*8+8], uint64(len(heap)))
			binary.LittleEndian.PutUint64(lengths[ord*8:ord*8+8], uint64(len(raw)))
			heap = append(heap, raw...)
		}
		var block []byte
		block = varint.WriteVarint(block, uint64(len(nullBitmap)))
		block = append(block, nullBitmap...)
		block = varint.WriteVarint(block, uint64(len(offsets)))
		block = append(block, offsets...)
		block = varint.WriteVarint(block, uint64(len(lengths)))
		block = append(block, lengths...)
		block = varint.WriteVarint(block, uint64(len(heap)))
		block = append(block, heap...)
		return block
	}
	return nil
}

func setBitsLE(words []uint64, bitOffset int64, width int, value uint64) {
	wordIdx := bitOffset / 64
	bitInWord := uint(bitOffset % 64)
	mask := uint64(1)<<uint(width) - 1
	value &= mask
	words[wordIdx] |= value << bitInWord
	if bitInWord+uint(width) > 64 {
		words[wordIdx+1] |= value >> (64 - bitInWord)
	}
}

// decodeFieldBlock reads one field's block directly off in. With rec == nil,
// each sub-array's payload is sourced via in.ReadSegmentSource so that under
// a SHARED_MEMORY_* Input the resulting segments view the file's mapping
// instead of a heap copy, each with its own Owner reference (spec.md §5's
// ownership contract: Unmap is released once per view, not once per block).
// With rec != nil (delta application), each sub-array is instead copied into
// buffers borrowed from rec, since the delta blob won't outlive this call.
func decodeFieldBlock(in *blob.Input, rec *recycler.Recycler, t schema.FieldType, numOrdinals int64) (*objectField, error) {
	switch kindOf(t) {
	case fieldKindPacked:
		width, err := varint.ReadVarint(in)
		if err != nil {
			return nil, err
		}
		packedByteLen, err := varint.ReadVarint(in)
		if err != nil {
			return nil, err
		}
		numLongs := int64(packedByteLen) / 8
		if numLongs == 0 {
			return nil, rodberrors.Malformedf("packed field: empty payload")
		}
		arr := segment.NewLongArray()
		if rec != nil {
			if err := arr.ReadFromRecycler(in, numLongs, rec); err != nil {
				return nil, err
			}
		} else {
			data, owner, err := in.ReadSegmentSource(int64(packedByteLen))
			if err != nil {
				return nil, err
			}
			if err := arr.ReadFrom(data, numLongs, owner); err != nil {
				return nil, err
			}
		}
		return &objectField{kind: fieldKindPacked, packed: arr, bitWidth: int(width)}, nil

	case fieldKindWide:
		nullArr, err := readByteSubArray(in, rec)
		if err != nil {
			return nil, err
		}
		wideLen, err := varint.ReadVarint(in)
		if err != nil {
			return nil, err
		}
		valsArr := segment.NewLongArray()
		if wideLen > 0 {
			if rec != nil {
				if err := valsArr.ReadFromRecycler(in, int64(wideLen)/8, rec); err != nil {
					return nil, err
				}
			} else {
				data, owner, err := in.ReadSegmentSource(int64(wideLen))
				if err != nil {
					return nil, err
				}
				if err := valsArr.ReadFrom(data, int64(wideLen)/8, owner); err != nil {
					return nil, err
				}
			}
		}
		return &objectField{kind: fieldKindWide, wideVals: valsArr, wideNull: nullArr}, nil

	case fieldKindHeap:
		nullArr, err := readByteSubArray(in, rec)
		if err != nil {
			return nil, err
		}
		offArr, err := readLongSubArray(in, rec)
		if err != nil {
			return nil, err
		}
		lenArr, err := readLongSubArray(in, rec)
		if err != nil {
			return nil, err
		}
		heapLen, err := varint.ReadVarint(in)
		if err != nil {
			return nil, err
		}
		heapArr := segment.NewByteArray()
		if heapLen > 0 {
			if rec != nil {
				if err := heapArr.ReadFromRecycler(in, int64(heapLen), rec); err != nil {
					return nil, err
				}
			} else {
				data, owner, err := in.ReadSegmentSource(int64(heapLen))
				if err != nil {
					return nil, err
				}
				if err := heapArr.ReadFrom(data, int64(heapLen), owner); err != nil {
					return nil, err
				}
			}
		}

		return &objectField{
			kind:        fieldKindHeap,
			heapBytes:   heapArr,
			heapOffsets: offArr,
			heapLengths: lenArr,
			heapNull:    nullArr,
		}, nil
	}
	return nil, rodberrors.Malformedf("decodeFieldBlock: unsupported field type %v", t)
}

// readByteSubArray reads a VarInt length followed by that many bytes into a
// fresh segment.ByteArray, sourced via in.ReadSegmentSource when rec == nil
// or copied through rec otherwise. Used for the null-bitmap sub-block
// shared by the wide and heap field kinds.
func readByteSubArray(in *blob.Input, rec *recycler.Recycler) (*segment.ByteArray, error) {
	length, err := varint.ReadVarint(in)
	if err != nil {
		return nil, err
	}
	arr := segment.NewByteArray()
	if length == 0 {
		return arr, nil
	}
	if rec != nil {
		if err := arr.ReadFromRecycler(in, int64(length), rec); err != nil {
			return nil, err
		}
		return arr, nil
	}
	data, owner, err := in.ReadSegmentSource(int64(length))
	if err != nil {
		return nil, err
	}
	if err := arr.ReadFrom(data, int64(length), owner); err != nil {
		return nil, err
	}
	return arr, nil
}

// readLongSubArray reads a VarInt byte length followed by that many bytes
// reinterpreted as little-endian 64-bit words, into a fresh
// segment.LongArray. Used for the offsets/lengths sub-blocks of a heap
// field.
func readLongSubArray(in *blob.Input, rec *recycler.Recycler) (*segment.LongArray, error) {
	length, err := varint.ReadVarint(in)
	if err != nil {
		return nil, err
	}
	arr := segment.NewLongArray()
	if length == 0 {
		return arr, nil
	}
	if rec != nil {
		if err := arr.ReadFromRecycler(in, int64(length)/8, rec); err != nil {
			return nil, err
		}
		return arr, nil
	}
	data, owner, err := in.ReadSegmentSource(int64(length))
	if err != nil {
		return nil, err
	}
	if err := arr.ReadFrom(data, int64(length)/8, owner); err != nil {
		return nil, err
	}
	return arr, nil
}
