package segment

import (
	"encoding/binary"
	"io"

	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/rodberrors"
)

// longsPerSegment mirrors ByteArray's segmentation, reinterpreted as
// little-endian 64-bit words instead of bytes.
const longsPerSegment = size / 8
const longMask = longsPerSegment - 1

// LongArray is a logical sequence of 64-bit words, segmented the same way
// ByteArray is, plus the bit-packed cross-word read helper used by object
// type states to unpack fixed-width fields.
type LongArray struct {
	segments    [][]uint64
	maxLongs    int64
	maxByteIdx  int64
	owner       Owner
}

// NewLongArray returns an empty LongArray.
func NewLongArray() *LongArray {
	return &LongArray{owner: noopOwner{}}
}

// Len returns maxLongs, the number of populated 64-bit words.
func (a *LongArray) Len() int64 { return a.maxLongs }

// MaxByteIndex returns maxLongs*8 - 8, the contract spec.md names
// explicitly: reads past this index fail OutOfRange.
func (a *LongArray) MaxByteIndex() int64 { return a.maxByteIdx }

func (a *LongArray) growSegments(minLen int) {
	if len(a.segments) >= minLen {
		return
	}
	newCap := len(a.segments) + len(a.segments)/2 + 1
	if newCap < minLen {
		newCap = minLen
	}
	grown := make([][]uint64, newCap)
	copy(grown, a.segments)
	a.segments = grown
}

// Get returns the i-th little-endian 64-bit word.
func (a *LongArray) Get(i int64) (uint64, error) {
	if i < 0 || i >= a.maxLongs {
		return 0, rodberrors.OutOfRangef("segment: long index %d out of range [0, %d)", i, a.maxLongs)
	}
	seg := i >> (Shift - 3)
	off := i & longMask
	if int(seg) >= len(a.segments) || a.segments[seg] == nil {
		return 0, rodberrors.OutOfRangef("segment: long index %d falls in unpopulated segment %d", i, seg)
	}
	return a.segments[seg][off], nil
}

// ReadFrom decodes numLongs little-endian 64-bit words from a byte region
// into freshly allocated word segments (a copy, not a view), and holds
// owner until Destroy.
func (a *LongArray) ReadFrom(mapped []byte, numLongs int64, owner Owner) error {
	needBytes := numLongs * 8
	if int64(len(mapped)) < needBytes {
		return rodberrors.Malformedf("segment: mapped region too short for %d longs: have %d bytes, need %d", numLongs, len(mapped), needBytes)
	}
	numSegments := int((numLongs + longsPerSegment - 1) / longsPerSegment)
	a.growSegments(numSegments)
	var longOff int64
	for s := 0; s < numSegments; s++ {
		end := longOff + longsPerSegment
		if end > numLongs {
			end = numLongs
		}
		n := end - longOff
		words := make([]uint64, n)
		base := longOff * 8
		for j := int64(0); j < n; j++ {
			words[j] = binary.LittleEndian.Uint64(mapped[base+j*8 : base+j*8+8])
		}
		a.segments[s] = words
		longOff = end
	}
	a.maxLongs = numLongs
	a.maxByteIdx = numLongs*8 - 8
	a.owner = owner
	return nil
}

// ReadFromReader is the counterpart to ReadFrom for a source that isn't
// an mmap'd region: it reads the raw bytes from r, then decodes them.
func (a *LongArray) ReadFromReader(r io.Reader, numLongs int64) error {
	buf := make([]byte, numLongs*8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return rodberrors.IOErrorf(err, "segment: reading %d longs", numLongs)
	}
	return a.ReadFrom(buf, numLongs, noopOwner{})
}

// ReadFromRecycler decodes numLongs little-endian words the same way
// ReadFrom does, but reads each segment's raw bytes into a scratch buffer
// borrowed from rec instead of a fresh allocation, returning it to rec
// immediately after decoding. The decoded []uint64 words are still a
// fresh allocation (byte-order decoding can't reinterpret the scratch
// buffer in place); what's recycled is the read buffer itself, which is
// the only part of this path a repeated delta application would otherwise
// re-allocate on every update.
func (a *LongArray) ReadFromRecycler(r io.Reader, numLongs int64, rec *recycler.Recycler) error {
	numSegments := int((numLongs + longsPerSegment - 1) / longsPerSegment)
	a.growSegments(numSegments)
	var longOff int64
	for s := 0; s < numSegments; s++ {
		end := longOff + longsPerSegment
		if end > numLongs {
			end = numLongs
		}
		n := end - longOff
		buf := rec.Get()
		if _, err := io.ReadFull(r, buf[:n*8]); err != nil {
			return rodberrors.IOErrorf(err, "segment: reading segment %d", s)
		}
		words := make([]uint64, n)
		for j := int64(0); j < n; j++ {
			words[j] = binary.LittleEndian.Uint64(buf[j*8 : j*8+8])
		}
		rec.Recycle(buf)
		a.segments[s] = words
		longOff = end
	}
	a.maxLongs = numLongs
	a.maxByteIdx = numLongs*8 - 8
	a.owner = noopOwner{}
	return nil
}

// GetElementValue reads up to 58 bits spanning at most two adjacent
// 64-bit words starting at bitOffset, and returns the little-endian
// integer masked to bitLength. This is the packed-field read used by
// object type states.
func (a *LongArray) GetElementValue(bitOffset int64, bitLength int) (uint64, error) {
	if bitLength <= 0 || bitLength > 58 {
		return 0, rodberrors.OutOfRangef("segment: bitLength %d out of supported range [1, 58]", bitLength)
	}
	wordIdx := bitOffset >> 6
	bitInWord := uint(bitOffset & 63)

	w0, err := a.Get(wordIdx)
	if err != nil {
		return 0, err
	}
	value := w0 >> bitInWord

	if bitInWord+uint(bitLength) > 64 {
		w1, err := a.Get(wordIdx + 1)
		if err != nil {
			return 0, err
		}
		value |= w1 << (64 - bitInWord)
	}

	mask := uint64(1)<<uint(bitLength) - 1
	return value & mask, nil
}

// Destroy clears every segment view and releases the owning handle last.
func (a *LongArray) Destroy() error {
	for i := range a.segments {
		a.segments[i] = nil
	}
	a.segments = nil
	a.maxLongs = 0
	a.maxByteIdx = 0
	if a.owner != nil {
		owner := a.owner
		a.owner = nil
		return owner.Unmap()
	}
	return nil
}
