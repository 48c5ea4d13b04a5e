// Package segment implements the segmented byte/long array abstraction: a
// growable, index-addressable logical array composed of fixed-size
// segments sourced from a memory-mapped region. Segments are non-owning
// views; the array co-owns the mapped region via a shared Owner handle so
// the mapping outlives every segment that references it.
package segment

import (
	"io"

	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/rodberrors"
)

// Shift is the exponent L such that each segment holds 2^L bytes. Index
// decomposition: segment = index >> Shift, offset = index & (size-1).
const Shift = 16

const size = 1 << Shift
const mask = size - 1

// Owner keeps a memory-mapped (or otherwise heap-allocated) region alive
// for as long as any segment in a ByteArray references it. Unmap is called
// exactly once, after every segment view referencing it has been cleared.
type Owner interface {
	Unmap() error
}

// noopOwner backs segments that were populated from a plain []byte (the
// ON_HEAP memory mode, or tests) rather than an mmap'd region.
type noopOwner struct{}

func (noopOwner) Unmap() error { return nil }

// ByteArray is a logical sequence of bytes indexed by a 64-bit offset,
// composed of an expandable vector of fixed-size segments.
type ByteArray struct {
	segments [][]byte // non-owning views; nil entries are unpopulated
	length   int64
	owner    Owner
	rec      *recycler.Recycler // non-nil if segments came from rec; Destroy recycles them
}

// NewByteArray returns an empty ByteArray.
func NewByteArray() *ByteArray {
	return &ByteArray{owner: noopOwner{}}
}

// Len returns the number of logical bytes populated so far.
func (a *ByteArray) Len() int64 { return a.length }

// Get returns the byte at the given logical index. It fails with
// rodberrors.ErrOutOfRange if index falls in an unpopulated segment.
func (a *ByteArray) Get(index int64) (byte, error) {
	if index < 0 || index >= a.length {
		return 0, rodberrors.OutOfRangef("segment: index %d out of range [0, %d)", index, a.length)
	}
	seg := index >> Shift
	off := index & mask
	if int(seg) >= len(a.segments) || a.segments[seg] == nil {
		return 0, rodberrors.OutOfRangef("segment: index %d falls in unpopulated segment %d", index, seg)
	}
	return a.segments[seg][off], nil
}

// growSegments grows the segment vector by 3/2 to amortize allocation,
// matching spec.md's mandated growth policy. Existing segment views are
// never resized or copied.
func (a *ByteArray) growSegments(minLen int) {
	if len(a.segments) >= minLen {
		return
	}
	newCap := len(a.segments) + len(a.segments)/2 + 1
	if newCap < minLen {
		newCap = minLen
	}
	grown := make([][]byte, newCap)
	copy(grown, a.segments)
	a.segments = grown
}

// ReadFrom maps (at least) length bytes beginning at the mapped region's
// start and wires them into the segment vector so that logical indices
// [0, length) resolve into it. mapped must have len(mapped) >= length; the
// caller (blob.Input) is responsible for producing it via mmap and for
// supplying owner to keep the mapping alive.
//
// ReadFrom does not itself advance any file position — callers do that on
// the blob.Input after this call returns, matching the contract that the
// input's logical position advances by exactly length.
func (a *ByteArray) ReadFrom(mapped []byte, length int64, owner Owner) error {
	if int64(len(mapped)) < length {
		return rodberrors.Malformedf("segment: mapped region too short: have %d, need %d", len(mapped), length)
	}
	numSegments := int((length + size - 1) / size)
	if numSegments == 0 {
		numSegments = 0
	}
	a.growSegments(numSegments)
	var off int64
	for i := 0; i < numSegments; i++ {
		end := off + size
		if end > length {
			end = length
		}
		a.segments[i] = mapped[off:end:end]
		off = end
	}
	a.length = length
	a.owner = owner
	return nil
}

// ReadFromReader is the copying counterpart to ReadFrom, for a source
// with no mmap'd region to view into. It allocates owned segments and
// copies length bytes from r into them.
func (a *ByteArray) ReadFromReader(r io.Reader, length int64) error {
	numSegments := int((length + size - 1) / size)
	a.growSegments(numSegments)
	var off int64
	for i := 0; i < numSegments; i++ {
		n := size
		if off+int64(n) > length {
			n = int(length - off)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return rodberrors.IOErrorf(err, "segment: reading segment %d", i)
		}
		a.segments[i] = buf
		off += int64(n)
	}
	a.length = length
	a.owner = noopOwner{}
	return nil
}

// ReadFromRecycler is the recycler-backed copying counterpart to
// ReadFromReader, used by delta application against a type state that has
// a memory recycler configured: each segment's buffer comes from
// rec.Get() instead of a fresh allocation and is returned to rec by
// Destroy, so repeated delta application reuses the same handful of
// segment-sized buffers instead of allocating a new set every update.
func (a *ByteArray) ReadFromRecycler(r io.Reader, length int64, rec *recycler.Recycler) error {
	numSegments := int((length + size - 1) / size)
	a.growSegments(numSegments)
	var off int64
	for i := 0; i < numSegments; i++ {
		n := size
		if off+int64(n) > length {
			n = int(length - off)
		}
		buf := rec.Get()
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return rodberrors.IOErrorf(err, "segment: reading segment %d", i)
		}
		a.segments[i] = buf[:n]
		off += int64(n)
	}
	a.length = length
	a.owner = noopOwner{}
	a.rec = rec
	return nil
}

// Destroy clears every segment view and releases the owning handle last,
// after all views have been cleared, per spec.md's ownership contract. If
// the segments were sourced from a Recycler, their buffers are returned to
// it instead of left for the garbage collector.
func (a *ByteArray) Destroy() error {
	for i := range a.segments {
		if a.rec != nil && a.segments[i] != nil {
			a.rec.Recycle(a.segments[i][:cap(a.segments[i])])
		}
		a.segments[i] = nil
	}
	a.segments = nil
	a.length = 0
	a.rec = nil
	if a.owner != nil {
		owner := a.owner
		a.owner = nil
		return owner.Unmap()
	}
	return nil
}
