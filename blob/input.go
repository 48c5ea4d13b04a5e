// Package blob implements the uniform random-access and sequential view
// over a blob file: Input memory-maps the portion of the file beyond the
// current read position so that typed reads further down the stack
// (internal/segment) can reference slices of it without copying, and
// ReadHeader/WriteHeader implement the fixed header framing (spec.md §4.5,
// §6).
package blob

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/lakshaybadak/rodb/rodberrors"
)

// MemoryMode selects how a blob's bytes end up backing the engine's
// segmented arrays, per spec.md §6.
type MemoryMode int

const (
	// OnHeap eagerly copies blob bytes into owned, GC-managed buffers.
	OnHeap MemoryMode = iota
	// SharedMemoryLazy memory-maps the blob and demand-pages it.
	SharedMemoryLazy
	// SharedMemoryEager memory-maps the blob, then prefaults it via
	// madvise(WILLNEED) so the first reads don't pay page-fault latency.
	SharedMemoryEager
)

// Input is a file plus a logical read position. Read and ReadByte calls
// consume Input sequentially; MappedRegion offers callers (internal/segment) a
// zero-copy view into the remainder of the file from the current
// position.
type Input struct {
	f    *os.File
	mode MemoryMode

	mapped []byte // the full mmap of the file, or nil in OnHeap mode
	ref    *mapRef
	pos    int64 // logical read position
	size   int64
}

// mapRef ref-counts a single mmap'd region shared by Input itself (one
// implicit reference, released by Close) and every Owner MappedRegion has
// handed out (one reference each, released by Unmap). The region is only
// actually munmap'd once the count reaches zero, so a segment that is
// still viewing the mapping keeps it alive past Input.Close.
type mapRef struct {
	mu     sync.Mutex
	region []byte
	count  int
}

func (r *mapRef) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count--
	if r.count > 0 || r.region == nil {
		return nil
	}
	region := r.region
	r.region = nil
	if err := unix.Munmap(region); err != nil {
		return rodberrors.IOErrorf(err, "blob: munmap")
	}
	return nil
}

// Open opens path for reading and, unless mode is OnHeap, memory-maps its
// full contents.
func Open(path string, mode MemoryMode) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rodberrors.IOErrorf(err, "blob: open %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, rodberrors.IOErrorf(err, "blob: stat %s", path)
	}
	in := &Input{f: f, mode: mode, size: st.Size()}

	if mode != OnHeap && st.Size() > 0 {
		region, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, rodberrors.IOErrorf(err, "blob: mmap %s", path)
		}
		if mode == SharedMemoryEager {
			if err := unix.Madvise(region, unix.MADV_WILLNEED); err != nil {
				_ = unix.Munmap(region)
				f.Close()
				return nil, rodberrors.IOErrorf(err, "blob: madvise %s", path)
			}
		}
		in.mapped = region
		in.ref = &mapRef{region: region, count: 1}
	}
	return in, nil
}

// Close releases Input's own reference to the mapping (if any) and closes
// the underlying file descriptor. The mapping itself is only munmap'd once
// every Owner MappedRegion handed out has also released its reference
// (see mapRef), so segments built via MappedRegion remain valid after
// Close as long as they haven't been Destroy'd.
func (in *Input) Close() error {
	var err error
	if in.ref != nil {
		if uerr := in.ref.release(); uerr != nil {
			err = uerr
		}
		in.mapped = nil
		in.ref = nil
	}
	if cerr := in.f.Close(); cerr != nil && err == nil {
		err = rodberrors.IOErrorf(cerr, "blob: close")
	}
	return err
}

// Mode reports the memory mode this Input was opened with.
func (in *Input) Mode() MemoryMode { return in.mode }

// Position returns the current logical read offset.
func (in *Input) Position() int64 { return in.pos }

// Size returns the total length of the underlying file.
func (in *Input) Size() int64 { return in.size }

// Seek repositions the logical read offset.
func (in *Input) Seek(pos int64) error {
	if pos < 0 || pos > in.size {
		return rodberrors.OutOfRangef("blob: seek to %d out of range [0, %d]", pos, in.size)
	}
	if in.mode == OnHeap {
		if _, err := in.f.Seek(pos, io.SeekStart); err != nil {
			return rodberrors.IOErrorf(err, "blob: seek")
		}
	}
	in.pos = pos
	return nil
}

// ReadByte implements io.ByteReader, advancing the logical position by one
// byte.
func (in *Input) ReadByte() (byte, error) {
	var buf [1]byte
	n, err := in.Read(buf[:])
	if n == 1 {
		return buf[0], nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return 0, err
}

// Read implements io.Reader, advancing the logical position by the number
// of bytes read.
func (in *Input) Read(p []byte) (int, error) {
	if in.mapped != nil {
		if in.pos >= in.size {
			return 0, io.EOF
		}
		n := copy(p, in.mapped[in.pos:])
		in.pos += int64(n)
		return n, nil
	}
	n, err := in.f.Read(p)
	in.pos += int64(n)
	return n, err
}

// MappedRegion returns a zero-copy view of length bytes beginning at the
// current logical position, and advances the position by length. It
// fails if the Input was opened in OnHeap mode (there is nothing to view
// into) or if length would run past end of file.
//
// The returned owner keeps the whole-file mapping alive; segments built
// from the slice must route Destroy through it rather than calling
// unix.Munmap directly, since the mapping is shared by every segment in
// the file, not just this caller's slice.
func (in *Input) MappedRegion(length int64) ([]byte, Owner, error) {
	if in.mapped == nil {
		return nil, nil, rodberrors.IOf("blob: MappedRegion called on an OnHeap input")
	}
	if in.pos+length > in.size {
		return nil, nil, rodberrors.Malformedf("blob: MappedRegion(%d) at pos %d runs past EOF (size %d)", length, in.pos, in.size)
	}
	region := in.mapped[in.pos : in.pos+length : in.pos+length]
	in.pos += length
	in.ref.mu.Lock()
	in.ref.count++
	in.ref.mu.Unlock()
	return region, &refCountedOwner{ref: in.ref}, nil
}

// Owner is the lifetime handle a segment.Owner-shaped value implements.
// Defined here (rather than importing internal/segment) to avoid a
// dependency cycle; internal/segment.Owner is structurally identical.
type Owner interface {
	Unmap() error
}

// refCountedOwner is handed to each segment view sourced from the same
// Input mapping. Unmap releases this view's share of the mapping; the
// underlying unix.Munmap only happens once every Owner sourced from the
// same mapping (and Input itself, via Close) has released its reference.
type refCountedOwner struct {
	ref *mapRef
}

func (o *refCountedOwner) Unmap() error {
	if o.ref == nil {
		return nil
	}
	return o.ref.release()
}

// heapOwner backs segments built from a buffer this package already
// allocated and fully owns (OnHeap mode, via ReadAllocated). There is no
// mapping behind it, so Unmap is a no-op.
type heapOwner struct{}

func (heapOwner) Unmap() error { return nil }

// ReadAllocated copies length bytes starting at the current position into
// a freshly allocated buffer. ReadSegmentSource uses it in OnHeap mode,
// where there is no mapping to view into.
func (in *Input) ReadAllocated(length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(in, buf); err != nil {
		return nil, rodberrors.IOErrorf(err, "blob: ReadAllocated(%d)", length)
	}
	return buf, nil
}

// ReadSegmentSource returns length bytes beginning at the current
// position together with the Owner a segment built from them must route
// Destroy through, choosing the zero-copy or the copying path based on
// Mode: SharedMemoryLazy/SharedMemoryEager view directly into the file's
// mapping via MappedRegion; OnHeap allocates via ReadAllocated and hands
// back a no-op owner, since the buffer is already fully owned.
func (in *Input) ReadSegmentSource(length int64) ([]byte, Owner, error) {
	if in.mode == OnHeap {
		buf, err := in.ReadAllocated(length)
		if err != nil {
			return nil, nil, err
		}
		return buf, heapOwner{}, nil
	}
	return in.MappedRegion(length)
}

// Skip advances the logical position by length without retaining the
// bytes in between, for callers (a filtered-out type's discarded
// sub-stream) that never turn the range into a segment.
func (in *Input) Skip(length int64) error {
	return in.Seek(in.pos + length)
}

// byteCountingReader is an alias for Input, the reader type ReadHeader
// takes.
type byteCountingReader = Input
