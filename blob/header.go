package blob

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/varint"
)

// Magic identifies a rodb blob. It is read as a fixed 4-byte prefix.
const Magic uint32 = 0x524f4442 // "RODB"

// MinVersion and MaxVersion bound the header versions this CORE accepts.
// The producer side is out of scope, so in practice only MinVersion is
// ever emitted, but the range is a named constant rather than a literal
// equality check so a future version can widen it without touching call
// sites.
const (
	MinVersion uint32 = 1
	MaxVersion uint32 = 1
)

// Header is the fixed framing at the start of every snapshot or delta
// blob, per spec.md §3 and §6.
type Header struct {
	BlobFormatVersion        uint32
	OriginRandomizedTag      uint64
	DestinationRandomizedTag uint64
	Tags                     map[string]string
}

// ReadHeader reads and decodes a Header from r. It fails with
// rodberrors.ErrUnsupportedVersion if the version is outside
// [MinVersion, MaxVersion], and rodberrors.ErrMalformedBlob on truncation
// or a bad magic number.
func ReadHeader(r *byteCountingReader) (Header, error) {
	var h Header

	magic, err := readUint32(r)
	if err != nil {
		return h, rodberrors.Malformedf("blob: reading magic: %v", err)
	}
	if magic != Magic {
		return h, rodberrors.Malformedf("blob: bad magic number 0x%x", magic)
	}

	version, err := readUint32(r)
	if err != nil {
		return h, rodberrors.Malformedf("blob: reading version: %v", err)
	}
	if version < MinVersion || version > MaxVersion {
		return h, rodberrors.UnsupportedVersionf("blob: version %d outside accepted range [%d, %d]", version, MinVersion, MaxVersion)
	}
	h.BlobFormatVersion = version

	origin, err := readUint64(r)
	if err != nil {
		return h, rodberrors.Malformedf("blob: reading origin tag: %v", err)
	}
	h.OriginRandomizedTag = origin

	dest, err := readUint64(r)
	if err != nil {
		return h, rodberrors.Malformedf("blob: reading destination tag: %v", err)
	}
	h.DestinationRandomizedTag = dest

	tagCount, err := varint.ReadVarint(r)
	if err != nil {
		return h, rodberrors.Malformedf("blob: reading tag count: %v", err)
	}
	if tagCount > 0 {
		h.Tags = make(map[string]string, tagCount)
	}
	for i := uint64(0); i < tagCount; i++ {
		key, err := readVString(r)
		if err != nil {
			return h, rodberrors.Malformedf("blob: reading tag %d key: %v", i, err)
		}
		val, err := readVString(r)
		if err != nil {
			return h, rodberrors.Malformedf("blob: reading tag %d value: %v", i, err)
		}
		h.Tags[key] = val
	}

	return h, nil
}

// WriteHeader encodes h for use in tests that need to construct in-process
// blob fixtures.
func WriteHeader(dst []byte, h Header) []byte {
	dst = writeUint32(dst, Magic)
	dst = writeUint32(dst, h.BlobFormatVersion)
	dst = writeUint64(dst, h.OriginRandomizedTag)
	dst = writeUint64(dst, h.DestinationRandomizedTag)
	dst = varint.WriteVarint(dst, uint64(len(h.Tags)))
	for k, v := range h.Tags {
		dst = writeVString(dst, k)
		dst = writeVString(dst, v)
	}
	return dst
}

// FallbackRandomizedTag derives a stand-in randomized tag for a header
// whose DestinationRandomizedTag is zero, i.e. a producer that never set
// one. It hashes the rest of the header's fields with xxhash, the same
// checksum algorithm the blob's own producer-side tooling would use for
// block integrity, so two otherwise-identical untagged headers collapse
// to the same fallback rather than every untagged blob looking
// indistinguishable at tag zero. This is diagnostic only: a delta's
// OriginRandomizedTag is still checked against whatever tag the engine
// actually holds, fallback or not.
func FallbackRandomizedTag(h Header) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], h.BlobFormatVersion)
	_, _ = d.Write(buf[:4])
	binary.LittleEndian.PutUint64(buf[:8], h.OriginRandomizedTag)
	_, _ = d.Write(buf[:8])

	keys := make([]string, 0, len(h.Tags))
	for k := range h.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.Write([]byte(k))
		_, _ = d.Write([]byte(h.Tags[k]))
	}
	return d.Sum64()
}

func readUint32(r io.ByteReader) (uint32, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b) << (8 * uint(i))
	}
	return v, nil
}

func readUint64(r io.ByteReader) (uint64, error) {
	var v uint64
	for i := 0; i < 8; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * uint(i))
	}
	return v, nil
}

func writeUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func writeUint64(dst []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}

func readVString(r io.ByteReader) (string, error) {
	n, err := varint.ReadVarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		buf[i] = b
	}
	return string(buf), nil
}

func writeVString(dst []byte, s string) []byte {
	dst = varint.WriteVarint(dst, uint64(len(s)))
	return append(dst, s...)
}
