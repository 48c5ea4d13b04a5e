// Package varint implements the little-endian, 7-bit-per-byte VarInt
// encoding used throughout the blob wire format: each byte carries 7 data
// bits with the high bit as a continuation flag, terminated by the first
// byte whose high bit is clear. Signed values are ZigZag-encoded first.
package varint

import (
	"io"

	"github.com/lakshaybadak/rodb/rodberrors"
)

// MaxLen64 is the maximum number of bytes a 64-bit VarInt can occupy.
const MaxLen64 = 10

// ReadVarint decodes an unsigned VarInt from r. It returns
// rodberrors.ErrMalformedBlob if the stream ends before a terminating byte
// is found.
func ReadVarint(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < MaxLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return 0, rodberrors.Malformedf("varint: EOF mid-integer after %d bytes", i)
			}
			return 0, rodberrors.Malformedf("varint: %v", err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, rodberrors.Malformedf("varint: exceeds %d bytes", MaxLen64)
}

// ReadSignedVarint decodes a ZigZag-encoded signed VarInt from r.
func ReadSignedVarint(r io.ByteReader) (int64, error) {
	u, err := ReadVarint(r)
	if err != nil {
		return 0, err
	}
	return zigzagDecode(u), nil
}

// WriteVarint encodes an unsigned VarInt, appending to dst and returning
// the grown slice. It exists alongside the read path so in-process tests
// can construct wire fixtures without shipping .blob files.
func WriteVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// WriteSignedVarint ZigZag-encodes v and writes it as an unsigned VarInt.
func WriteSignedVarint(dst []byte, v int64) []byte {
	return WriteVarint(dst, zigzagEncode(v))
}

func zigzagEncode(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
