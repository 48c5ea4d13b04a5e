package varint

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripUnsigned(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1, 1 << 62}
	for _, v := range values {
		buf := WriteVarint(nil, v)
		got, err := ReadVarint(bufio.NewReader(bytes.NewReader(buf)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestRoundTripSigned(t *testing.T) {
	values := []int64{0, 1, -1, 127, -127, 1 << 40, -(1 << 40)}
	for _, v := range values {
		buf := WriteSignedVarint(nil, v)
		got, err := ReadSignedVarint(bufio.NewReader(bytes.NewReader(buf)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestReadVarintTruncated(t *testing.T) {
	// A byte with the continuation bit set but nothing after it.
	buf := []byte{0x80}
	_, err := ReadVarint(bufio.NewReader(bytes.NewReader(buf)))
	require.Error(t, err)
}

func TestReadVarintEmpty(t *testing.T) {
	_, err := ReadVarint(bufio.NewReader(bytes.NewReader(nil)))
	require.Error(t, err)
}
