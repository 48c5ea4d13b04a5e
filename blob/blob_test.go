package blob

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempBlob(t *testing.T, body []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "blob-*.bin")
	require.NoError(t, err)
	_, err = f.Write(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		BlobFormatVersion:        1,
		OriginRandomizedTag:      0,
		DestinationRandomizedTag: 0xDEADBEEF,
		Tags:                     map[string]string{"producer": "test"},
	}
	buf := WriteHeader(nil, h)

	path := writeTempBlob(t, buf)
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)
	defer in.Close()

	got, err := ReadHeader(in)
	require.NoError(t, err)
	require.Equal(t, h.BlobFormatVersion, got.BlobFormatVersion)
	require.Equal(t, h.DestinationRandomizedTag, got.DestinationRandomizedTag)
	require.Equal(t, h.Tags, got.Tags)
}

func TestHeaderBadMagic(t *testing.T) {
	path := writeTempBlob(t, []byte{0, 0, 0, 0, 1, 0, 0, 0})
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)
	defer in.Close()

	_, err = ReadHeader(in)
	require.Error(t, err)
}

func TestHeaderUnsupportedVersion(t *testing.T) {
	h := Header{BlobFormatVersion: 99}
	buf := WriteHeader(nil, h)
	path := writeTempBlob(t, buf)
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)
	defer in.Close()

	_, err = ReadHeader(in)
	require.Error(t, err)
}

func TestHeaderTruncated(t *testing.T) {
	path := writeTempBlob(t, []byte{0x42, 0x44, 0x4f, 0x52})
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)
	defer in.Close()

	_, err = ReadHeader(in)
	require.Error(t, err)
}

func TestMappedRegionAdvancesPosition(t *testing.T) {
	payload := []byte("0123456789abcdef")
	path := writeTempBlob(t, payload)
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)
	defer in.Close()

	region, owner, err := in.MappedRegion(10)
	require.NoError(t, err)
	require.Equal(t, payload[:10], region)
	require.Equal(t, int64(10), in.Position())
	require.NoError(t, owner.Unmap())
}

func TestMappedRegionPastEOF(t *testing.T) {
	path := writeTempBlob(t, []byte("short"))
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)
	defer in.Close()

	_, _, err = in.MappedRegion(100)
	require.Error(t, err)
}

// TestMappedRegionSurvivesClose exercises the ref-counted mapping that
// makes the SHARED_MEMORY_* path safe for consumer.Driver's
// defer-Close-immediately-after-read pattern: a region handed out by
// MappedRegion must remain readable after the originating Input is
// closed, and only become invalid once its own Owner is also released.
func TestMappedRegionSurvivesClose(t *testing.T) {
	payload := []byte("0123456789abcdef")
	path := writeTempBlob(t, payload)
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)

	region, owner, err := in.MappedRegion(10)
	require.NoError(t, err)
	require.Equal(t, payload[:10], region)

	require.NoError(t, in.Close())

	// The mapping is still backing region: Input's own implicit reference
	// was released by Close, but owner's hasn't been yet.
	require.Equal(t, payload[:10], region)

	require.NoError(t, owner.Unmap())
}

// TestMappedRegionMultipleOwnersEachReleaseOnce verifies that several
// MappedRegion calls against the same Input each get an independently
// ref-counted Owner: releasing one doesn't invalidate the others, and
// the underlying mapping is only unmapped once every Owner (plus
// Input's own reference) has released.
func TestMappedRegionMultipleOwnersEachReleaseOnce(t *testing.T) {
	payload := []byte("0123456789abcdef")
	path := writeTempBlob(t, payload)
	in, err := Open(path, SharedMemoryLazy)
	require.NoError(t, err)

	regionA, ownerA, err := in.MappedRegion(8)
	require.NoError(t, err)
	regionB, ownerB, err := in.MappedRegion(8)
	require.NoError(t, err)

	require.NoError(t, in.Close())
	require.NoError(t, ownerA.Unmap())

	// ownerB and its region are still valid; only ownerA and Input's own
	// reference have released so far.
	require.Equal(t, payload[8:16], regionB)

	require.NoError(t, ownerB.Unmap())
	_ = regionA
}

func TestOnHeapInputReadsSequentially(t *testing.T) {
	payload := []byte("hello world")
	path := writeTempBlob(t, payload)
	in, err := Open(path, OnHeap)
	require.NoError(t, err)
	defer in.Close()

	buf, err := in.ReadAllocated(int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, buf)

	_, _, err = in.MappedRegion(1)
	require.Error(t, err)
}
