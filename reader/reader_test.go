package reader

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/engine"
	"github.com/lakshaybadak/rodb/filter"
	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/internal/segment"
	"github.com/lakshaybadak/rodb/schema"
	"github.com/lakshaybadak/rodb/typestate"
	"github.com/lakshaybadak/rodb/varint"
)

func openFixture(t *testing.T, body []byte) *blob.Input {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "reader-*.bin")
	require.NoError(t, err)
	_, err = f.Write(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	in, err := blob.Open(f.Name(), blob.SharedMemoryLazy)
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })
	return in
}

// buildSnapshot assembles a full snapshot blob: header + numTypes +
// each (schema, shard preamble, shard payload) in order, mirroring the
// wire format in spec.md §6.
func buildSnapshot(t *testing.T, header blob.Header, types []typeBlock) []byte {
	t.Helper()
	var buf []byte
	buf = blob.WriteHeader(buf, header)
	buf = varint.WriteVarint(buf, uint64(len(types)))
	for _, tb := range types {
		buf = schema.Encode(buf, tb.schema)
		buf = typestate.EncodeShardPreamble(buf, tb.numShards)
		buf = append(buf, tb.payload...)
	}
	return buf
}

type typeBlock struct {
	schema   schema.Schema
	numShards int
	payload  []byte
}

func movieSchema() *schema.ObjectSchema {
	return &schema.ObjectSchema{
		SchemaName: "Movie",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldInt},
			{Name: "title", Type: schema.FieldString},
		},
		PrimaryKeyPath: []string{"id"},
	}
}

// Scenario 1: empty snapshot.
func TestReadSnapshotEmptyBlob(t *testing.T) {
	body := buildSnapshot(t, blob.Header{
		BlobFormatVersion:        1,
		DestinationRandomizedTag: 0xDEADBEEF,
	}, nil)
	in := openFixture(t, body)

	eng := engine.New(recycler.New(0))
	header, err := ReadSnapshot(in, eng, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0xDEADBEEF), header.DestinationRandomizedTag)
	require.Empty(t, eng.TypeNames())
	require.Equal(t, uint64(0xDEADBEEF), eng.RandomizedTag())
}

// Scenario 2: single object type, two ordinals.
func TestReadSnapshotSingleObjectType(t *testing.T) {
	s := movieSchema()
	payload := typestate.EncodeObjectShard(s, 2, map[int64][]typestate.ObjectFieldValue{
		0: {{Present: true, Int32: 1}, {Present: true, Str: "A"}},
		1: {{Present: true, Int32: 2}, {Present: true, Str: "BB"}},
	})
	body := buildSnapshot(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 1}, []typeBlock{
		{schema: s, numShards: 1, payload: payload},
	})
	in := openFixture(t, body)

	eng := engine.New(recycler.New(0))
	_, err := ReadSnapshot(in, eng, nil)
	require.NoError(t, err)

	ts, ok := eng.GetTypeState("Movie")
	require.True(t, ok)
	obj := ts.(*typestate.ObjectTypeState)
	require.ElementsMatch(t, []int64{0, 1}, obj.Populated())

	id, present, err := obj.GetInt32(0, "id")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, int32(1), id)

	title, present, err := obj.GetString(1, "title")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, "BB", title)
}

// Scenario 3: filtered type.
func TestReadSnapshotFilteredType(t *testing.T) {
	movie := movieSchema()
	moviePayload := typestate.EncodeObjectShard(movie, 1, map[int64][]typestate.ObjectFieldValue{
		0: {{Present: true, Int32: 1}, {Present: true, Str: "A"}},
	})

	junk := &schema.ObjectSchema{SchemaName: "Junk", Fields: []schema.Field{{Name: "x", Type: schema.FieldInt}}}
	junkPayload := typestate.EncodeObjectShard(junk, 1, map[int64][]typestate.ObjectFieldValue{
		0: {{Present: true, Int32: 99}},
	})

	body := buildSnapshot(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 1}, []typeBlock{
		{schema: movie, numShards: 1, payload: moviePayload},
		{schema: junk, numShards: 1, payload: junkPayload},
	})
	in := openFixture(t, body)

	cfg := filter.NewConfig(true)
	cfg.Exclude("Junk")

	eng := engine.New(recycler.New(0))
	_, err := ReadSnapshot(in, eng, cfg)
	require.NoError(t, err)

	_, ok := eng.GetTypeState("Junk")
	require.False(t, ok)

	ts, ok := eng.GetTypeState("Movie")
	require.True(t, ok)
	require.ElementsMatch(t, []int64{0}, ts.Populated())

	// The blob has been fully consumed: no trailing bytes left unread.
	_, err = in.ReadByte()
	require.Error(t, err)
}

// Scenario 4: wrong-origin delta.
func TestReadDeltaWrongOriginFails(t *testing.T) {
	eng := engine.New(recycler.New(0))
	eng.SetRandomizedTag(0xAA)

	body := buildSnapshot(t, blob.Header{
		BlobFormatVersion:        1,
		OriginRandomizedTag:      0xBB,
		DestinationRandomizedTag: 0xCC,
	}, nil)
	in := openFixture(t, body)

	_, err := ReadDelta(in, eng, nil)
	require.Error(t, err)
	require.Equal(t, uint64(0xAA), eng.RandomizedTag())
}

// Scenario 6: sharded lookup.
func TestReadSnapshotShardedLookup(t *testing.T) {
	s := movieSchema()
	const numShards = 4
	shards := make([]typeBlock, 0)
	payloads := make([][]byte, numShards)
	for shardIdx := 0; shardIdx < numShards; shardIdx++ {
		values := map[int64][]typestate.ObjectFieldValue{}
		for shardLocal := int64(0); shardLocal < 4; shardLocal++ {
			global := shardLocal*numShards + int64(shardIdx)
			values[shardLocal] = []typestate.ObjectFieldValue{
				{Present: true, Int32: int32(global)},
				{Present: true, Str: "movie"},
			}
		}
		payloads[shardIdx] = typestate.EncodeObjectShard(s, 4, values)
	}
	var combined []byte
	for _, p := range payloads {
		combined = append(combined, p...)
	}
	shards = append(shards, typeBlock{schema: s, numShards: numShards, payload: combined})

	body := buildSnapshot(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 1}, shards)
	in := openFixture(t, body)

	eng := engine.New(recycler.New(0))
	_, err := ReadSnapshot(in, eng, nil)
	require.NoError(t, err)

	ts, _ := eng.GetTypeState("Movie")
	obj := ts.(*typestate.ObjectTypeState)
	for ordinal := int64(0); ordinal < 16; ordinal++ {
		id, present, err := obj.GetInt32(ordinal, "id")
		require.NoError(t, err)
		require.True(t, present)
		require.Equal(t, int32(ordinal), id)
		require.Equal(t, typestate.ShardIndex(ordinal, numShards), int(ordinal)&(numShards-1))
	}
}

func TestReadDeltaAppliesToExistingType(t *testing.T) {
	s := movieSchema()
	initialPayload := typestate.EncodeObjectShard(s, 1, map[int64][]typestate.ObjectFieldValue{
		0: {{Present: true, Int32: 1}, {Present: true, Str: "A"}},
	})
	snapshotBody := buildSnapshot(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 0x10}, []typeBlock{
		{schema: s, numShards: 1, payload: initialPayload},
	})
	in := openFixture(t, snapshotBody)

	eng := engine.New(recycler.New(1 << segment.Shift))
	_, err := ReadSnapshot(in, eng, nil)
	require.NoError(t, err)

	deltaPayload := typestate.EncodeObjectShard(s, 1, map[int64][]typestate.ObjectFieldValue{
		0: {{Present: true, Int32: 1}, {Present: true, Str: "A (revised)"}},
	})
	deltaBody := buildSnapshot(t, blob.Header{
		BlobFormatVersion:        1,
		OriginRandomizedTag:      0x10,
		DestinationRandomizedTag: 0x11,
	}, []typeBlock{
		{schema: s, numShards: 1, payload: deltaPayload},
	})
	deltaIn := openFixture(t, deltaBody)

	_, err = ReadDelta(deltaIn, eng, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0x11), eng.RandomizedTag())

	ts, _ := eng.GetTypeState("Movie")
	obj := ts.(*typestate.ObjectTypeState)
	title, present, err := obj.GetString(0, "title")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, "A (revised)", title)
}
