package consumer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/engine"
	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/schema"
	"github.com/lakshaybadak/rodb/typestate"
	"github.com/lakshaybadak/rodb/varint"
)

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

type typeBlock struct {
	schema    schema.Schema
	numShards int
	payload   []byte
}

func buildBlob(t *testing.T, header blob.Header, types []typeBlock) []byte {
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

// writeBlobFile writes body to a fresh temp file under t's tempdir and
// returns its path, so Driver.Update can open it by path like a real
// consumer would.
func writeBlobFile(t *testing.T, name string, body []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

func oneMoviePayload(id int32, title string) []byte {
	s := movieSchema()
	return typestate.EncodeObjectShard(s, 1, map[int64][]typestate.ObjectFieldValue{
		0: {{Present: true, Int32: id}, {Present: true, Str: title}},
	})
}

type countingListener struct {
	BaseListener
	blobLoaded      int
	snapshotApplied int
	snapshotUpdate  int
	deltaUpdate     int
}

func (c *countingListener) BlobLoaded(*Blob) { c.blobLoaded++ }
func (c *countingListener) SnapshotApplied(*ApiHandle, *engine.StateEngine, uint64) {
	c.snapshotApplied++
}
func (c *countingListener) SnapshotUpdateOccurred(*ApiHandle, *engine.StateEngine, uint64) {
	c.snapshotUpdate++
}
func (c *countingListener) DeltaUpdateOccurred(*ApiHandle, *engine.StateEngine, uint64) {
	c.deltaUpdate++
}

func TestDriverSnapshotThenDeltaSucceeds(t *testing.T) {
	snapBody := buildBlob(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 1}, []typeBlock{
		{schema: movieSchema(), numShards: 1, payload: oneMoviePayload(1, "A")},
	})
	snapPath := writeBlobFile(t, "snap.bin", snapBody)

	d := NewDriver(Config{}, nil)
	err := d.Update(&UpdatePlan{
		Snapshot:           &Blob{ID: "snap-1", Path: snapPath},
		DestinationVersion: 1,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), d.CurrentVersion())
	require.Equal(t, Idle, d.State())
	require.NotNil(t, d.ReadAPI())

	deltaBody := buildBlob(t, blob.Header{
		BlobFormatVersion:        1,
		OriginRandomizedTag:      1,
		DestinationRandomizedTag: 1,
	}, []typeBlock{
		{schema: movieSchema(), numShards: 1, payload: oneMoviePayload(2, "B")},
	})
	deltaPath := writeBlobFile(t, "delta.bin", deltaBody)

	prevHandle := d.ReadAPI()
	err = d.Update(&UpdatePlan{
		Deltas:             []*Blob{{ID: "delta-1", Path: deltaPath}},
		DestinationVersion: 2,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), d.CurrentVersion())
	require.NotSame(t, prevHandle, d.ReadAPI())
}

func TestDriverSnapshotFailureMarksAllPlanBlobs(t *testing.T) {
	// Malformed: claims one type but supplies no schema bytes at all.
	var malformed []byte
	malformed = blob.WriteHeader(malformed, blob.Header{BlobFormatVersion: 1})
	malformed = varint.WriteVarint(malformed, 1)
	snapPath := writeBlobFile(t, "bad-snap.bin", malformed)
	deltaPath := writeBlobFile(t, "unused-delta.bin", []byte{})

	d := NewDriver(Config{}, nil)
	plan := &UpdatePlan{
		Snapshot:           &Blob{ID: "snap-bad", Path: snapPath},
		Deltas:             []*Blob{{ID: "delta-unused", Path: deltaPath}},
		DestinationVersion: 1,
	}
	err := d.Update(plan)
	require.Error(t, err)
	require.Equal(t, Failed, d.State())
	require.True(t, d.tracker.HasFailed("snap-bad"))
	require.True(t, d.tracker.HasFailed("delta-unused"))
}

func TestDriverDeltaFailureMarksOnlyOffendingBlob(t *testing.T) {
	snapBody := buildBlob(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 7}, []typeBlock{
		{schema: movieSchema(), numShards: 1, payload: oneMoviePayload(1, "A")},
	})
	snapPath := writeBlobFile(t, "snap.bin", snapBody)

	d := NewDriver(Config{}, nil)
	require.NoError(t, d.Update(&UpdatePlan{
		Snapshot:           &Blob{ID: "snap-ok", Path: snapPath},
		DestinationVersion: 1,
	}))

	// Wrong origin tag: ReadDelta will reject it before touching the engine.
	badDeltaBody := buildBlob(t, blob.Header{
		BlobFormatVersion:        1,
		OriginRandomizedTag:      0xFF,
		DestinationRandomizedTag: 8,
	}, nil)
	badDeltaPath := writeBlobFile(t, "bad-delta.bin", badDeltaBody)

	err := d.Update(&UpdatePlan{
		Deltas:             []*Blob{{ID: "delta-bad", Path: badDeltaPath}},
		DestinationVersion: 2,
	})
	require.Error(t, err)
	require.True(t, d.tracker.HasFailed("delta-bad"))
	require.False(t, d.tracker.HasFailed("snap-ok"))
	// The engine's version/tag weren't advanced by the failed delta.
	require.Equal(t, uint64(1), d.CurrentVersion())
}

// Scenario 5: double-snapshot gate. A plan whose blob set intersects the
// failed-transition tracker is rejected before any I/O, when
// DoubleSnapshotAllow is enabled.
func TestDriverRejectsPlanIntersectingFailedTracker(t *testing.T) {
	d := NewDriver(Config{DoubleSnapshotAllow: true}, nil)
	d.tracker.MarkFailed("snap-poisoned")

	err := d.Update(&UpdatePlan{
		Snapshot:           &Blob{ID: "snap-poisoned", Path: "/does/not/exist"},
		DestinationVersion: 1,
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, rodberrors.ErrKnownFailingTransition))
	require.Equal(t, uint64(0), d.CurrentVersion())
}

func TestDriverHistoryChainsAcrossSnapshots(t *testing.T) {
	snap1 := buildBlob(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 1}, []typeBlock{
		{schema: movieSchema(), numShards: 1, payload: oneMoviePayload(1, "A")},
	})
	snap1Path := writeBlobFile(t, "snap1.bin", snap1)

	d := NewDriver(Config{}, nil)
	require.NoError(t, d.Update(&UpdatePlan{
		Snapshot:           &Blob{ID: "s1", Path: snap1Path},
		DestinationVersion: 1,
	}))
	require.Nil(t, d.History())

	snap2 := buildBlob(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 2}, []typeBlock{
		{schema: movieSchema(), numShards: 1, payload: oneMoviePayload(2, "B")},
	})
	snap2Path := writeBlobFile(t, "snap2.bin", snap2)

	require.NoError(t, d.Update(&UpdatePlan{
		Snapshot:           &Blob{ID: "s2", Path: snap2Path},
		DestinationVersion: 2,
	}))
	hist := d.History()
	require.NotNil(t, hist)
	require.Equal(t, uint64(1), hist.Version)
}

func TestDriverFanoutNotifiesListeners(t *testing.T) {
	snapBody := buildBlob(t, blob.Header{BlobFormatVersion: 1, DestinationRandomizedTag: 1}, []typeBlock{
		{schema: movieSchema(), numShards: 1, payload: oneMoviePayload(1, "A")},
	})
	snapPath := writeBlobFile(t, "snap.bin", snapBody)

	d := NewDriver(Config{}, nil)
	lis := &countingListener{}
	d.RegisterListener(lis)

	require.NoError(t, d.Update(&UpdatePlan{
		Snapshot:           &Blob{ID: "snap", Path: snapPath},
		DestinationVersion: 1,
	}))
	require.Equal(t, 1, lis.blobLoaded)
	require.Equal(t, 1, lis.snapshotApplied)
	require.Equal(t, 1, lis.snapshotUpdate)
	require.Equal(t, 0, lis.deltaUpdate)
}
