// Package diag implements the optional diagnostic/debug-stream output
// named in spec.md §9 and gated behind Config.DiagnosticOutput: a
// human-readable record of what an update actually did, written
// alongside (never instead of) the real read path. Grounded on
// sstable/layout.go's Layout.Describe, which is likewise optional debug
// output layered over the real block-reading code rather than part of
// it.
package diag

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Recorder appends human-readable lines describing an update's
// progress. A nil *Recorder is valid and every method on it is a no-op,
// so callers can unconditionally thread a possibly-nil Recorder through
// without a DiagnosticOutput check at every call site.
type Recorder struct {
	w      io.Writer
	closer io.Closer
}

// NewRecorder wraps w, optionally compressing the stream with zstd when
// compress is true. The returned Recorder owns w's lifetime if compress
// is true (Close flushes and closes the zstd encoder); otherwise Close
// is a no-op and the caller retains ownership of w.
func NewRecorder(w io.Writer, compress bool) (*Recorder, error) {
	if !compress {
		return &Recorder{w: w}, nil
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return &Recorder{w: enc, closer: enc}, nil
}

// Close flushes and releases any compressor this Recorder owns. Safe to
// call on a nil Recorder.
func (r *Recorder) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Recorder) printf(format string, args ...interface{}) {
	if r == nil || r.w == nil {
		return
	}
	fmt.Fprintf(r.w, format+"\n", args...)
}

// BlobLoaded records that a blob was opened and read to completion.
func (r *Recorder) BlobLoaded(id, path string) {
	r.printf("blob loaded: id=%s path=%s", id, path)
}

// TypeSnapshotted records one type's shard layout as read from a
// snapshot or delta.
func (r *Recorder) TypeSnapshotted(typeName string, numShards int, populated int) {
	r.printf("type snapshotted: name=%s shards=%d populated=%d", typeName, numShards, populated)
}

// SnapshotApplied records a successful snapshot application.
func (r *Recorder) SnapshotApplied(toVersion uint64) {
	r.printf("snapshot applied: version=%d", toVersion)
}

// DeltaApplied records a successful delta application.
func (r *Recorder) DeltaApplied(toVersion uint64) {
	r.printf("delta applied: version=%d", toVersion)
}

// TransitionFailed records a failed blob application and the reason,
// mirroring the FailedTransitionTracker entry it produced.
func (r *Recorder) TransitionFailed(blobID string, err error) {
	r.printf("transition failed: blob=%s err=%v", blobID, err)
}
