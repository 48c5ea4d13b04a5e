// Package rodb is the root of an in-process, read-optimized dataset
// engine: immutable, schema-typed snapshots loaded from a file-backed
// binary blob and exposed through ordinal-indexed random access over a
// memory-mapped region.
//
// The engine has no write path, no mutation of loaded data, and no
// cross-process coordination. A typical embedder opens a consumer.Driver,
// points it at a snapshot blob (optionally followed by a sequence of
// delta blobs), and reads through the resulting engine.StateEngine via
// the per-kind accessors in typestate.
//
//	d := consumer.NewDriver(consumer.Config{}, nil)
//	if err := d.Update(&consumer.UpdatePlan{
//	    Snapshot:           &consumer.Blob{ID: "s1", Path: "snapshot.bin"},
//	    DestinationVersion: 1,
//	}); err != nil {
//	    log.Fatal(err)
//	}
//	handle := d.ReadAPI() // generation-tagged handle for d's current state
//
// Package layout:
//
//	varint/          VarInt codec
//	blob/             blob input (mmap + seek) and header framing
//	internal/segment/ segmented byte/long arrays
//	internal/recycler/two-generation segment buffer pool
//	schema/           schema model and wire codec
//	filter/           type/field include-exclude configuration
//	typestate/        per-kind populators: object, list, set, map
//	engine/           read state engine
//	reader/           blob reader: snapshot/delta walker
//	consumer/         update driver, update plan, listeners
//	rodberrors/       error taxonomy
//	internal/diag/    optional diagnostic/debug-stream output
//	cmd/rodbinfo/     operator CLI that prints a blob's header and types
package rodb
