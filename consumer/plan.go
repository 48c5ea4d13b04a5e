package consumer

// Blob identifies one input to an UpdatePlan. ID is the identity used by
// the FailedTransitionTracker and must be stable across retries of the
// "same" blob (e.g. its source path or content hash); Path is what
// Config.OpenBlob is given to actually open it.
type Blob struct {
	ID   string
	Path string
}

// UpdatePlan is the ordered sequence spec.md §3 describes: an optional
// leading snapshot followed by zero or more deltas, targeting
// DestinationVersion. "Snapshot plan" iff Snapshot != nil.
type UpdatePlan struct {
	Snapshot           *Blob
	Deltas             []*Blob
	DestinationVersion uint64
}

// IsSnapshotPlan reports whether the plan begins with a snapshot.
func (p *UpdatePlan) IsSnapshotPlan() bool { return p.Snapshot != nil }

// Blobs returns every blob in the plan, snapshot first if present, in
// application order.
func (p *UpdatePlan) Blobs() []*Blob {
	out := make([]*Blob, 0, len(p.Deltas)+1)
	if p.Snapshot != nil {
		out = append(out, p.Snapshot)
	}
	out = append(out, p.Deltas...)
	return out
}

// BlobIDs returns the IDs of every blob in the plan, for
// FailedTransitionTracker lookups.
func (p *UpdatePlan) BlobIDs() []string {
	blobs := p.Blobs()
	ids := make([]string, len(blobs))
	for i, b := range blobs {
		ids[i] = b.ID
	}
	return ids
}
