// Package consumer implements the update driver named in spec.md §3 and
// §4.10: the state machine that applies an UpdatePlan to a read state
// engine, tracks failed transitions, gates double-snapshots, and
// notifies refresh listeners. Grounded on pebble's Open/compaction-
// scheduling state-transition style — an explicit state field plus
// guarded transition methods — rather than a generic FSM library.
package consumer

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/lakshaybadak/rodb/blob"
	"github.com/lakshaybadak/rodb/engine"
	"github.com/lakshaybadak/rodb/filter"
	"github.com/lakshaybadak/rodb/internal/diag"
	"github.com/lakshaybadak/rodb/internal/recycler"
	"github.com/lakshaybadak/rodb/internal/segment"
	"github.com/lakshaybadak/rodb/reader"
	"github.com/lakshaybadak/rodb/rodberrors"
)

// recyclerSegmentLen sizes every Driver's recycler to the segment size
// internal/segment itself uses, so buffers it hands out via Get are
// always exactly what ByteArray/LongArray ask for and round-trip back
// through Recycle instead of being silently dropped.
const recyclerSegmentLen = 1 << segment.Shift

// State is the driver's state machine position, per spec.md §4.10.
type State int

const (
	Idle State = iota
	ApplyingSnapshot
	ApplyingDeltas
	NotifyListeners
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ApplyingSnapshot:
		return "ApplyingSnapshot"
	case ApplyingDeltas:
		return "ApplyingDeltas"
	case NotifyListeners:
		return "NotifyListeners"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Listener receives synchronous callbacks from the driver thread during
// an update, per spec.md §6's "Driver/consumer surface". Every method
// has a default no-op via embedding BaseListener, so callers only
// implement the callbacks they care about.
type Listener interface {
	BlobLoaded(b *Blob)
	SnapshotApplied(api *ApiHandle, eng *engine.StateEngine, toVersion uint64)
	SnapshotUpdateOccurred(api *ApiHandle, eng *engine.StateEngine, destVersion uint64)
	DeltaUpdateOccurred(api *ApiHandle, eng *engine.StateEngine, destVersion uint64)
}

// BaseListener gives every callback a no-op default; embed it and
// override only what's needed.
type BaseListener struct{}

func (BaseListener) BlobLoaded(*Blob)                                              {}
func (BaseListener) SnapshotApplied(*ApiHandle, *engine.StateEngine, uint64)        {}
func (BaseListener) SnapshotUpdateOccurred(*ApiHandle, *engine.StateEngine, uint64) {}
func (BaseListener) DeltaUpdateOccurred(*ApiHandle, *engine.StateEngine, uint64)    {}

// Config enumerates the driver-level options from spec.md §6.
type Config struct {
	// DoubleSnapshotAllow permits re-snapshot after a delta failure; if
	// false the driver is pinned to delta-only updates once snapshotted.
	DoubleSnapshotAllow bool

	// EnableLongLivedObjectSupport, if true, would insert a proxy
	// data-access indirection for generation-safe long-lived handles
	// (spec.md §6). The CORE has no generated accessor classes to proxy
	// (spec.md §1 excludes them), so this flag is accepted for surface
	// compatibility and otherwise has no effect — ApiHandle carries only
	// a generation number, never a reference into the StateEngine.
	EnableLongLivedObjectSupport bool

	// OpenBlob opens a Blob by path into a *blob.Input. If nil, NewDriver
	// uses blob.Open in SharedMemoryLazy mode; supplying it lets the
	// embedder choose a MemoryMode or a particular vfs.
	OpenBlob func(path string) (*blob.Input, error)

	// DiagnosticOutput, if non-nil, turns on the optional debug-stream
	// recording of update progress (spec.md §9 open question 2). Off by
	// default.
	DiagnosticOutput io.Writer

	// DiagnosticCompress zstd-compresses the diagnostic stream. Ignored
	// if DiagnosticOutput is nil.
	DiagnosticCompress bool
}

// Driver is the consumer-facing update driver (spec.md §4.10).
type Driver struct {
	mu sync.Mutex

	cfg       Config
	filterCfg *filter.Config

	state   State
	eng     *engine.StateEngine
	version uint64

	tracker  *FailedTransitionTracker
	detector *StaleReferenceDetector
	diag     *diag.Recorder

	currentAPI atomic.Pointer[ApiHandle]
	generation uint64
	history    *HistoricalState

	listeners []Listener
}

// NewDriver returns an idle Driver with a fresh, empty engine.
func NewDriver(cfg Config, filterCfg *filter.Config) *Driver {
	if cfg.OpenBlob == nil {
		cfg.OpenBlob = func(path string) (*blob.Input, error) {
			return blob.Open(path, blob.SharedMemoryLazy)
		}
	}
	var rec *diag.Recorder
	if cfg.DiagnosticOutput != nil {
		// A misconfigured compressor disables diagnostics rather than
		// failing driver construction: diagnostics are optional debug
		// output, never load-bearing.
		if r, err := diag.NewRecorder(cfg.DiagnosticOutput, cfg.DiagnosticCompress); err == nil {
			rec = r
		}
	}

	return &Driver{
		cfg:       cfg,
		filterCfg: filterCfg,
		state:     Idle,
		eng:       engine.New(recycler.New(recyclerSegmentLen)),
		tracker:   NewFailedTransitionTracker(),
		detector:  NewStaleReferenceDetector(),
		diag:      rec,
	}
}

// Close releases any resources the driver owns, including a compressed
// diagnostic stream's encoder.
func (d *Driver) Close() error {
	return d.diag.Close()
}

// RegisterListener adds l to the set of listeners notified on every
// successful update.
func (d *Driver) RegisterListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// CurrentVersion returns the version of the last successfully applied
// plan.
func (d *Driver) CurrentVersion() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// State returns the driver's current state-machine position.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ReadAPI returns the current read handle, or nil if no update has
// succeeded yet.
func (d *Driver) ReadAPI() *ApiHandle {
	return d.currentAPI.Load()
}

// StaleHandles reports every previously issued ApiHandle that has not
// been dropped but belongs to a superseded generation.
func (d *Driver) StaleHandles() []*ApiHandle {
	d.mu.Lock()
	gen := d.generation
	d.mu.Unlock()
	return d.detector.Stale(gen)
}

// History returns the oldest retained HistoricalState in the chain, or
// nil if no snapshot has yet superseded a generation produced by an
// earlier update.
func (d *Driver) History() *HistoricalState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history
}

// Update applies plan to the driver's engine, per the state machine in
// spec.md §4.10. It is not reentrant: only one Update may run at a time
// (enforced by d.mu), matching the "single-threaded cooperative
// application" scheduling model in spec.md §5.
func (d *Driver) Update(plan *UpdatePlan) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.DoubleSnapshotAllow && d.tracker.Intersects(plan.BlobIDs()) {
		return rodberrors.KnownFailingf("consumer: plan intersects the failed-transition tracker")
	}

	if plan.IsSnapshotPlan() {
		if err := d.applySnapshotLocked(plan); err != nil {
			return err
		}
	} else {
		if err := d.applyDeltasLocked(plan, plan.Deltas); err != nil {
			return err
		}
	}

	d.state = NotifyListeners
	d.version = plan.DestinationVersion
	d.generation++

	handle := &ApiHandle{generation: d.generation}
	d.detector.Track(handle)
	d.currentAPI.Store(handle)

	for _, b := range plan.Blobs() {
		d.fanoutBlobLoaded(b)
		d.diag.BlobLoaded(b.ID, b.Path)
	}
	for _, name := range d.eng.TypeNames() {
		ts, _ := d.eng.GetTypeState(name)
		d.diag.TypeSnapshotted(name, ts.NumShards(), len(ts.Populated()))
	}
	if plan.IsSnapshotPlan() {
		d.fanoutSnapshotApplied(handle, plan.DestinationVersion)
		d.fanoutSnapshotUpdateOccurred(handle, plan.DestinationVersion)
		d.diag.SnapshotApplied(plan.DestinationVersion)
	} else {
		d.fanoutDeltaUpdateOccurred(handle, plan.DestinationVersion)
		d.diag.DeltaApplied(plan.DestinationVersion)
	}

	d.state = Idle
	return nil
}

func (d *Driver) applySnapshotLocked(plan *UpdatePlan) error {
	d.state = ApplyingSnapshot
	in, err := d.cfg.OpenBlob(plan.Snapshot.Path)
	if err != nil {
		wrapped := rodberrors.IOErrorf(err, "consumer: opening snapshot blob %q", plan.Snapshot.ID)
		d.failPlanLocked(plan, wrapped)
		return wrapped
	}
	defer in.Close()

	newEngine := engine.New(recycler.New(recyclerSegmentLen))
	if _, err := reader.ReadSnapshot(in, newEngine, d.filterCfg); err != nil {
		d.failPlanLocked(plan, err)
		return err
	}

	// The engine being replaced is a superseded generation only if an
	// earlier update produced it; the empty engine NewDriver starts with
	// is not recorded. New entries are appended at the tail of the chain.
	if d.generation > 0 {
		newHistory := &HistoricalState{Engine: d.eng, Version: d.version}
		if d.history == nil {
			d.history = newHistory
		} else {
			tail := d.history
			for tail.next != nil {
				tail = tail.next
			}
			tail.next = newHistory
		}
	}

	d.eng = newEngine
	if err := d.applyDeltasLocked(plan, plan.Deltas); err != nil {
		d.failPlanLocked(plan, err)
		return err
	}
	return nil
}

func (d *Driver) applyDeltasLocked(plan *UpdatePlan, deltas []*Blob) error {
	d.state = ApplyingDeltas
	for _, delta := range deltas {
		in, err := d.cfg.OpenBlob(delta.Path)
		if err != nil {
			wrapped := rodberrors.IOErrorf(err, "consumer: opening delta blob %q", delta.ID)
			d.failBlobLocked(delta, wrapped)
			return wrapped
		}
		_, err = reader.ReadDelta(in, d.eng, d.filterCfg)
		closeErr := in.Close()
		if err != nil {
			d.failBlobLocked(delta, err)
			return err
		}
		if closeErr != nil {
			wrapped := rodberrors.IOErrorf(closeErr, "consumer: closing delta blob %q", delta.ID)
			d.failBlobLocked(delta, wrapped)
			return wrapped
		}
	}
	return nil
}

// failPlanLocked marks every blob in plan as failed: a snapshot-plan
// failure poisons the whole plan (spec.md §4.10: "mark every blob in
// the plan as failed (snapshot plan)").
func (d *Driver) failPlanLocked(plan *UpdatePlan, cause error) {
	d.state = Failed
	for _, id := range plan.BlobIDs() {
		d.tracker.MarkFailed(id)
		d.diag.TransitionFailed(id, cause)
	}
}

// failBlobLocked marks only the offending delta blob as failed
// (spec.md §4.10: "...or the specific blob (delta plan)").
func (d *Driver) failBlobLocked(b *Blob, cause error) {
	d.state = Failed
	d.tracker.MarkFailed(b.ID)
	d.diag.TransitionFailed(b.ID, cause)
}

func (d *Driver) fanoutBlobLoaded(b *Blob) {
	for _, l := range d.listeners {
		l.BlobLoaded(b)
	}
}

func (d *Driver) fanoutSnapshotApplied(api *ApiHandle, toVersion uint64) {
	for _, l := range d.listeners {
		l.SnapshotApplied(api, d.eng, toVersion)
	}
}

func (d *Driver) fanoutSnapshotUpdateOccurred(api *ApiHandle, destVersion uint64) {
	for _, l := range d.listeners {
		l.SnapshotUpdateOccurred(api, d.eng, destVersion)
	}
}

func (d *Driver) fanoutDeltaUpdateOccurred(api *ApiHandle, destVersion uint64) {
	for _, l := range d.listeners {
		l.DeltaUpdateOccurred(api, d.eng, destVersion)
	}
}
