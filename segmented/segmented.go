// Package segmented implements the generic Segmented Files DB from
// spec.md §4.4: a directory of numbered segment files with a single
// mutable "current" segment accepting writes, a growing list of
// read-only "past" segments, and a background worker that consolidates
// past segments into one once they pile up. It is generic over the
// concrete segment implementation (segment.HashSegment or
// segment.SparseSegment), so the same rotation/merge machinery backs
// both SegmentedLogDb and the SST engine's on-disk tier.
//
// Grounded on gtarraga-kv-store/v5's SegmentedLogDb (current/past split,
// RWMutex-guarded rotation, background merge goroutine) generalized over
// segment.File[S] and re-armed with golang.org/x/sync/errgroup for
// worker lifecycle instead of the teacher's bare sync.WaitGroup, so
// Close can propagate a failed merge's error rather than silently
// discard it.
package segmented

import (
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"logkv/kverrors"
	"logkv/kvstore"
	"logkv/metrics"
	"logkv/segment"
)

// MergeOrder picks the direction the background merge worker folds past
// segments into the consolidated accumulator. See segment.HashSegment's
// and segment.SparseSegment's Absorb doc comments: the two segment kinds
// need opposite iteration order because one is a fill-gap copy and the
// other is a genuine two-stream ordered merge. spec.md §9 leaves this as
// an open question for implementers to resolve and document; this is
// that resolution.
type MergeOrder int

const (
	// MergeNewestFirst builds the accumulator from an empty segment and
	// absorbs past segments newest id first, so a fill-gap-only Absorb
	// (segment.HashSegment) lets the first writer of any key — the
	// newest one — win.
	MergeNewestFirst MergeOrder = iota
	// MergeOldestFirst absorbs past segments oldest id first, so a
	// two-stream ordered-merge Absorb (segment.SparseSegment) always
	// sees "other" as the genuinely newer stream and lets it win ties.
	MergeOldestFirst
)

// CreationPolicy controls what exists in a brand-new, empty segment
// directory.
type CreationPolicy int

const (
	// Automatic eagerly creates a current segment at id 0 even if the
	// directory is empty, matching the log-tier engines: there is
	// always a segment to write the first record into.
	Automatic CreationPolicy = iota
	// Triggered leaves the directory with zero segment files until the
	// caller explicitly populates one (segment.File's backing line file
	// itself is never created until its first write, so this only
	// matters for whether a current-segment placeholder object exists).
	// The SST engine uses this: an SSTable directory that has never
	// been flushed has no segment files at all.
	Triggered
)

// Factory constructs a fresh, empty segment of type S rooted at dir with
// the given id.
type Factory[S any] func(dir string, id int) S

// Opener reconstructs a segment of type S from an existing on-disk file,
// rebuilding whatever in-memory index it keeps.
type Opener[S any] func(dir string, id int) (S, error)

// DB is a segmented-files engine generic over a concrete segment type.
type DB[S segment.File[S]] struct {
	mu    sync.RWMutex
	dir   string
	newFn Factory[S]

	archiveThreshold int64
	mergeThreshold   int
	mergeOrder       MergeOrder
	policy           CreationPolicy

	current    S
	hasCurrent bool
	past       []S

	logger       *zap.Logger
	group        *errgroup.Group
	mergeRunning atomic.Bool
	// poisoned is set once and for all by withLock/withRLock after
	// recovering a panic mid-critical-section; every public method checks
	// it up front and fails with a LockPoisoned error rather than risk
	// operating on current/past state whose invariants may no longer hold.
	poisoned atomic.Bool
	closed   bool
}

// Option configures a DB at construction time.
type Option[S segment.File[S]] func(*DB[S])

// WithArchiveThreshold sets the current-segment byte size at which it is
// rotated into past (Automatic-policy engines only; Triggered-policy
// engines never grow a current segment incrementally).
func WithArchiveThreshold[S segment.File[S]](bytes int64) Option[S] {
	return func(d *DB[S]) { d.archiveThreshold = bytes }
}

// WithMergeThreshold sets how many past segments accumulate before the
// background merge worker is triggered.
func WithMergeThreshold[S segment.File[S]](n int) Option[S] {
	return func(d *DB[S]) { d.mergeThreshold = n }
}

// WithMergeOrder overrides the default merge fold direction
// (MergeNewestFirst).
func WithMergeOrder[S segment.File[S]](order MergeOrder) Option[S] {
	return func(d *DB[S]) { d.mergeOrder = order }
}

// WithLogger overrides the default no-op logger.
func WithLogger[S segment.File[S]](logger *zap.Logger) Option[S] {
	return func(d *DB[S]) { d.logger = logger }
}

// Open scans dir for existing "<id>.txt" segment files, reconstructs
// them via open, and designates the greatest id as current (the rest,
// past). An empty directory is seeded with a fresh id-0 current segment
// under Automatic policy, or left with no current segment at all under
// Triggered policy.
func Open[S segment.File[S]](dir string, newFn Factory[S], open Opener[S], policy CreationPolicy, opts ...Option[S]) (*DB[S], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kverrors.Wrap(err, "create segment directory %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, kverrors.Wrap(err, "scan segment directory %s", dir)
	}
	var ids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := segment.ParseID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	d := &DB[S]{
		dir:              dir,
		newFn:            newFn,
		archiveThreshold: 1 << 20,
		mergeThreshold:   3,
		mergeOrder:       MergeNewestFirst,
		policy:           policy,
		logger:           zap.NewNop(),
		group:            &errgroup.Group{},
	}
	for _, opt := range opts {
		opt(d)
	}

	if len(ids) == 0 {
		if policy == Automatic {
			d.current = newFn(dir, 0)
			d.hasCurrent = true
		}
		return d, nil
	}

	maxID := ids[len(ids)-1]
	for _, id := range ids {
		seg, err := open(dir, id)
		if err != nil {
			return nil, err
		}
		if id == maxID {
			d.current = seg
			d.hasCurrent = true
		} else {
			d.past = append(d.past, seg)
		}
	}
	return d, nil
}

func (d *DB[S]) maxIDLocked() int {
	max := -1
	if d.hasCurrent {
		max = d.current.ID()
	}
	for _, p := range d.past {
		if p.ID() > max {
			max = p.ID()
		}
	}
	return max
}

// ensureCurrentLocked creates a current segment if none exists yet
// (Triggered-policy bootstrap on first write).
func (d *DB[S]) ensureCurrentLocked() {
	if d.hasCurrent {
		return
	}
	d.current = d.newFn(d.dir, d.maxIDLocked()+1)
	d.hasCurrent = true
}

// rotateLocked promotes the current segment into past under a freshly
// assigned id and opens a new current segment.
func (d *DB[S]) rotateLocked() error {
	maxID := d.maxIDLocked()
	promotedID := maxID + 1
	newCurrentID := maxID + 2
	if err := d.current.RenameTo(promotedID); err != nil {
		return err
	}
	d.past = append(d.past, d.current)
	d.current = d.newFn(d.dir, newCurrentID)
	return nil
}

// poisonedErr reports that d is permanently failing closed after a
// recovered panic left its locked state's invariants unknown.
func (d *DB[S]) poisonedErr() error {
	return kverrors.LockPoisoned("segmented db %s is poisoned after a recovered panic", d.dir)
}

// withLock runs fn holding mu for writing. A panic inside fn is
// recovered, marks d permanently poisoned, and is reported back as a
// LockPoisoned error instead of crashing the caller or leaving mu's
// protected fields in an unknown state for the next locker.
func (d *DB[S]) withLock(fn func() error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer kverrors.RecoverLock(&err, &d.poisoned)
	return fn()
}

// withRLock is withLock's read-side counterpart.
func (d *DB[S]) withRLock(fn func() error) (err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	defer kverrors.RecoverLock(&err, &d.poisoned)
	return fn()
}

// GetStatus looks a key up in current, then past segments newest to
// oldest, returning the first non-Absent status found.
func (d *DB[S]) GetStatus(key string) (kvstore.Status, error) {
	if d.poisoned.Load() {
		return kvstore.Status{}, d.poisonedErr()
	}

	var result kvstore.Status
	err := d.withRLock(func() error {
		if d.hasCurrent {
			st, err := d.current.GetStatus(key)
			if err != nil {
				return err
			}
			if !st.IsAbsent() {
				result = st
				return nil
			}
		}
		for i := len(d.past) - 1; i >= 0; i-- {
			st, err := d.past[i].GetStatus(key)
			if err != nil {
				return err
			}
			if !st.IsAbsent() {
				result = st
				return nil
			}
		}
		result = kvstore.AbsentStatus
		return nil
	})
	return result, err
}

// SetStatus first rotates the current segment into past if it has
// reached the archive threshold (creating a current segment first if
// this is the very first write to a Triggered-policy DB), then writes to
// the current segment, and finally checks whether past has grown enough
// to trigger a background merge.
func (d *DB[S]) SetStatus(key string, status kvstore.Status) error {
	if d.poisoned.Load() {
		return d.poisonedErr()
	}

	if err := d.withLock(func() error {
		d.ensureCurrentLocked()
		if d.current.ReadyToArchive(d.archiveThreshold) {
			if err := d.rotateLocked(); err != nil {
				d.logger.Error("segment rotation failed", zap.Error(err))
				return err
			}
		}
		return d.current.SetStatus(key, status)
	}); err != nil {
		return err
	}

	d.checkMergeTrigger()
	return nil
}

// FlushNew creates a brand-new segment, hands it to populate to fill
// (outside the lock, since populate performs the bulk I/O), then files
// it directly into past — bypassing the current/rotate path entirely.
// This is how the SST engine turns a flushed memtable snapshot into a
// segment: the whole segment is built in one shot in sorted key order,
// not grown incrementally the way a log-tier current segment is.
func (d *DB[S]) FlushNew(populate func(seg S) error) error {
	if d.poisoned.Load() {
		return d.poisonedErr()
	}

	var seg S
	if err := d.withLock(func() error {
		nextID := d.maxIDLocked() + 1
		seg = d.newFn(d.dir, nextID)
		return nil
	}); err != nil {
		return err
	}

	if err := populate(seg); err != nil {
		return err
	}

	if err := d.withLock(func() error {
		d.past = append(d.past, seg)
		return nil
	}); err != nil {
		return err
	}

	d.checkMergeTrigger()
	return nil
}

func (d *DB[S]) checkMergeTrigger() {
	if d.poisoned.Load() {
		return
	}
	var shouldMerge bool
	if err := d.withRLock(func() error {
		shouldMerge = len(d.past) >= d.mergeThreshold
		return nil
	}); err != nil {
		return
	}
	if shouldMerge {
		d.triggerMerge()
	}
}

// TriggerMerge starts a background merge if one is not already running.
// It returns immediately; use Close (or, in a test, a synchronous
// RunMerge call) to observe completion.
func (d *DB[S]) TriggerMerge() {
	d.triggerMerge()
}

func (d *DB[S]) triggerMerge() {
	if d.poisoned.Load() {
		return
	}
	if !d.mergeRunning.CompareAndSwap(false, true) {
		return
	}
	d.group.Go(func() error {
		defer d.mergeRunning.Store(false)
		if err := d.RunMerge(); err != nil {
			d.logger.Error("background segment merge failed", zap.Error(err))
			metrics.MergeFailures.Inc()
			return err
		}
		return nil
	})
}

// RunMerge consolidates a snapshot of the current past-segment list into
// a single compacted segment at id 0. It runs the merge I/O without
// holding the lock, then swaps the result in, only removing the past
// segments that were actually part of the snapshot — any segment
// rotated in concurrently during the merge survives untouched.
func (d *DB[S]) RunMerge() error {
	if d.poisoned.Load() {
		return d.poisonedErr()
	}

	var snapshot []S
	if err := d.withRLock(func() error {
		if len(d.past) < 2 {
			return nil
		}
		snapshot = append([]S(nil), d.past...)
		return nil
	}); err != nil {
		return err
	}
	if len(snapshot) < 2 {
		return nil
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID() < snapshot[j].ID() })
	if d.mergeOrder == MergeNewestFirst {
		for i, j := 0, len(snapshot)-1; i < j; i, j = i+1, j-1 {
			snapshot[i], snapshot[j] = snapshot[j], snapshot[i]
		}
	}

	merged := d.newFn(d.dir, segment.ReservedMergeID)
	for _, seg := range snapshot {
		if err := merged.Absorb(seg); err != nil {
			return err
		}
	}
	if err := merged.Compact(); err != nil {
		return err
	}

	consumed := make(map[int]bool, len(snapshot))
	for _, s := range snapshot {
		consumed[s.ID()] = true
	}

	return d.withLock(func() error {
		kept := d.past[:0:0]
		for _, p := range d.past {
			if consumed[p.ID()] {
				if err := p.Delete(); err != nil {
					d.logger.Warn("failed to delete consumed segment after merge", zap.Int("id", p.ID()), zap.Error(err))
				}
				continue
			}
			kept = append(kept, p)
		}
		// Renamed only after the consumed files are gone, so a consumed
		// segment 0 from an earlier merge cannot delete the new 0.txt.
		if err := merged.RenameTo(0); err != nil {
			return err
		}
		d.past = append([]S{merged}, kept...)
		return nil
	})
}

// Past returns a snapshot of the current past-segment list, for callers
// (e.g. the SST engine's iteration helpers) that need to read across
// every tier directly.
func (d *DB[S]) Past() []S {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]S(nil), d.past...)
}

// Current returns the current segment and whether one exists.
func (d *DB[S]) Current() (S, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current, d.hasCurrent
}

// Describe returns a short human-readable summary of the DB's segment
// layout.
func (d *DB[S]) Describe() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	currentID := -1
	if d.hasCurrent {
		currentID = d.current.ID()
	}
	return describeLayout(d.dir, currentID, len(d.past))
}

func describeLayout(dir string, currentID, pastCount int) string {
	if currentID < 0 {
		return dir + ": no current segment, " + strconv.Itoa(pastCount) + " past"
	}
	return dir + ": current=" + strconv.Itoa(currentID) + ", " + strconv.Itoa(pastCount) + " past"
}

// Close joins any in-flight background merge and marks the DB closed.
// Safe to call more than once.
func (d *DB[S]) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.group.Wait()
}
