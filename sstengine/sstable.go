// Package sstengine implements the SST engine from spec.md §4.5: an
// ordered in-memory memtable that absorbs writes, a write-ahead-ish
// backup file that lets a crash replay the memtable instead of losing
// it, a background flush worker that turns a full memtable into a new
// sorted-sparse on-disk segment, and the segmented.DB machinery (already
// built for the hash-indexed log family) reused with
// segment.SparseSegment to hold and periodically merge those segments.
//
// Grounded on gtarraga-kv-store/v6's overall shape (skiplist memtable,
// WAL-style backup, background flush/merge threads) — the one piece of
// the teacher that was never finished — completed here against
// spec.md's actual SST design instead of v6's stranded B-tree
// experiment.
package sstengine

import (
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"logkv/kverrors"
	"logkv/kvstore"
	"logkv/linefile"
	"logkv/metrics"
	"logkv/segment"
	"logkv/segmented"
)

const (
	activeBackupName = "memtable_backup.txt"
	shadowBackupName = "tmp_memtable_backup.txt"
)

// SSTable is the sorted-string-table engine: an in-memory sorted
// memtable over a segmented, sparse-indexed on-disk tier.
type SSTable struct {
	mu sync.RWMutex

	dir          string
	active       *memTable
	activeBackup *linefile.File
	shadow       *memTable // nil unless a flush is in flight
	shadowBackup *linefile.File

	flushThreshold int
	db             *segmented.DB[*segment.SparseSegment]

	flushGroup   errgroup.Group
	flushRunning atomic.Bool
	// poisoned is set once and for all by withLock after recovering a
	// panic mid-critical-section (see segmented.DB's identical field):
	// every public method checks it up front and fails with a
	// LockPoisoned error instead of risking a write against memtable
	// state whose invariants may no longer hold.
	poisoned atomic.Bool
	logger   *zap.Logger
	closed   bool
}

var _ kvstore.Engine = (*SSTable)(nil)

// Open opens (or creates) an SSTable rooted at dir, replaying any
// memtable backup files left behind by a prior crash before accepting
// new writes.
func Open(dir string, opts ...Option) (*SSTable, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &SSTable{
		dir:            dir,
		activeBackup:   linefile.New(filepath.Join(dir, activeBackupName)),
		shadowBackup:   linefile.New(filepath.Join(dir, shadowBackupName)),
		flushThreshold: cfg.flushThreshold,
		logger:         cfg.logger,
	}

	active, err := replayBackup(s.activeBackup)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = newMemTable()
	}
	s.active = active

	shadow, err := replayBackup(s.shadowBackup)
	if err != nil {
		return nil, err
	}
	s.shadow = shadow // nil if there was nothing to recover

	db, err := segmented.Open[*segment.SparseSegment](
		dir,
		func(dir string, id int) *segment.SparseSegment { return segment.NewSparseSegment(dir, id, cfg.sparsity) },
		func(dir string, id int) (*segment.SparseSegment, error) { return segment.OpenSparseSegment(dir, id, cfg.sparsity) },
		segmented.Triggered,
		segmented.WithMergeThreshold[*segment.SparseSegment](cfg.mergeThreshold),
		segmented.WithMergeOrder[*segment.SparseSegment](segmented.MergeOldestFirst),
		segmented.WithLogger[*segment.SparseSegment](cfg.logger),
	)
	if err != nil {
		return nil, err
	}
	s.db = db

	if s.shadow != nil {
		s.triggerFlush()
	}
	return s, nil
}

func replayBackup(f *linefile.File) (*memTable, error) {
	if !f.Exists() {
		return nil, nil
	}
	mt := newMemTable()
	it, err := f.Iter()
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for it.Next() {
		rec := it.Record()
		mt.Set(rec.Key, rec.Status)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return mt, nil
}

// Set stores value under key.
func (s *SSTable) Set(key, value string) error {
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	if err := kvstore.ValidateValue(value); err != nil {
		return err
	}
	return s.apply(key, kvstore.PresentStatus(value))
}

// Delete marks key as deleted.
func (s *SSTable) Delete(key string) error {
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	return s.apply(key, kvstore.DeletedStatus)
}

// apply appends the write to the active backup file — logging and
// counting, but not failing the call, if that append fails, per
// spec.md §7's guidance that a memtable-backup write failure should be
// surfaced as a metric rather than rejecting the write outright — then
// applies it to the in-memory active memtable, rotating to the shadow
// slot and kicking off a background flush once the memtable has grown
// past its threshold. Per spec.md §4.5 point 1, the rotation requires
// both of the shadow slot's conditions to hold at once: the shadow is
// empty (s.shadow == nil) and no flush thread is currently running
// (!s.flushRunning). Checking flushRunning here, not just inside
// triggerFlush's CAS, closes the window between runFlush clearing
// s.shadow and its goroutine clearing flushRunning — without it, a
// write landing in that window could rotate a fresh shadow into place
// that triggerFlush's CAS would then silently refuse to flush, with no
// other path ever retrying it.
func (s *SSTable) apply(key string, status kvstore.Status) error {
	if s.poisoned.Load() {
		return s.poisonedErr()
	}

	var shouldFlush bool
	err := s.withLock(func() error {
		if _, err := s.activeBackup.Append(key, status); err != nil {
			s.logger.Warn("memtable backup append failed; durability downgraded until next flush",
				zap.String("key", key), zap.Error(err))
			metrics.MemtableBackupFailures.Inc()
		}

		s.active.Set(key, status)

		shouldFlush = s.shadow == nil && !s.flushRunning.Load() && s.active.Len() >= s.flushThreshold
		if shouldFlush {
			return s.rotateLocked()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if shouldFlush {
		s.triggerFlush()
	}
	return nil
}

// poisonedErr reports that s is permanently failing closed after a
// recovered panic left its locked state's invariants unknown.
func (s *SSTable) poisonedErr() error {
	return kverrors.LockPoisoned("sstable %s is poisoned after a recovered panic", s.dir)
}

// withLock runs fn holding mu for writing, recovering any panic into a
// LockPoisoned error and permanently poisoning s — see
// segmented.DB.withLock, which this mirrors.
func (s *SSTable) withLock(fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer kverrors.RecoverLock(&err, &s.poisoned)
	return fn()
}

// withRLock is withLock's read-side counterpart.
func (s *SSTable) withRLock(fn func() error) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer kverrors.RecoverLock(&err, &s.poisoned)
	return fn()
}

// rotateLocked moves the active memtable and its backup file into the
// shadow slot and opens a fresh, empty active memtable and backup file.
// Must be called with mu held for writing.
func (s *SSTable) rotateLocked() error {
	if err := s.activeBackup.Rename(filepath.Join(s.dir, shadowBackupName)); err != nil {
		return err
	}
	s.shadow = s.active
	s.shadowBackup = s.activeBackup
	s.active = newMemTable()
	s.activeBackup = linefile.New(filepath.Join(s.dir, activeBackupName))
	return nil
}

func (s *SSTable) triggerFlush() {
	if s.poisoned.Load() {
		return
	}
	if !s.flushRunning.CompareAndSwap(false, true) {
		return
	}
	s.flushGroup.Go(func() error {
		defer s.flushRunning.Store(false)
		if err := s.runFlush(); err != nil {
			s.logger.Error("background memtable flush failed", zap.Error(err))
			metrics.FlushFailures.Inc()
			return err
		}
		return nil
	})
}

// runFlush drains the shadow memtable into a brand-new sparse segment,
// in ascending key order, then deletes the shadow's backup file and
// frees the shadow slot for the next rotation.
func (s *SSTable) runFlush() error {
	if s.poisoned.Load() {
		return s.poisonedErr()
	}

	var shadow *memTable
	var shadowBackup *linefile.File
	if err := s.withRLock(func() error {
		shadow = s.shadow
		shadowBackup = s.shadowBackup
		return nil
	}); err != nil {
		return err
	}
	if shadow == nil {
		return nil
	}

	err := s.db.FlushNew(func(seg *segment.SparseSegment) error {
		it := shadow.Iter()
		for it.Next() {
			if err := seg.SetStatus(it.Key(), it.Status()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := shadowBackup.Delete(); err != nil {
		return err
	}

	return s.withLock(func() error {
		s.shadow = nil
		return nil
	})
}

// Get consults the active memtable, then the shadow memtable (if a
// flush is in flight), then the on-disk segment tier.
func (s *SSTable) Get(key string) (string, bool, error) {
	if s.poisoned.Load() {
		return "", false, s.poisonedErr()
	}

	var st kvstore.Status
	var hit bool
	err := s.withRLock(func() error {
		if found, ok := s.active.Get(key); ok {
			st, hit = found, true
			return nil
		}
		if s.shadow != nil {
			if found, ok := s.shadow.Get(key); ok {
				st, hit = found, true
			}
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if hit {
		return statusResult(st)
	}

	st, err = s.db.GetStatus(key)
	if err != nil {
		return "", false, err
	}
	return statusResult(st)
}

func statusResult(st kvstore.Status) (string, bool, error) {
	if st.IsPresent() {
		return st.Value, true, nil
	}
	return "", false, nil
}

// Description returns a human-readable summary of the engine's state.
func (s *SSTable) Description() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return "SSTable(" + s.db.Describe() + ", active_keys=" + strconv.Itoa(s.active.Len()) + ")"
}

// Close joins the background flush worker and the segmented tier's
// background merge worker.
func (s *SSTable) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.flushGroup.Wait(); err != nil {
		return err
	}
	return s.db.Close()
}
