// Package logengine implements the first three engines of the log family
// from spec.md §4.1/§4.2/§4.4: a bare append-only log scanned in full on
// every read, the same log backed by a full hash index, and a segmented,
// background-merged version of the indexed log. Grounded on
// gtarraga-kv-store's v1 (LogDb), v4_indexed (LogWithIndexDb) and v5
// (SegmentedLogDb).
package logengine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"logkv/kverrors"
	"logkv/kvstore"
	"logkv/linefile"
)

// LogDb is the simplest engine: one append-only file, no index at all.
// Every Get scans the whole file, keeping only the last-seen status for
// the requested key. Grounded on gtarraga-kv-store/v1's Db.
type LogDb struct {
	mu       sync.Mutex
	file     *linefile.File
	logger   *zap.Logger
	poisoned atomic.Bool
}

var _ kvstore.Engine = (*LogDb)(nil)

// NewLogDb returns a LogDb backed by path. The file need not exist yet.
func NewLogDb(path string, opts ...Option) *LogDb {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LogDb{file: linefile.New(path), logger: cfg.logger}
}

// Set appends a Present record for key. The mutex serializes concurrent
// writers so each append's offset bookkeeping stays consistent; LogDb
// itself never reads an offset, but the shared linefile.File contract
// promises one append completes before the next begins.
func (e *LogDb) Set(key, value string) error {
	if e.poisoned.Load() {
		return e.poisonedErr()
	}
	return e.withLock(func() error {
		_, err := e.file.Append(key, kvstore.PresentStatus(value))
		return err
	})
}

// Delete appends a tombstone for key.
func (e *LogDb) Delete(key string) error {
	if e.poisoned.Load() {
		return e.poisonedErr()
	}
	return e.withLock(func() error {
		_, err := e.file.Append(key, kvstore.DeletedStatus)
		return err
	})
}

// poisonedErr reports that e is permanently failing closed after a
// recovered panic left its locked state's invariants unknown.
func (e *LogDb) poisonedErr() error {
	return kverrors.LockPoisoned("log db %s is poisoned after a recovered panic", e.file.Path())
}

// withLock runs fn holding mu, recovering any panic into a LockPoisoned
// error and permanently poisoning e — see segmented.DB.withLock, which
// this mirrors.
func (e *LogDb) withLock(fn func() error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer kverrors.RecoverLock(&err, &e.poisoned)
	return fn()
}

// Get scans the entire file from the beginning, tracking the last status
// seen for key, and returns it. This is the engine's defining tradeoff:
// correct, but O(file size) per read.
func (e *LogDb) Get(key string) (string, bool, error) {
	it, err := e.file.Iter()
	if err != nil {
		return "", false, err
	}
	defer it.Close()

	status := kvstore.AbsentStatus
	for it.Next() {
		rec := it.Record()
		if rec.Key == key {
			status = rec.Status
		}
	}
	if err := it.Err(); err != nil {
		return "", false, err
	}
	if status.IsPresent() {
		return status.Value, true, nil
	}
	return "", false, nil
}

// Description returns a human-readable label for this engine instance.
func (e *LogDb) Description() string {
	return "LogDb(" + e.file.Path() + ")"
}

// Close is a no-op: LogDb owns no background worker and no open
// descriptor between calls.
func (e *LogDb) Close() error { return nil }
