package logengine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"logkv/kverrors"
	"logkv/kvstore"
	"logkv/linefile"
	"logkv/memindex"
)

// LogWithIndexDb is LogDb plus a full in-memory hash index, rebuilt by a
// one-time scan on open, turning Get into one index lookup and at most
// one random-access read. Grounded on gtarraga-kv-store/v4_indexed's Db.
type LogWithIndexDb struct {
	mu       sync.RWMutex
	file     *linefile.File
	index    *memindex.HashIndex
	logger   *zap.Logger
	poisoned atomic.Bool
}

var _ kvstore.Engine = (*LogWithIndexDb)(nil)

// OpenLogWithIndexDb opens path, rebuilding the hash index by scanning
// any existing records.
func OpenLogWithIndexDb(path string, opts ...Option) (*LogWithIndexDb, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &LogWithIndexDb{
		file:   linefile.New(path),
		index:  memindex.NewHashIndex(),
		logger: cfg.logger,
	}
	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *LogWithIndexDb) reload() error {
	it, err := e.file.Iter()
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		rec := it.Record()
		if rec.Status.IsDeleted() {
			e.index.SetDeleted(rec.Key)
		} else {
			e.index.SetPresent(rec.Key, rec.Offset)
		}
	}
	return it.Err()
}

// Set appends a Present record and updates the index with its offset.
func (e *LogWithIndexDb) Set(key, value string) error {
	if e.poisoned.Load() {
		return e.poisonedErr()
	}
	return e.withLock(func() error {
		offset, err := e.file.Append(key, kvstore.PresentStatus(value))
		if err != nil {
			return err
		}
		e.index.SetPresent(key, offset)
		return nil
	})
}

// Delete appends a tombstone and marks the index entry Deleted.
func (e *LogWithIndexDb) Delete(key string) error {
	if e.poisoned.Load() {
		return e.poisonedErr()
	}
	return e.withLock(func() error {
		_, err := e.file.Append(key, kvstore.DeletedStatus)
		if err != nil {
			return err
		}
		e.index.SetDeleted(key)
		return nil
	})
}

// Get looks key up in the index; a Present hit costs one random-access
// read to fetch the value.
func (e *LogWithIndexDb) Get(key string) (string, bool, error) {
	if e.poisoned.Load() {
		return "", false, e.poisonedErr()
	}

	var value string
	var hit bool
	err := e.withRLock(func() error {
		entry, ok := e.index.Get(key)
		if !ok || entry.Kind == kvstore.Deleted {
			return nil
		}
		rec, err := e.file.ReadAt(entry.Offset)
		if err != nil {
			return err
		}
		value, hit = rec.Status.Value, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, hit, nil
}

// poisonedErr reports that e is permanently failing closed after a
// recovered panic left its locked state's invariants unknown.
func (e *LogWithIndexDb) poisonedErr() error {
	return kverrors.LockPoisoned("log-with-index db %s is poisoned after a recovered panic", e.file.Path())
}

// withLock runs fn holding mu for writing, recovering any panic into a
// LockPoisoned error and permanently poisoning e — see
// segmented.DB.withLock, which this mirrors.
func (e *LogWithIndexDb) withLock(fn func() error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer kverrors.RecoverLock(&err, &e.poisoned)
	return fn()
}

// withRLock is withLock's read-side counterpart.
func (e *LogWithIndexDb) withRLock(fn func() error) (err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defer kverrors.RecoverLock(&err, &e.poisoned)
	return fn()
}

// Description returns a human-readable label for this engine instance.
func (e *LogWithIndexDb) Description() string {
	return "LogWithIndexDb(" + e.file.Path() + ")"
}

// Close is a no-op: the file is reopened per call and there is no
// background worker to join.
func (e *LogWithIndexDb) Close() error { return nil }
