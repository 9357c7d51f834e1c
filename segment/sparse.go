package segment

import (
	"os"

	"github.com/google/uuid"

	"logkv/kverrors"
	"logkv/kvstore"
	"logkv/linefile"
	"logkv/memindex"
)

// SparseSegment is an append-only line file that holds records in sorted
// key order, paired with a sparse (key, offset) checkpoint list spaced at
// least sparsity bytes apart. Grounded on spec.md §4.3's own description
// of the SST engine's on-disk segment format; the skip-list / ordered
// output idea it generalizes traces to gtarraga-kv-store/v6's (partially
// built) SSTable experiment.
//
// Callers must only ever SetStatus keys in non-decreasing order — the
// contract the SST engine's memtable flush and the merge worker's
// ordered output both satisfy by construction.
type SparseSegment struct {
	id       int
	dir      string
	sparsity int64
	file     *linefile.File
	index    *memindex.SparseIndex
}

// NewSparseSegment returns a SparseSegment with a fresh, empty sparse
// index. sparsity is the minimum byte gap between indexed checkpoints.
func NewSparseSegment(dir string, id int, sparsity int64) *SparseSegment {
	return &SparseSegment{
		id:       id,
		dir:      dir,
		sparsity: sparsity,
		file:     linefile.New(PathFor(dir, id)),
		index:    memindex.NewSparseIndex(),
	}
}

// OpenSparseSegment returns a SparseSegment whose sparse index has been
// rebuilt by scanning the backing file, if any.
func OpenSparseSegment(dir string, id int, sparsity int64) (*SparseSegment, error) {
	s := NewSparseSegment(dir, id, sparsity)
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SparseSegment) reload() error {
	s.index.Reset()
	it, err := s.file.Iter()
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		rec := it.Record()
		s.index.MaybeAppend(rec.Key, rec.Offset, s.sparsity)
	}
	return it.Err()
}

// ID returns the segment's numeric id.
func (s *SparseSegment) ID() int { return s.id }

// Path returns the backing file's path.
func (s *SparseSegment) Path() string { return s.file.Path() }

// Size returns the backing file's size in bytes.
func (s *SparseSegment) Size() (int64, error) { return s.file.Size() }

// Exists reports whether the backing file is present on disk.
func (s *SparseSegment) Exists() bool { return s.file.Exists() }

// GetStatus finds the floor checkpoint for key via binary search, then
// scans forward from it, remembering the last record seen for key, until
// the stream's keys pass key or the file is exhausted.
func (s *SparseSegment) GetStatus(key string) (kvstore.Status, error) {
	offset, ok := s.index.Floor(key)
	if !ok {
		return kvstore.AbsentStatus, nil
	}

	it, err := s.file.IterFrom(offset)
	if err != nil {
		return kvstore.Status{}, err
	}
	defer it.Close()

	result := kvstore.AbsentStatus
	for it.Next() {
		rec := it.Record()
		if rec.Key > key {
			break
		}
		if rec.Key == key {
			result = rec.Status
		}
	}
	if err := it.Err(); err != nil {
		return kvstore.Status{}, err
	}
	return result, nil
}

// SetStatus appends a record — the caller must supply keys in
// non-decreasing order — and conditionally grows the sparse index.
func (s *SparseSegment) SetStatus(key string, status kvstore.Status) error {
	offset, err := s.file.Append(key, status)
	if err != nil {
		return err
	}
	s.index.MaybeAppend(key, offset, s.sparsity)
	return nil
}

// ReadyToArchive reports whether the backing file has grown past
// threshold bytes.
func (s *SparseSegment) ReadyToArchive(threshold int64) bool {
	size, err := s.file.Size()
	if err != nil {
		return false
	}
	return size >= threshold
}

// Absorb performs a two-way ordered merge of self (stream A, treated as
// the older side) against other (stream B, treated as the newer side):
// it walks both sorted streams with a head slot each (a, b) and writes
// whichever head key is smaller to the output (w); on equal keys it
// writes b's record and discards a's, so the newer side wins ties. The
// merged output replaces self's backing file and sparse index.
//
// segmented.DB calls Absorb building the accumulator from the OLDEST
// past segment and folding in progressively NEWER ones
// (segmented.MergeOldestFirst) — the opposite order from HashSegment's
// merge — because unlike the hash fill-gap merge, this is a genuine
// interleaving of two sorted streams and only works if "other" really is
// the newer one.
func (s *SparseSegment) Absorb(other *SparseSegment) error {
	aIter, err := s.file.Iter()
	if err != nil {
		return err
	}
	defer aIter.Close()
	bIter, err := other.file.Iter()
	if err != nil {
		return err
	}
	defer bIter.Close()

	tmpPath := TempPath(s.dir, "sparse-merge", uuid.New().String())
	tmp := linefile.New(tmpPath)
	newIndex := memindex.NewSparseIndex()

	write := func(key string, status kvstore.Status) error {
		offset, err := tmp.Append(key, status)
		if err != nil {
			return err
		}
		newIndex.MaybeAppend(key, offset, s.sparsity)
		return nil
	}

	aHas, bHas := aIter.Next(), bIter.Next()
	for aHas || bHas {
		switch {
		case aHas && (!bHas || aIter.Record().Key < bIter.Record().Key):
			if err := write(aIter.Record().Key, aIter.Record().Status); err != nil {
				return err
			}
			aHas = aIter.Next()
		case bHas && (!aHas || bIter.Record().Key < aIter.Record().Key):
			if err := write(bIter.Record().Key, bIter.Record().Status); err != nil {
				return err
			}
			bHas = bIter.Next()
		default: // equal keys: b (newer) wins, a's record is discarded
			if err := write(bIter.Record().Key, bIter.Record().Status); err != nil {
				return err
			}
			aHas = aIter.Next()
			bHas = bIter.Next()
		}
	}
	if err := aIter.Err(); err != nil {
		return err
	}
	if err := bIter.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.file.Path()); err != nil && !os.IsNotExist(err) {
		_ = tmp.Delete()
		return kverrors.Io(err, "remove %s during merge", s.file.Path())
	}
	if err := tmp.Rename(s.file.Path()); err != nil {
		return err
	}
	s.index = newIndex
	return nil
}

// Compact rewrites the segment keeping only the last record of each key
// and dropping it when that record is a tombstone, rebuilding the sparse
// index over the surviving records. The output goes to a temp file; the
// original is then removed and the temp file renamed into its place.
func (s *SparseSegment) Compact() error {
	it, err := s.file.Iter()
	if err != nil {
		return err
	}
	defer it.Close()

	tmpPath := TempPath(s.dir, "sparse-compact", uuid.New().String())
	tmp := linefile.New(tmpPath)
	newIndex := memindex.NewSparseIndex()

	// Records for one key are adjacent in a sorted segment; held is the
	// latest of the current run and is written once the run ends.
	var held linefile.Record
	hasHeld := false
	for {
		more := it.Next()
		rec := it.Record()
		if hasHeld && (!more || rec.Key != held.Key) && !held.Status.IsDeleted() {
			offset, err := tmp.Append(held.Key, held.Status)
			if err != nil {
				_ = tmp.Delete()
				return err
			}
			newIndex.MaybeAppend(held.Key, offset, s.sparsity)
		}
		if !more {
			break
		}
		held, hasHeld = rec, true
	}
	if err := it.Err(); err != nil {
		_ = tmp.Delete()
		return err
	}

	if err := os.Remove(s.file.Path()); err != nil && !os.IsNotExist(err) {
		_ = tmp.Delete()
		return kverrors.Io(err, "remove %s during compaction", s.file.Path())
	}
	if err := tmp.Rename(s.file.Path()); err != nil {
		return err
	}
	s.index = newIndex
	return nil
}

// RenameTo moves the segment's backing file to the path for newID and
// updates its id.
func (s *SparseSegment) RenameTo(newID int) error {
	if err := s.file.Rename(PathFor(s.dir, newID)); err != nil {
		return err
	}
	s.id = newID
	return nil
}

// Delete removes the backing file.
func (s *SparseSegment) Delete() error {
	return s.file.Delete()
}
