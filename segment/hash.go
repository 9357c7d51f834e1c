package segment

import (
	"os"

	"github.com/google/uuid"

	"logkv/kverrors"
	"logkv/kvstore"
	"logkv/linefile"
	"logkv/memindex"
)

// HashSegment is a single append-only line file paired with a full
// key -> offset hash index, rebuilt by a one-time scan on open. Grounded
// on gtarraga-kv-store/v4_indexed's Segment (map[string]int64 index kept
// beside the append log), generalized to the Status-carrying index
// memindex provides so a cold-read can tell a tombstone from a miss.
type HashSegment struct {
	id    int
	dir   string
	file  *linefile.File
	index *memindex.HashIndex
}

// NewHashSegment returns a HashSegment with a fresh, empty index. Use
// OpenHashSegment instead when the backing file may already hold
// records that need indexing.
func NewHashSegment(dir string, id int) *HashSegment {
	return &HashSegment{
		id:    id,
		dir:   dir,
		file:  linefile.New(PathFor(dir, id)),
		index: memindex.NewHashIndex(),
	}
}

// OpenHashSegment returns a HashSegment whose index has been rebuilt by
// scanning the backing file, if any.
func OpenHashSegment(dir string, id int) (*HashSegment, error) {
	s := NewHashSegment(dir, id)
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HashSegment) reload() error {
	s.index.Reset()
	it, err := s.file.Iter()
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		rec := it.Record()
		if rec.Status.IsDeleted() {
			s.index.SetDeleted(rec.Key)
		} else {
			s.index.SetPresent(rec.Key, rec.Offset)
		}
	}
	return it.Err()
}

// ID returns the segment's numeric id.
func (s *HashSegment) ID() int { return s.id }

// Path returns the backing file's path.
func (s *HashSegment) Path() string { return s.file.Path() }

// Size returns the backing file's size in bytes.
func (s *HashSegment) Size() (int64, error) { return s.file.Size() }

// Exists reports whether the backing file is present on disk.
func (s *HashSegment) Exists() bool { return s.file.Exists() }

// GetStatus looks the key up in the in-memory index; a hit on a Present
// entry triggers exactly one random-access read to fetch the value.
func (s *HashSegment) GetStatus(key string) (kvstore.Status, error) {
	entry, ok := s.index.Get(key)
	if !ok {
		return kvstore.AbsentStatus, nil
	}
	if entry.Kind == kvstore.Deleted {
		return kvstore.DeletedStatus, nil
	}
	rec, err := s.file.ReadAt(entry.Offset)
	if err != nil {
		return kvstore.Status{}, err
	}
	return rec.Status, nil
}

// SetStatus appends a record and updates the index with its offset.
func (s *HashSegment) SetStatus(key string, status kvstore.Status) error {
	offset, err := s.file.Append(key, status)
	if err != nil {
		return err
	}
	if status.IsDeleted() {
		s.index.SetDeleted(key)
	} else {
		s.index.SetPresent(key, offset)
	}
	return nil
}

// ReadyToArchive reports whether the backing file has grown past
// threshold bytes.
func (s *HashSegment) ReadyToArchive(threshold int64) bool {
	size, err := s.file.Size()
	if err != nil {
		return false
	}
	return size >= threshold
}

// Absorb copies every key other holds that self does not yet hold,
// taking other's current status. This is a fill-gap-only merge: it does
// not overwrite anything self already has. The background merge worker
// (segmented.DB, configured with segmented.MergeNewestFirst for
// hash-backed engines) exploits this by building the merged accumulator
// from an empty segment and calling Absorb newest-past-segment-first, so
// the first writer of any key — the newest one — always wins.
func (s *HashSegment) Absorb(other *HashSegment) error {
	var firstErr error
	other.index.Range(func(key string, entry memindex.OffsetEntry) {
		if firstErr != nil {
			return
		}
		if _, ok := s.index.Get(key); ok {
			return
		}
		status := kvstore.DeletedStatus
		if entry.Kind != kvstore.Deleted {
			rec, err := other.file.ReadAt(entry.Offset)
			if err != nil {
				firstErr = err
				return
			}
			status = rec.Status
		}
		if err := s.SetStatus(key, status); err != nil {
			firstErr = err
		}
	})
	return firstErr
}

// Compact rewrites the segment dropping tombstones. The output goes to a
// temp file; the original is then removed and the temp file renamed into
// its place.
func (s *HashSegment) Compact() error {
	tmpPath := TempPath(s.dir, "hash-compact", uuid.New().String())
	tmp := linefile.New(tmpPath)
	newIndex := memindex.NewHashIndex()

	var firstErr error
	s.index.Range(func(key string, entry memindex.OffsetEntry) {
		if firstErr != nil || entry.Kind == kvstore.Deleted {
			return
		}
		rec, err := s.file.ReadAt(entry.Offset)
		if err != nil {
			firstErr = err
			return
		}
		offset, err := tmp.Append(key, rec.Status)
		if err != nil {
			firstErr = err
			return
		}
		newIndex.SetPresent(key, offset)
	})
	if firstErr != nil {
		_ = tmp.Delete()
		return firstErr
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
func (s *HashSegment) RenameTo(newID int) error {
	if err := s.file.Rename(PathFor(s.dir, newID)); err != nil {
		return err
	}
	s.id = newID
	return nil
}

// Delete removes the backing file.
func (s *HashSegment) Delete() error {
	return s.file.Delete()
}
