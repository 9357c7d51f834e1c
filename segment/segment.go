// Package segment implements the two concrete Segment File variants from
// spec.md §4.2/§4.3: a hash-indexed log segment and a sorted-sparse
// segment. Both pair a linefile.File with a memindex, and both satisfy
// the narrow capability set segmented.DB needs (get/set status, archive
// readiness, absorb, compact, rename, delete) — expressed here as an F-bounded generic
// interface, per spec.md §9's design note ("generics over a segment-file
// capability set"), grounded on gtarraga-kv-store/v6's own use of Go
// generics for its RedBlackTree[T cmp.Ordered].
package segment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"logkv/kvstore"
)

// File is the capability set segmented.DB requires of a segment
// implementation. S is the concrete segment type itself (HashSegment or
// SparseSegment), so Absorb can be typed over same-kind peers.
type File[S any] interface {
	ID() int
	Path() string
	Size() (int64, error)
	Exists() bool
	GetStatus(key string) (kvstore.Status, error)
	SetStatus(key string, status kvstore.Status) error
	ReadyToArchive(threshold int64) bool
	Absorb(other S) error
	Compact() error
	RenameTo(newID int) error
	Delete() error
}

// ReservedMergeID is the id a background merge worker's in-progress
// output segment is opened under before it is renamed to its final id
// (0) on success. ParseID rejects negative ids, so a merge output left
// behind by a crash is never mistaken for a real segment on the next
// directory scan.
const ReservedMergeID = -1

// FileName returns the on-disk file name for a segment with the given id:
// "<id>.txt" per spec.md §6.
func FileName(id int) string {
	return strconv.Itoa(id) + ".txt"
}

// PathFor joins dir and the file name for id.
func PathFor(dir string, id int) string {
	return filepath.Join(dir, FileName(id))
}

// ParseID extracts the segment id from a file name of the form
// "<id>.txt", returning ok=false for anything else (including the
// reserved temp-file names used by merge/compact).
func ParseID(name string) (int, bool) {
	stem := strings.TrimSuffix(name, ".txt")
	if stem == name { // no .txt suffix
		return 0, false
	}
	id, err := strconv.Atoi(stem)
	if err != nil || id < 0 || strconv.Itoa(id) != stem {
		return 0, false
	}
	return id, true
}

// TempPath builds a temp-file path for a rewrite-and-swap operation
// (compact, absorb-merge output). uniq should be a fresh random token
// (HashSegment and SparseSegment pass uuid.New()) so concurrently running
// rewrites of different segments never collide on the same temp name.
func TempPath(dir, prefix, uniq string) string {
	return filepath.Join(dir, fmt.Sprintf("tmp.%s.%s", prefix, uniq))
}

