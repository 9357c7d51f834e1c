// Package memindex implements the in-memory index types the two Segment
// variants keep beside their line file: a full key -> offset hash index
// for hash-indexed segments, and a sorted sparse list of (key, offset)
// checkpoints for sorted-sparse segments. Grounded on
// gtarraga-kv-store/v5's Segment.Index (gob-persisted map[string]int64)
// for the hash shape, generalized here to carry a tombstone bit the way
// spec.md's Status<offset> requires instead of the teacher's "delete from
// map on tombstone" shortcut (v3/v4_indexed), which loses the ability to
// tell "never written" from "deleted" once a segment is read back from a
// cold compact/absorb pass.
package memindex

import (
	"sort"

	"logkv/kvstore"
)

// OffsetEntry is one hash-index value: either Present at Offset or
// Deleted. The zero value is not a valid entry; use the ok result of
// HashIndex.Get to test membership.
type OffsetEntry struct {
	Kind   kvstore.Kind
	Offset int64
}

// HashIndex is a full key -> offset-status map, as used by hash-indexed
// log segments (spec.md §4.2).
type HashIndex struct {
	entries map[string]OffsetEntry
}

// NewHashIndex returns an empty hash index.
func NewHashIndex() *HashIndex {
	return &HashIndex{entries: make(map[string]OffsetEntry)}
}

// Get returns the entry for key and whether it is present in the index at
// all (Absent tier semantics map to ok == false).
func (h *HashIndex) Get(key string) (OffsetEntry, bool) {
	e, ok := h.entries[key]
	return e, ok
}

// SetPresent records that key's newest record lives at offset.
func (h *HashIndex) SetPresent(key string, offset int64) {
	h.entries[key] = OffsetEntry{Kind: kvstore.Present, Offset: offset}
}

// SetDeleted records a tombstone for key.
func (h *HashIndex) SetDeleted(key string) {
	h.entries[key] = OffsetEntry{Kind: kvstore.Deleted}
}

// Delete removes key from the index entirely, so a later Get reports it
// as not indexed rather than Deleted.
func (h *HashIndex) Delete(key string) {
	delete(h.entries, key)
}

// Len returns the number of indexed keys.
func (h *HashIndex) Len() int { return len(h.entries) }

// Range calls fn for every (key, entry) pair. Iteration order is
// unspecified, matching Go map semantics.
func (h *HashIndex) Range(fn func(key string, entry OffsetEntry)) {
	for k, e := range h.entries {
		fn(k, e)
	}
}

// Reset clears the index.
func (h *HashIndex) Reset() { h.entries = make(map[string]OffsetEntry) }

// Checkpoint is one sparse-index entry: the first key at or after a
// sparsity-byte gap, and the offset at which its record begins.
type Checkpoint struct {
	Key    string
	Offset int64
}

// SparseIndex is the sorted `[(key, offset)]` checkpoint list kept beside
// a sorted-sparse segment (spec.md §4.3). Checkpoints must be appended in
// non-decreasing key order; this is guaranteed by construction since
// sorted-sparse segments are only ever appended to during flush or merge,
// both of which emit keys in sorted order.
type SparseIndex struct {
	checkpoints []Checkpoint
}

// NewSparseIndex returns an empty sparse index.
func NewSparseIndex() *SparseIndex {
	return &SparseIndex{}
}

// MaybeAppend conditionally adds a checkpoint for (key, offset): when the
// index is empty (the first record of the file is always indexed) or the
// gap from the last indexed offset exceeds sparsity. Returns whether a
// checkpoint was added.
func (s *SparseIndex) MaybeAppend(key string, offset, sparsity int64) bool {
	if len(s.checkpoints) == 0 {
		s.checkpoints = append(s.checkpoints, Checkpoint{Key: key, Offset: offset})
		return true
	}
	last := s.checkpoints[len(s.checkpoints)-1]
	if offset-last.Offset > sparsity {
		s.checkpoints = append(s.checkpoints, Checkpoint{Key: key, Offset: offset})
		return true
	}
	return false
}

// Floor returns the offset of the greatest indexed key <= k, and true, or
// (0, false) when k precedes every indexed key (the caller should return
// Absent without scanning).
func (s *SparseIndex) Floor(k string) (int64, bool) {
	// sort.Search finds the first index whose key is > k; the floor is
	// one position back.
	i := sort.Search(len(s.checkpoints), func(i int) bool {
		return s.checkpoints[i].Key > k
	})
	if i == 0 {
		return 0, false
	}
	return s.checkpoints[i-1].Offset, true
}

// Len returns the number of checkpoints.
func (s *SparseIndex) Len() int { return len(s.checkpoints) }

// Reset clears the index.
func (s *SparseIndex) Reset() { s.checkpoints = nil }

// Checkpoints returns the underlying checkpoint slice. Callers must treat
// it as read-only.
func (s *SparseIndex) Checkpoints() []Checkpoint { return s.checkpoints }
