package segment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"logkv/kvstore"
)

func TestHashSegmentSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewHashSegment(dir, 0)

	require.NoError(t, s.SetStatus("a", kvstore.PresentStatus("1")))
	require.NoError(t, s.SetStatus("b", kvstore.PresentStatus("2")))
	require.NoError(t, s.SetStatus("a", kvstore.PresentStatus("3")))

	got, err := s.GetStatus("a")
	require.NoError(t, err)
	require.True(t, got.IsPresent())
	require.Equal(t, "3", got.Value)

	miss, err := s.GetStatus("missing")
	require.NoError(t, err)
	require.True(t, miss.IsAbsent())
}

func TestHashSegmentDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := NewHashSegment(dir, 0)
	require.NoError(t, s.SetStatus("k", kvstore.PresentStatus("v")))
	require.NoError(t, s.SetStatus("k", kvstore.DeletedStatus))
	require.NoError(t, s.SetStatus("k", kvstore.DeletedStatus))

	got, err := s.GetStatus("k")
	require.NoError(t, err)
	require.True(t, got.IsDeleted())
}

func TestHashSegmentReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	s := NewHashSegment(dir, 0)
	require.NoError(t, s.SetStatus("k", kvstore.PresentStatus("v1")))
	require.NoError(t, s.SetStatus("k", kvstore.PresentStatus("v2")))
	require.NoError(t, s.SetStatus("gone", kvstore.PresentStatus("x")))
	require.NoError(t, s.SetStatus("gone", kvstore.DeletedStatus))

	reopened, err := OpenHashSegment(dir, 0)
	require.NoError(t, err)

	got, err := reopened.GetStatus("k")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Value)

	gone, err := reopened.GetStatus("gone")
	require.NoError(t, err)
	require.True(t, gone.IsDeleted())
}

func TestHashSegmentAbsorbFillsGapsOnly(t *testing.T) {
	dir := t.TempDir()
	newer := NewHashSegment(dir, 1)
	require.NoError(t, newer.SetStatus("a", kvstore.PresentStatus("newer-a")))
	require.NoError(t, newer.SetStatus("b", kvstore.PresentStatus("newer-b")))

	older := NewHashSegment(dir, 0)
	require.NoError(t, older.SetStatus("a", kvstore.PresentStatus("older-a")))
	require.NoError(t, older.SetStatus("c", kvstore.PresentStatus("older-c")))

	merged := NewHashSegment(dir, 2)
	require.NoError(t, merged.Absorb(newer))
	require.NoError(t, merged.Absorb(older))

	a, err := merged.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, "newer-a", a.Value, "newest write must win")

	b, err := merged.GetStatus("b")
	require.NoError(t, err)
	require.Equal(t, "newer-b", b.Value)

	c, err := merged.GetStatus("c")
	require.NoError(t, err)
	require.Equal(t, "older-c", c.Value)
}

func TestHashSegmentCompactDropsTombstones(t *testing.T) {
	dir := t.TempDir()
	s := NewHashSegment(dir, 0)
	require.NoError(t, s.SetStatus("keep", kvstore.PresentStatus("v")))
	require.NoError(t, s.SetStatus("gone", kvstore.PresentStatus("x")))
	require.NoError(t, s.SetStatus("gone", kvstore.DeletedStatus))

	require.NoError(t, s.Compact())

	keep, err := s.GetStatus("keep")
	require.NoError(t, err)
	require.True(t, keep.IsPresent())

	gone, err := s.GetStatus("gone")
	require.NoError(t, err)
	require.True(t, gone.IsAbsent(), "compact must fully forget tombstoned keys, not just flatten them to absent-in-file")

	reopened, err := OpenHashSegment(dir, 0)
	require.NoError(t, err)
	gone2, err := reopened.GetStatus("gone")
	require.NoError(t, err)
	require.True(t, gone2.IsAbsent())
}

func TestHashSegmentRenameTo(t *testing.T) {
	dir := t.TempDir()
	s := NewHashSegment(dir, 5)
	require.NoError(t, s.SetStatus("k", kvstore.PresentStatus("v")))

	require.NoError(t, s.RenameTo(9))
	require.Equal(t, 9, s.ID())
	require.Equal(t, filepath.Join(dir, "9.txt"), s.Path())
	require.True(t, s.Exists())
}

func TestSparseSegmentGetStatusUsesFloorScan(t *testing.T) {
	dir := t.TempDir()
	s := NewSparseSegment(dir, 0, 1<<20) // huge sparsity: one checkpoint only

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.SetStatus(k, kvstore.PresentStatus(k+"-v")))
	}

	got, err := s.GetStatus("c")
	require.NoError(t, err)
	require.True(t, got.IsPresent())
	require.Equal(t, "c-v", got.Value)

	miss, err := s.GetStatus("zzz")
	require.NoError(t, err)
	require.True(t, miss.IsAbsent())
}

func TestSparseSegmentGetStatusMissBeforeFirstCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s := NewSparseSegment(dir, 0, 1<<20)
	require.NoError(t, s.SetStatus("m", kvstore.PresentStatus("v")))

	got, err := s.GetStatus("a")
	require.NoError(t, err)
	require.True(t, got.IsAbsent(), "a key preceding every checkpoint must short-circuit to absent without scanning")
}

func TestSparseSegmentAbsorbMergesOrderedWithNewerWinningTies(t *testing.T) {
	dir := t.TempDir()
	older := NewSparseSegment(dir, 0, 0)
	require.NoError(t, older.SetStatus("a", kvstore.PresentStatus("older-a")))
	require.NoError(t, older.SetStatus("c", kvstore.PresentStatus("older-c")))

	newer := NewSparseSegment(dir, 1, 0)
	require.NoError(t, newer.SetStatus("a", kvstore.PresentStatus("newer-a")))
	require.NoError(t, newer.SetStatus("b", kvstore.PresentStatus("newer-b")))

	require.NoError(t, older.Absorb(newer))

	a, err := older.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, "newer-a", a.Value, "equal keys: newer side must win")

	b, err := older.GetStatus("b")
	require.NoError(t, err)
	require.Equal(t, "newer-b", b.Value)

	c, err := older.GetStatus("c")
	require.NoError(t, err)
	require.Equal(t, "older-c", c.Value)
}

func TestSparseSegmentCompactDropsTombstones(t *testing.T) {
	dir := t.TempDir()
	s := NewSparseSegment(dir, 0, 0)
	require.NoError(t, s.SetStatus("a", kvstore.PresentStatus("v")))
	require.NoError(t, s.SetStatus("b", kvstore.PresentStatus("v")))
	require.NoError(t, s.SetStatus("b", kvstore.DeletedStatus))

	require.NoError(t, s.Compact())

	b, err := s.GetStatus("b")
	require.NoError(t, err)
	require.True(t, b.IsAbsent())

	a, err := s.GetStatus("a")
	require.NoError(t, err)
	require.True(t, a.IsPresent())
}
