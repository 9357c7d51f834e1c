package sstengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"logkv/kvstore"
)

func TestMemTableSetGetOverwrite(t *testing.T) {
	mt := newMemTable()
	mt.Set("b", kvstore.PresentStatus("1"))
	mt.Set("a", kvstore.PresentStatus("2"))
	mt.Set("b", kvstore.PresentStatus("3"))

	v, ok := mt.Get("b")
	require.True(t, ok)
	require.Equal(t, "3", v.Value)
	require.Equal(t, 2, mt.Len(), "overwriting an existing key must not grow the entry count")
}

func TestMemTableIteratesInAscendingKeyOrder(t *testing.T) {
	mt := newMemTable()
	for _, k := range []string{"d", "b", "a", "c"} {
		mt.Set(k, kvstore.PresentStatus(k))
	}

	var keys []string
	it := mt.Iter()
	for it.Next() {
		keys = append(keys, it.Key())
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, keys)
}

func TestSSTableSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithFlushThreshold(1<<30))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Set("k", "v1"))
	require.NoError(t, db.Set("k", "v2"))

	v, ok, err := db.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", v)
}

func TestSSTableEmptyDirectoryHasNoSegmentsUntilFirstFlush(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithFlushThreshold(1<<30))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, ok := db.db.Current()
	require.False(t, ok)
	require.Empty(t, db.db.Past())
}

func TestSSTableFlushProducesSortedSegment(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithFlushThreshold(3))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Set("c", "3"))
	require.NoError(t, db.Set("a", "1"))
	require.NoError(t, db.Set("b", "2")) // crosses the threshold, triggers a flush

	require.NoError(t, db.flushGroup.Wait())

	for k, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		v, ok, err := db.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestSSTableDeleteIsVisibleAfterFlush(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithFlushThreshold(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Set("k", "v"))
	require.NoError(t, db.Delete("k"))
	require.NoError(t, db.Set("j", "w")) // second distinct key reaches the threshold, triggers a flush
	require.NoError(t, db.flushGroup.Wait())

	_, ok, err := db.Get("k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSSTableRecoversMemtableFromBackupAfterCrash(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithFlushThreshold(1<<30))
	require.NoError(t, err)
	require.NoError(t, db.Set("a", "1"))
	require.NoError(t, db.Set("b", "2"))
	// No Close(): simulate a crash, leaving memtable_backup.txt on disk
	// without ever flushing it to a segment.

	recovered, err := Open(dir, WithFlushThreshold(1<<30))
	require.NoError(t, err)
	t.Cleanup(func() { _ = recovered.Close() })

	v, ok, err := recovered.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	v, ok, err = recovered.Get("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)
}
