package segmented

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"logkv/kverrors"
	"logkv/kvstore"
	"logkv/segment"
)

func hashFactory(dir string, id int) *segment.HashSegment {
	return segment.NewHashSegment(dir, id)
}

func hashOpener(dir string, id int) (*segment.HashSegment, error) {
	return segment.OpenHashSegment(dir, id)
}

// panicSegment is a minimal segment.File[panicSegment] whose GetStatus
// panics, used to exercise DB's lock-poisoning path deterministically.
type panicSegment struct{ id int }

func panicFactory(_ string, id int) *panicSegment           { return &panicSegment{id: id} }
func panicOpener(_ string, id int) (*panicSegment, error)   { return &panicSegment{id: id}, nil }
func (p *panicSegment) ID() int                             { return p.id }
func (p *panicSegment) Path() string                        { return "" }
func (p *panicSegment) Size() (int64, error)                { return 0, nil }
func (p *panicSegment) Exists() bool                        { return true }
func (p *panicSegment) GetStatus(string) (kvstore.Status, error) {
	panic("simulated corruption")
}
func (p *panicSegment) SetStatus(string, kvstore.Status) error { return nil }
func (p *panicSegment) ReadyToArchive(int64) bool              { return false }
func (p *panicSegment) Absorb(*panicSegment) error             { return nil }
func (p *panicSegment) Compact() error                         { return nil }
func (p *panicSegment) RenameTo(newID int) error                { p.id = newID; return nil }
func (p *panicSegment) Delete() error                           { return nil }

func TestAutomaticPolicySeedsSegmentZero(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Automatic)
	require.NoError(t, err)

	cur, ok := db.Current()
	require.True(t, ok)
	require.Equal(t, 0, cur.ID())
	require.Empty(t, db.Past())
}

func TestTriggeredPolicyStartsWithNoSegments(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Triggered)
	require.NoError(t, err)

	_, ok := db.Current()
	require.False(t, ok, "a never-flushed Triggered-policy directory must start with zero segment files")
	require.Empty(t, db.Past())
}

func TestSetStatusRotatesPastArchiveThreshold(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Automatic,
		WithArchiveThreshold[*segment.HashSegment](1), // rotate after any single record
		WithMergeThreshold[*segment.HashSegment](1<<30))
	require.NoError(t, err)

	require.NoError(t, db.SetStatus("a", kvstore.PresentStatus("1")))
	require.NoError(t, db.SetStatus("b", kvstore.PresentStatus("2")))

	require.Len(t, db.Past(), 1, "the first record should have been enough to archive segment 0")
	cur, ok := db.Current()
	require.True(t, ok)
	require.NotEqual(t, 0, cur.ID())

	got, err := db.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, "1", got.Value)
	got, err = db.GetStatus("b")
	require.NoError(t, err)
	require.Equal(t, "2", got.Value)
}

func TestSegmentIDsStayMonotonicAcrossRotations(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Automatic,
		WithArchiveThreshold[*segment.HashSegment](1),
		WithMergeThreshold[*segment.HashSegment](1<<30))
	require.NoError(t, err)

	seen := map[int]bool{}
	for i := 0; i < 10; i++ {
		require.NoError(t, db.SetStatus("k", kvstore.PresentStatus("v")))
		cur, ok := db.Current()
		require.True(t, ok)
		require.False(t, seen[cur.ID()], "segment id %d reused", cur.ID())
		seen[cur.ID()] = true
	}
}

func TestRunMergeConsolidatesPastWithNewestWinning(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Automatic,
		WithArchiveThreshold[*segment.HashSegment](1),
		WithMergeThreshold[*segment.HashSegment](1<<30),
		WithMergeOrder[*segment.HashSegment](MergeNewestFirst))
	require.NoError(t, err)

	require.NoError(t, db.SetStatus("a", kvstore.PresentStatus("first")))
	require.NoError(t, db.SetStatus("a", kvstore.PresentStatus("second")))
	require.NoError(t, db.SetStatus("b", kvstore.PresentStatus("only")))

	require.NoError(t, db.RunMerge())
	require.Len(t, db.Past(), 1)
	require.Equal(t, 0, db.Past()[0].ID())

	got, err := db.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, "second", got.Value, "merge must keep the newest write")

	got, err = db.GetStatus("b")
	require.NoError(t, err)
	require.Equal(t, "only", got.Value)
}

func TestFlushNewAppendsDirectlyToPast(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Triggered,
		WithMergeThreshold[*segment.HashSegment](1<<30))
	require.NoError(t, err)

	err = db.FlushNew(func(seg *segment.HashSegment) error {
		return seg.SetStatus("x", kvstore.PresentStatus("y"))
	})
	require.NoError(t, err)

	_, hasCurrent := db.Current()
	require.False(t, hasCurrent, "FlushNew must not touch the current-segment slot")
	require.Len(t, db.Past(), 1)

	got, err := db.GetStatus("x")
	require.NoError(t, err)
	require.Equal(t, "y", got.Value)
}

func TestReopenRecoversSegmentLayout(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Automatic,
		WithArchiveThreshold[*segment.HashSegment](1),
		WithMergeThreshold[*segment.HashSegment](1<<30))
	require.NoError(t, err)
	require.NoError(t, db.SetStatus("k1", kvstore.PresentStatus("v1")))
	require.NoError(t, db.SetStatus("k2", kvstore.PresentStatus("v2")))
	require.NoError(t, db.Close())

	reopened, err := Open[*segment.HashSegment](dir, hashFactory, hashOpener, Automatic)
	require.NoError(t, err)

	got, err := reopened.GetStatus("k1")
	require.NoError(t, err)
	require.Equal(t, "v1", got.Value)
	got, err = reopened.GetStatus("k2")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Value)
}

func TestGetStatusPanicPoisonsDBAndFailsClosed(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[*panicSegment](dir, panicFactory, panicOpener, Automatic)
	require.NoError(t, err)

	_, err = db.GetStatus("k")
	require.Error(t, err)
	require.True(t, kverrors.Of(err, kverrors.KindLockPoisoned))
	require.True(t, errors.Is(err, kverrors.ErrLockPoisoned))

	// Once poisoned, every further operation fails closed without
	// attempting to touch current/past state again.
	err = db.SetStatus("k", kvstore.PresentStatus("v"))
	require.True(t, errors.Is(err, kverrors.ErrLockPoisoned))
}
