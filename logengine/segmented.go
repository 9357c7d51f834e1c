package logengine

import (
	"go.uber.org/zap"

	"logkv/kvstore"
	"logkv/segment"
	"logkv/segmented"
)

// SegmentedLogDb is LogWithIndexDb split across many numbered segment
// files, rotating the current segment into "past" once it grows past a
// size threshold and periodically merging past segments in the
// background. It is segmented.DB parameterized with segment.HashSegment
// under the Automatic creation policy. Grounded on gtarraga-kv-store/v5's
// SegmentedLogDb.
type SegmentedLogDb struct {
	db     *segmented.DB[*segment.HashSegment]
	logger *zap.Logger
}

var _ kvstore.Engine = (*SegmentedLogDb)(nil)

// OpenSegmentedLogDb opens (or creates) a segmented hash-indexed log
// rooted at dir.
func OpenSegmentedLogDb(dir string, opts ...Option) (*SegmentedLogDb, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := segmented.Open[*segment.HashSegment](
		dir,
		func(dir string, id int) *segment.HashSegment { return segment.NewHashSegment(dir, id) },
		func(dir string, id int) (*segment.HashSegment, error) { return segment.OpenHashSegment(dir, id) },
		segmented.Automatic,
		segmented.WithArchiveThreshold[*segment.HashSegment](cfg.archiveThreshold),
		segmented.WithMergeThreshold[*segment.HashSegment](cfg.mergeThreshold),
		segmented.WithMergeOrder[*segment.HashSegment](segmented.MergeNewestFirst),
		segmented.WithLogger[*segment.HashSegment](cfg.logger),
	)
	if err != nil {
		return nil, err
	}
	return &SegmentedLogDb{db: db, logger: cfg.logger}, nil
}

// Set writes key=value into the current segment, rotating and possibly
// triggering a background merge as a side effect.
func (e *SegmentedLogDb) Set(key, value string) error {
	return e.db.SetStatus(key, kvstore.PresentStatus(value))
}

// Delete writes a tombstone for key into the current segment.
func (e *SegmentedLogDb) Delete(key string) error {
	return e.db.SetStatus(key, kvstore.DeletedStatus)
}

// Get consults the current segment, then past segments newest to
// oldest.
func (e *SegmentedLogDb) Get(key string) (string, bool, error) {
	st, err := e.db.GetStatus(key)
	if err != nil {
		return "", false, err
	}
	if st.IsPresent() {
		return st.Value, true, nil
	}
	return "", false, nil
}

// Description returns a human-readable summary of the segment layout.
func (e *SegmentedLogDb) Description() string {
	return "SegmentedLogDb(" + e.db.Describe() + ")"
}

// Close joins the background merge worker, if one is running.
func (e *SegmentedLogDb) Close() error {
	return e.db.Close()
}
