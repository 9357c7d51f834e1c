package logengine

import "go.uber.org/zap"

// config holds the knobs shared across the three log-family engines.
// LogDb and LogWithIndexDb only ever look at logger; SegmentedLogDb also
// consults archiveThreshold and mergeThreshold. Grounded on
// iamNilotpal-ignite/pkg/options's functional-options shape.
type config struct {
	logger           *zap.Logger
	archiveThreshold int64
	mergeThreshold   int
}

func defaultConfig() config {
	return config{
		logger:           zap.NewNop(),
		archiveThreshold: 1 << 20, // 1 MiB per segment before rotation
		mergeThreshold:   3,
	}
}

// Option configures an engine at construction time.
type Option func(*config)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithArchiveThreshold sets the byte size at which SegmentedLogDb
// rotates its current segment into past. Ignored by LogDb and
// LogWithIndexDb, which have no segment to rotate.
func WithArchiveThreshold(bytes int64) Option {
	return func(c *config) { c.archiveThreshold = bytes }
}

// WithMergeThreshold sets how many past segments SegmentedLogDb
// accumulates before triggering a background merge.
func WithMergeThreshold(n int) Option {
	return func(c *config) { c.mergeThreshold = n }
}
