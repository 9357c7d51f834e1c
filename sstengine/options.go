package sstengine

import "go.uber.org/zap"

// config holds the SSTable engine's tunables. Grounded on
// iamNilotpal-ignite/pkg/options's functional-options shape, the same
// pattern logengine uses.
type config struct {
	logger         *zap.Logger
	flushThreshold int   // memtable entries before a flush is triggered
	sparsity       int64 // byte gap between sparse-index checkpoints
	mergeThreshold int   // past segments before a background merge runs
}

func defaultConfig() config {
	return config{
		logger:         zap.NewNop(),
		flushThreshold: 1000,
		sparsity:       4096,
		mergeThreshold: 3,
	}
}

// Option configures an SSTable at construction time.
type Option func(*config)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithFlushThreshold sets how many distinct keys the active memtable
// holds before it is rotated to the shadow slot and queued for
// background flush.
func WithFlushThreshold(entries int) Option {
	return func(c *config) { c.flushThreshold = entries }
}

// WithSparsity sets the minimum byte gap between a flushed segment's
// sparse-index checkpoints.
func WithSparsity(bytes int64) Option {
	return func(c *config) { c.sparsity = bytes }
}

// WithMergeThreshold sets how many on-disk segments accumulate before
// the background merge worker consolidates them.
func WithMergeThreshold(n int) Option {
	return func(c *config) { c.mergeThreshold = n }
}
