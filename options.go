package dcache

import (
	"io/fs"
	"log/slog"

	"github.com/coldkeep/dcache/internal/pathlayout"
)

const defaultDirPerm fs.FileMode = 0o755

type config struct {
	shardPrefixLen  int
	dirPerm         fs.FileMode
	evictionWorkers int
	logger          *slog.Logger
}

func defaultConfig() config {
	return config{
		shardPrefixLen:  pathlayout.DefaultShardPrefixLen,
		dirPerm:         defaultDirPerm,
		evictionWorkers: 1,
	}
}

// Option configures a Cache. The pattern mirrors the teacher's
// disk.Option / disk.BlockCacheOption functional options.
type Option func(*config)

// WithShardPrefixLen sets the number of hex characters of a key's hash used
// to shard entries into subdirectories. Use 0 to disable sharding.
// Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *config) { c.shardPrefixLen = n }
}

// WithDirPerm sets the permissions used for directories the cache creates.
func WithDirPerm(mode fs.FileMode) Option {
	return func(c *config) { c.dirPerm = mode }
}

// WithEvictionWorkers sets the number of worker goroutines available to run
// asynchronous eviction jobs scheduled by SetMaxSize. Defaults to 1, which
// spec.md notes is sufficient.
func WithEvictionWorkers(n int) Option {
	return func(c *config) { c.evictionWorkers = n }
}

// WithLogger sets the logger used for scan-recovery diagnostics and
// swallowed I/O errors. The zero value discards all output, matching the
// teacher's Processor.log() fallback in core/internal/batch/batch.go.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
