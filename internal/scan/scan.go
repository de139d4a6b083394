// Package scan reconstructs an in-memory picture of a cache directory's
// contents on open. It never fails on malformed input: individual bad
// files are dropped and logged, mirroring the teacher's dirSize/pruneDir
// walk in cache/disk/size.go, which likewise tolerates a directory
// vanishing mid-walk rather than surfacing an error.
package scan

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/coldkeep/dcache/internal/pathlayout"
)

// Entry describes one valid, fully-committed entry discovered on disk.
// The caller's key is not recoverable from disk; Hash is the only
// identity available until a get/edit call resolves it back to a key.
type Entry struct {
	Hash    string
	Lengths []int64
}

// Result is the outcome of scanning a cache directory.
type Result struct {
	// Entries lists valid, complete entries in discovery order.
	Entries []Entry
}

// Scan walks dir and reconstructs the set of complete entries. dir is
// created if missing. valueCount is the fixed number of value slots
// every entry must have; shardPrefixLen must match the value the cache
// was (or will be) opened with, since it determines which subdirectory a
// hash's files are expected to live under.
func Scan(dir string, valueCount, shardPrefixLen int, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, err
	}

	topLevel, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, err
	}

	type bucket struct {
		cleanLens map[int]int64 // index -> size, for clean files found
		dirty     []string      // dirty file paths found for this hash
	}
	buckets := make(map[string]*bucket)
	var discoveryOrder []string

	// With sharding disabled every file lives directly in dir, which is then
	// the only directory to walk.
	var shardNames []string
	if shardPrefixLen <= 0 {
		shardNames = []string{""}
	} else {
		for _, shard := range topLevel {
			if shard.IsDir() {
				shardNames = append(shardNames, shard.Name())
			}
		}
	}

	for _, shardName := range shardNames {
		shardPath := filepath.Join(dir, shardName)

		files, err := os.ReadDir(shardPath)
		if err != nil {
			logger.Warn("dcache: scan: cannot read shard directory", "dir", shardPath, "error", err)
			continue
		}

		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			parsed, ok := pathlayout.ParseName(f.Name())
			if !ok {
				logger.Debug("dcache: scan: ignoring foreign file", "path", filepath.Join(shardPath, f.Name()))
				continue
			}
			if pathlayout.ShardName(parsed.Hash, shardPrefixLen) != shardName {
				logger.Debug("dcache: scan: ignoring misplaced file", "path", filepath.Join(shardPath, f.Name()))
				continue
			}
			if parsed.Index >= valueCount {
				logger.Debug("dcache: scan: ignoring out-of-range slot", "path", filepath.Join(shardPath, f.Name()))
				continue
			}

			b, ok := buckets[parsed.Hash]
			if !ok {
				b = &bucket{cleanLens: make(map[int]int64)}
				buckets[parsed.Hash] = b
				discoveryOrder = append(discoveryOrder, parsed.Hash)
			}

			full := filepath.Join(shardPath, f.Name())
			if parsed.Dirty {
				b.dirty = append(b.dirty, full)
				continue
			}
			info, err := f.Info()
			if err != nil {
				logger.Warn("dcache: scan: stat failed", "path", full, "error", err)
				continue
			}
			b.cleanLens[parsed.Index] = info.Size()
		}
	}

	var result Result
	for _, hash := range discoveryOrder {
		b := buckets[hash]

		// Remnants of an aborted edit are always discarded, valid entry or not.
		for _, p := range b.dirty {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				logger.Warn("dcache: scan: failed to remove dirty file", "path", p, "error", err)
			}
		}

		if len(b.cleanLens) != valueCount {
			for i := 0; i < valueCount; i++ {
				_ = os.Remove(pathlayout.CleanPath(dir, hash, i, shardPrefixLen))
			}
			continue
		}

		lengths := make([]int64, valueCount)
		for i := 0; i < valueCount; i++ {
			lengths[i] = b.cleanLens[i]
		}
		result.Entries = append(result.Entries, Entry{Hash: hash, Lengths: lengths})
	}

	return result, nil
}
