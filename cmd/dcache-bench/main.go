// Command dcache-bench drives a Cache through a mix of write/read/evict
// workloads and reports throughput, in the style of the teacher's
// cmd/profiler tool.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand" //nolint:gosec // reproducible benchmark data, not security sensitive
	"os"
	"time"

	"github.com/coldkeep/dcache"
)

type config struct {
	mode       string
	dir        string
	keepDir    bool
	entries    int
	valueSize  int
	valueCount int
	maxSize    int64
	duration   time.Duration
	iterations int
	seed       int64
}

//nolint:unused // sink prevents the compiler from optimizing reads away
var sinkBytes []byte

func main() {
	cfg := parseFlags()

	dir := cfg.dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "dcache-bench-*")
		if err != nil {
			log.Fatal(err)
		}
		dir = tmp
		if !cfg.keepDir {
			defer os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup for a benchmark tool
		}
	}

	c, err := dcache.Open(dir, cfg.valueCount, cfg.maxSize, dcache.WithLogger(slog.Default()))
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close() //nolint:errcheck // best-effort cleanup for a benchmark tool

	stats, err := run(cfg, c)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s cache_size=%d entries=%d\n",
		cfg.mode, stats.ops, stats.bytes, stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
		c.Size(), c.Stats().Entries,
	)
}

type runStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

func run(cfg config, c *dcache.Cache) (runStats, error) {
	rng := rand.New(rand.NewSource(cfg.seed)) //nolint:gosec // reproducible, not security sensitive
	keys := make([]string, cfg.entries)
	for i := range keys {
		keys[i] = fmt.Sprintf("bench-key-%06d", i)
	}
	values := make([][]byte, cfg.valueCount)
	for i := range values {
		values[i] = randomBytes(rng, cfg.valueSize)
	}

	start := time.Now()
	deadline := start.Add(cfg.duration)
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Now().Before(deadline)
	}

	switch cfg.mode {
	case "write":
		for shouldContinue() {
			key := keys[ops%len(keys)]
			if err := writeEntry(c, key, values); err != nil {
				return runStats{}, err
			}
			for _, v := range values {
				byteCount += int64(len(v))
			}
			ops++
		}

	case "read":
		for _, key := range keys {
			if err := writeEntry(c, key, values); err != nil {
				return runStats{}, err
			}
		}
		for shouldContinue() {
			key := keys[rng.Intn(len(keys))]
			snap, err := c.Get(key)
			if err != nil {
				return runStats{}, err
			}
			if snap == nil {
				ops++
				continue
			}
			for i := 0; i < cfg.valueCount; i++ {
				data, err := snap.ReadAll(i)
				if err != nil {
					_ = snap.Close()
					return runStats{}, err
				}
				sinkBytes = data
				byteCount += int64(len(data))
			}
			_ = snap.Close()
			ops++
		}

	case "mixed":
		for shouldContinue() {
			key := keys[rng.Intn(len(keys))]
			if rng.Intn(4) == 0 {
				if err := writeEntry(c, key, values); err != nil {
					return runStats{}, err
				}
				for _, v := range values {
					byteCount += int64(len(v))
				}
			} else if snap, err := c.Get(key); err != nil {
				return runStats{}, err
			} else if snap != nil {
				for i := 0; i < cfg.valueCount; i++ {
					data, err := snap.ReadAll(i)
					if err != nil {
						_ = snap.Close()
						return runStats{}, err
					}
					byteCount += int64(len(data))
				}
				_ = snap.Close()
			}
			ops++
		}

	default:
		return runStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	if err := c.Flush(); err != nil {
		return runStats{}, err
	}

	return runStats{ops: ops, bytes: byteCount, elapsed: time.Since(start)}, nil
}

func writeEntry(c *dcache.Cache, key string, values [][]byte) error {
	editor, err := c.Edit(key)
	if err != nil {
		return err
	}
	if editor == nil {
		return nil
	}
	for i, v := range values {
		if err := editor.Set(i, v); err != nil {
			_ = editor.Abort()
			return err
		}
	}
	return editor.Commit()
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	_, _ = rng.Read(b)
	return b
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.mode, "mode", "mixed", "mode: write, read, mixed")
	flag.StringVar(&cfg.dir, "dir", "", "cache directory (default: temp dir)")
	flag.BoolVar(&cfg.keepDir, "keep-dir", false, "keep the cache directory after the run")
	flag.IntVar(&cfg.entries, "entries", 256, "number of distinct keys")
	flag.IntVar(&cfg.valueSize, "value-size", 4<<10, "size in bytes of each value")
	flag.IntVar(&cfg.valueCount, "value-count", 2, "number of values per entry")
	var maxSizeMB int64
	flag.Int64Var(&maxSizeMB, "max-size-mb", 16, "cache size ceiling in MiB")
	flag.DurationVar(&cfg.duration, "duration", 5*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.Int64Var(&cfg.seed, "seed", 1, "random seed")
	flag.Parse()
	cfg.maxSize = maxSizeMB << 20
	return cfg
}
