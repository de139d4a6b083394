package dcache

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/coldkeep/dcache/internal/entryindex"
	"github.com/coldkeep/dcache/internal/evictpool"
	"github.com/coldkeep/dcache/internal/pathlayout"
	"github.com/coldkeep/dcache/internal/scan"
)

// Cache is a bounded, disk-backed LRU cache for byte-slice values. A Cache
// is safe for concurrent use. All mutating operations on the in-memory
// index, recency list, and size accounting run under a single mutex, per
// spec §5; file I/O for read/write payloads happens outside that lock.
type Cache struct {
	dir            string
	valueCount     int
	shardPrefixLen int
	dirPerm        fs.FileMode
	logger         *slog.Logger

	mu            sync.Mutex
	size          int64
	maxSize       int64
	closed        bool
	idx           *entryindex.Index
	activeEditors map[string]*Editor // keyed by entry hash

	pool *evictpool.Pool
}

// Stats is a point-in-time snapshot of cache accounting, for observability.
type Stats struct {
	Size             int64
	MaxSize          int64
	Entries          int
	PendingEvictions int
}

// Open opens (creating if necessary) a cache directory holding entries of
// valueCount values each, bounded to maxSize total bytes. It scans the
// directory for entries left over from a previous run and recovers every
// complete one. Files of incomplete entries and leftover dirty files are
// deleted; files that do not match the naming schema are left in place.
// None of these is surfaced as an error.
func Open(dir string, valueCount int, maxSize int64, opts ...Option) (*Cache, error) {
	if valueCount < 1 {
		return nil, fmt.Errorf("%w: valueCount must be >= 1, got %d", ErrInvalidArgument, valueCount)
	}
	if maxSize < 1 {
		return nil, fmt.Errorf("%w: maxSize must be >= 1, got %d", ErrInvalidArgument, maxSize)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.shardPrefixLen < 0 {
		return nil, fmt.Errorf("%w: shard prefix length must be >= 0", ErrInvalidArgument)
	}

	if err := os.MkdirAll(dir, cfg.dirPerm); err != nil {
		return nil, fmt.Errorf("dcache: create cache dir: %w", err)
	}

	logger := cfg.log()
	result, err := scan.Scan(dir, valueCount, cfg.shardPrefixLen, logger)
	if err != nil {
		return nil, fmt.Errorf("dcache: scan cache dir: %w", err)
	}

	idx := entryindex.New()
	var total int64
	for _, se := range result.Entries {
		e := &entryindex.Entry{
			Identity:   se.Hash,
			Hash:       se.Hash,
			ValueCount: valueCount,
			Lengths:    se.Lengths,
			Readable:   true,
		}
		idx.Insert(e)
		for _, l := range se.Lengths {
			total += l
		}
	}

	c := &Cache{
		dir:            dir,
		valueCount:     valueCount,
		shardPrefixLen: cfg.shardPrefixLen,
		dirPerm:        cfg.dirPerm,
		logger:         logger,
		size:           total,
		maxSize:        maxSize,
		idx:            idx,
		activeEditors:  make(map[string]*Editor),
		pool:           evictpool.New(cfg.evictionWorkers, logger),
	}

	c.mu.Lock()
	c.evictSyncLocked()
	c.mu.Unlock()

	return c, nil
}

// lookupLocked resolves key to its entry, promoting a scanner placeholder
// (keyed by hash) to key on the first hit, per spec §4.3.
func (c *Cache) lookupLocked(key string) (*entryindex.Entry, bool) {
	if e, ok := c.idx.Lookup(key); ok {
		return e, true
	}
	hash := pathlayout.Hash(key)
	if e, ok := c.idx.Lookup(hash); ok {
		c.idx.Promote(e, key)
		return e, true
	}
	return nil, false
}

func (c *Cache) lookupOrCreateLocked(key string) *entryindex.Entry {
	if e, ok := c.lookupLocked(key); ok {
		return e
	}
	e := &entryindex.Entry{
		Identity:   key,
		Hash:       pathlayout.Hash(key),
		ValueCount: c.valueCount,
	}
	c.idx.Insert(e)
	return e
}

// Get returns a point-in-time snapshot of key's values, or (nil, nil) if
// key is absent or has never been fully committed. The returned snapshot
// must be closed by the caller.
//
// Lengths are captured and every value's file handle opened in one
// critical section, the mirror image of Editor.Commit holding the same
// lock across its rename loop: a commit's renames are only ever observed
// by a Get either entirely before or entirely after they happen, never
// interleaved with it, so a Snapshot's Len(i) always matches the bytes
// its handle for slot i actually holds, per spec §5.
func (c *Cache) Get(key string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	entry, ok := c.lookupLocked(key)
	if !ok || !entry.Readable {
		return nil, nil
	}
	hash := entry.Hash
	lengths := append([]int64(nil), entry.Lengths...)
	seq := entry.Seq

	handles := make([]*os.File, c.valueCount)
	for i := 0; i < c.valueCount; i++ {
		f, err := os.Open(pathlayout.CleanPath(c.dir, hash, i, c.shardPrefixLen))
		if err != nil {
			for _, h := range handles {
				if h != nil {
					_ = h.Close()
				}
			}
			c.logger.Warn("dcache: clean file missing, dropping entry", "key", key, "error", err)
			c.dropEntryLocked(entry)
			return nil, nil
		}
		handles[i] = f
	}

	c.idx.Touch(entry)

	return &Snapshot{
		cache:   c,
		key:     key,
		entry:   entry,
		seq:     seq,
		lengths: lengths,
		handles: handles,
	}, nil
}

// Edit returns a new Editor for key, or (nil, nil) if key already has an
// in-flight editor.
func (c *Cache) Edit(key string) (*Editor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	entry := c.lookupOrCreateLocked(key)
	if entry.Editing {
		return nil, nil
	}
	return c.newEditorLocked(entry), nil
}

func (c *Cache) newEditorLocked(entry *entryindex.Entry) *Editor {
	entry.Editing = true
	ed := &Editor{
		cache:   c,
		entry:   entry,
		hash:    entry.Hash,
		first:   !entry.Readable,
		touched: newBitset(entry.ValueCount),
		written: newBitset(entry.ValueCount),
		outputs: make(map[int]*os.File),
		inputs:  make(map[int]*os.File),
	}
	c.activeEditors[entry.Hash] = ed
	return ed
}

// Remove deletes key's entry, if present. Removing an absent key succeeds.
// It fails with ErrBusy if key has an in-flight editor.
func (c *Cache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	entry, ok := c.lookupLocked(key)
	if !ok {
		return nil
	}
	if entry.Editing {
		return ErrBusy
	}
	c.removeEntryLocked(entry)
	return nil
}

// removeEntryLocked deletes entry's clean files (if any), adjusts size,
// and unlinks it from the index. Caller holds c.mu.
func (c *Cache) removeEntryLocked(entry *entryindex.Entry) {
	if entry.Readable {
		for i := 0; i < entry.ValueCount; i++ {
			_ = os.Remove(pathlayout.CleanPath(c.dir, entry.Hash, i, c.shardPrefixLen))
		}
	}
	c.dropEntryLocked(entry)
}

// dropEntryLocked adjusts size and unlinks entry from the index, without
// touching any files on disk (used when files are already known gone).
// Caller holds c.mu.
func (c *Cache) dropEntryLocked(entry *entryindex.Entry) {
	if entry.Readable {
		for _, l := range entry.Lengths {
			c.size -= l
		}
	}
	c.idx.Remove(entry)
}

// evictSyncLocked evicts least-recently-used entries until size fits
// within maxSize, or no unpinned entry remains. Caller holds c.mu.
func (c *Cache) evictSyncLocked() {
	for c.size > c.maxSize {
		cand, ok := c.idx.Front()
		for ok && cand.Editing {
			cand, ok = c.idx.Next(cand)
		}
		if !ok {
			return
		}
		c.removeEntryLocked(cand)
	}
}

// Size returns the current total size in bytes of all readable entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// SetMaxSize changes the cache's size ceiling. Growing the bound never
// evicts. Shrinking it schedules one asynchronous eviction job on the
// cache's worker pool.
func (c *Cache) SetMaxSize(n int64) error {
	if n < 1 {
		return fmt.Errorf("%w: maxSize must be >= 1, got %d", ErrInvalidArgument, n)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	shrink := n < c.maxSize
	c.maxSize = n
	c.mu.Unlock()

	if shrink {
		c.pool.Submit(func() {
			c.mu.Lock()
			c.evictSyncLocked()
			c.mu.Unlock()
		})
	}
	return nil
}

// Flush blocks until every asynchronous eviction job scheduled so far has
// completed.
func (c *Cache) Flush() error {
	c.pool.Wait()
	return nil
}

// Stats returns a point-in-time accounting snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	st := Stats{Size: c.size, MaxSize: c.maxSize, Entries: c.idx.Len()}
	c.mu.Unlock()
	st.PendingEvictions = c.pool.Pending()
	return st
}

// Keys returns the user keys of every currently readable entry that has
// been touched by a Get or Edit since it was recovered from disk.
// Scanner placeholders not yet resolved to a key are excluded, since their
// key is unknown until touched.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for _, id := range c.idx.Keys() {
		e, ok := c.idx.Lookup(id)
		if ok && e.Readable && e.Identity != e.Hash {
			keys = append(keys, id)
		}
	}
	return keys
}

// Close aborts every in-flight editor, drains the eviction worker pool,
// and marks the cache unusable. It does not close snapshots the caller
// still holds open; leaking those is a caller bug per spec §5.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	editors := make([]*Editor, 0, len(c.activeEditors))
	for _, ed := range c.activeEditors {
		editors = append(editors, ed)
	}
	c.mu.Unlock()

	for _, ed := range editors {
		_ = ed.Abort()
	}
	c.pool.Wait()
	return nil
}
