package dcache

import (
	"fmt"
	"io"
	"os"

	"github.com/coldkeep/dcache/internal/entryindex"
	"github.com/coldkeep/dcache/internal/pathlayout"
)

// Editor holds exclusive write access to one entry's value slots. An
// Editor is not safe for concurrent use by multiple goroutines; the cache
// itself already guarantees at most one Editor per entry at a time.
//
// Values are written to per-slot dirty files and only renamed into place
// on Commit, so a reader can never observe a partially-written entry
// (spec §4.4, mirroring the temp-file-then-rename pattern in the
// teacher's client/cache/disk.RefCache.PutDigest).
type Editor struct {
	cache *Cache
	entry *entryindex.Entry
	hash  string

	// first is true when this edit is creating the entry for the first
	// time, as opposed to replacing an already-readable one.
	first bool

	touched bitset // dirty file exists for slot i
	written bitset // slot i was written by Set, or got at least one byte through an output stream

	hasErrors bool
	done      bool

	outputs map[int]*os.File
	inputs  map[int]*os.File
}

func (e *Editor) checkValid() error {
	if e.done {
		return ErrInvalidState
	}
	return nil
}

func (e *Editor) ensureShardDir(i int) (string, error) {
	path := pathlayout.DirtyPath(e.cache.dir, e.hash, i, e.cache.shardPrefixLen)
	dir := pathlayout.ShardDir(e.cache.dir, e.hash, e.cache.shardPrefixLen)
	if err := os.MkdirAll(dir, e.cache.dirPerm); err != nil {
		return "", err
	}
	return path, nil
}

// Set writes the entirety of value i in one call, replacing any previous
// content written to it during this edit.
func (e *Editor) Set(i int, value []byte) error {
	if err := e.checkValid(); err != nil {
		return err
	}
	if i < 0 || i >= e.entry.ValueCount {
		return fmt.Errorf("%w: value index %d out of range [0,%d)", ErrInvalidArgument, i, e.entry.ValueCount)
	}
	path, err := e.ensureShardDir(i)
	if err != nil {
		e.hasErrors = true
		return fmt.Errorf("dcache: prepare value %d: %w", i, err)
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		e.hasErrors = true
		return fmt.Errorf("dcache: write value %d: %w", i, err)
	}
	e.touched.set(i)
	e.written.set(i)
	return nil
}

// outputStream wraps the dirty file for one value slot, marking it written
// on the first successful Write call, per spec §4.4.3.
type outputStream struct {
	ed *Editor
	i  int
	f  *os.File
}

func (o *outputStream) Write(p []byte) (int, error) {
	n, err := o.f.Write(p)
	if n > 0 {
		o.ed.written.set(o.i)
	}
	if err != nil {
		o.ed.hasErrors = true
	}
	return n, err
}

func (o *outputStream) Close() error {
	return o.f.Close()
}

// NewOutputStream returns a writer for value slot i, for callers that want
// to stream a value incrementally instead of buffering it and calling Set.
// The returned writer must be closed by the caller before Commit.
func (e *Editor) NewOutputStream(i int) (io.WriteCloser, error) {
	if err := e.checkValid(); err != nil {
		return nil, err
	}
	if i < 0 || i >= e.entry.ValueCount {
		return nil, fmt.Errorf("%w: value index %d out of range [0,%d)", ErrInvalidArgument, i, e.entry.ValueCount)
	}
	path, err := e.ensureShardDir(i)
	if err != nil {
		e.hasErrors = true
		return nil, fmt.Errorf("dcache: prepare value %d: %w", i, err)
	}
	if prev, ok := e.outputs[i]; ok {
		_ = prev.Close()
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		e.hasErrors = true
		return nil, fmt.Errorf("dcache: open value %d: %w", i, err)
	}
	// Reopening an already-touched slot truncates it, so any earlier write
	// to this slot in the same edit no longer counts until the caller
	// writes again.
	e.touched.set(i)
	e.written.clear(i)
	e.outputs[i] = f
	return &outputStream{ed: e, i: i, f: f}, nil
}

// GetString returns the current committed value of slot i as a string, or
// ("", false) if the entry has no prior committed version (first edit) or
// slot i has already been touched by this edit. It lets a caller read an
// unmodified value while replacing others in the same edit.
func (e *Editor) GetString(i int) (string, bool) {
	if e.checkValid() != nil || e.first || e.touched.test(i) {
		return "", false
	}
	data, err := e.readClean(i)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// NewInputStream returns a reader over the current committed value of slot
// i, under the same conditions as GetString. The caller must close it.
func (e *Editor) NewInputStream(i int) (io.ReadCloser, bool) {
	if e.checkValid() != nil || e.first || e.touched.test(i) {
		return nil, false
	}
	if f, ok := e.inputs[i]; ok {
		return f, true
	}
	path := pathlayout.CleanPath(e.cache.dir, e.hash, i, e.cache.shardPrefixLen)
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	e.inputs[i] = f
	return f, true
}

func (e *Editor) readClean(i int) ([]byte, error) {
	path := pathlayout.CleanPath(e.cache.dir, e.hash, i, e.cache.shardPrefixLen)
	return os.ReadFile(path)
}

func (e *Editor) closeOpenHandles() {
	for _, f := range e.outputs {
		_ = f.Close()
	}
	for _, f := range e.inputs {
		_ = f.Close()
	}
}

// Commit finalizes the edit: every written dirty file is renamed into
// place atomically and the entry becomes (or remains) readable. A slot
// that was only opened via NewOutputStream and never written to keeps
// whatever content its prior clean file had (or stays absent, for a
// first-creation edit), per spec §4.4.3's "written on first write" rule —
// touching a slot is not the same as writing it. If the edit created the
// entry for the first time and did not write every value slot, Commit
// fails with ErrIncomplete and aborts, per invariant I2. If a rename fails
// partway through, Commit falls back to abort semantics: for a
// first-creation edit every slot already renamed is rolled back too,
// since the entry must never appear partially readable; for a replacing
// edit already-renamed slots are left in place, since each rename is an
// atomic replace of a value that was already valid.
//
// The whole rename loop runs under the cache mutex: renames are cheap
// metadata syscalls, and holding the lock across them is what lets Get
// observe a commit atomically rather than seeing pre-commit lengths
// paired with post-commit bytes, per spec §5.
func (e *Editor) Commit() error {
	if err := e.checkValid(); err != nil {
		return err
	}
	e.closeOpenHandles()
	e.done = true

	c := e.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.hasErrors {
		e.abortFiles()
		e.releaseLocked()
		if e.first {
			c.dropEntryLocked(e.entry)
		}
		return fmt.Errorf("%w: write error during edit", ErrCommitFailed)
	}

	if e.first {
		for i := 0; i < e.entry.ValueCount; i++ {
			if !e.written.test(i) {
				e.abortFiles()
				e.releaseLocked()
				c.dropEntryLocked(e.entry)
				return fmt.Errorf("%w: slot %d never written", ErrIncomplete, i)
			}
		}
	}

	newLengths := append([]int64(nil), e.entry.Lengths...)
	if newLengths == nil {
		newLengths = make([]int64, e.entry.ValueCount)
	}

	renamed := make([]int, 0, e.entry.ValueCount)
	for i := 0; i < e.entry.ValueCount; i++ {
		if !e.written.test(i) {
			continue
		}
		clean := pathlayout.CleanPath(c.dir, e.hash, i, c.shardPrefixLen)
		dirty := pathlayout.DirtyPath(c.dir, e.hash, i, c.shardPrefixLen)
		info, err := os.Stat(dirty)
		if err != nil {
			return e.rollbackPartialCommitLocked(renamed, newLengths, fmt.Errorf("%w: stat dirty value %d: %v", ErrCommitFailed, i, err))
		}
		if err := os.Rename(dirty, clean); err != nil {
			return e.rollbackPartialCommitLocked(renamed, newLengths, fmt.Errorf("%w: rename value %d: %v", ErrCommitFailed, i, err))
		}
		newLengths[i] = info.Size()
		renamed = append(renamed, i)
	}
	// A slot that was touched (a dirty file exists) but never written
	// leaves a stray empty dirty file behind; it was never a candidate for
	// renaming, so it is only cleanup now that the edit is committing.
	for i := 0; i < e.entry.ValueCount; i++ {
		if e.touched.test(i) && !e.written.test(i) {
			_ = os.Remove(pathlayout.DirtyPath(c.dir, e.hash, i, c.shardPrefixLen))
		}
	}

	e.releaseLocked()
	if e.entry.Readable {
		for _, l := range e.entry.Lengths {
			c.size -= l
		}
	}
	e.entry.Lengths = newLengths
	e.entry.Readable = true
	e.entry.Seq++
	for _, l := range newLengths {
		c.size += l
	}
	c.idx.Touch(e.entry)
	c.evictSyncLocked()
	return nil
}

// releaseLocked clears the bookkeeping that marks e as the entry's
// in-flight editor. Caller holds c.mu.
func (e *Editor) releaseLocked() {
	delete(e.cache.activeEditors, e.hash)
	e.entry.Editing = false
}

// rollbackPartialCommitLocked is called when a rename fails partway
// through Commit. renamed lists the slot indices already moved into
// place. Caller holds c.mu.
func (e *Editor) rollbackPartialCommitLocked(renamed []int, newLengths []int64, cause error) error {
	c := e.cache
	if e.first {
		for _, i := range renamed {
			_ = os.Remove(pathlayout.CleanPath(c.dir, e.hash, i, c.shardPrefixLen))
		}
		e.abortFiles()
		e.releaseLocked()
		c.dropEntryLocked(e.entry)
		return cause
	}
	// Update edit: already-renamed slots stay committed as new content;
	// anything not yet renamed keeps its prior clean content untouched.
	e.abortRemainingDirty()
	e.releaseLocked()
	if e.entry.Readable {
		for _, l := range e.entry.Lengths {
			c.size -= l
		}
	}
	for _, i := range renamed {
		e.entry.Lengths[i] = newLengths[i]
	}
	for _, l := range e.entry.Lengths {
		c.size += l
	}
	e.entry.Seq++
	c.idx.Touch(e.entry)
	c.evictSyncLocked()
	return cause
}

// abortFiles removes every dirty file this edit created.
func (e *Editor) abortFiles() {
	for i := 0; i < e.entry.ValueCount; i++ {
		if e.touched.test(i) {
			_ = os.Remove(pathlayout.DirtyPath(e.cache.dir, e.hash, i, e.cache.shardPrefixLen))
		}
	}
}

// abortRemainingDirty removes dirty files for slots not yet renamed.
func (e *Editor) abortRemainingDirty() {
	for i := 0; i < e.entry.ValueCount; i++ {
		if e.touched.test(i) {
			path := pathlayout.DirtyPath(e.cache.dir, e.hash, i, e.cache.shardPrefixLen)
			if _, err := os.Stat(path); err == nil {
				_ = os.Remove(path)
			}
		}
	}
}

// Abort discards every dirty file written during this edit.
func (e *Editor) Abort() error {
	if e.done {
		return nil
	}
	e.closeOpenHandles()
	e.done = true

	c := e.cache
	c.mu.Lock()
	c.abortEditorLocked(e)
	c.mu.Unlock()

	e.abortFiles()
	return nil
}

// abortEditorLocked performs the bookkeeping half of aborting e: caller
// holds c.mu. It removes the entry from the index if this was its first
// edit, and clears the editing marker either way. File cleanup is the caller's
// responsibility, done outside the lock.
func (c *Cache) abortEditorLocked(e *Editor) {
	e.releaseLocked()
	if e.first {
		c.idx.Remove(e.entry)
	}
}
