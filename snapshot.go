package dcache

import (
	"fmt"
	"io"
	"os"

	"github.com/coldkeep/dcache/internal/entryindex"
)

// Snapshot is a point-in-time, immutable view of one entry's values,
// returned by Cache.Get. The files it holds open survive later writes or
// removal of the same key: on Unix this falls straight out of unlink
// semantics, since a rename or remove of the clean path never touches the
// inode a Snapshot already has open.
type Snapshot struct {
	cache   *Cache
	key     string
	entry   *entryindex.Entry
	seq     uint64
	lengths []int64
	handles []*os.File

	closed bool
}

func (s *Snapshot) checkIndex(i int) error {
	if i < 0 || i >= len(s.handles) {
		return fmt.Errorf("%w: value index %d out of range [0,%d)", ErrInvalidArgument, i, len(s.handles))
	}
	return nil
}

// Len returns the committed byte length of value i.
func (s *Snapshot) Len(i int) (int64, error) {
	if err := s.checkIndex(i); err != nil {
		return 0, err
	}
	return s.lengths[i], nil
}

// InputStream returns a reader positioned at the start of value i. Callers
// reading the same slot more than once get back the very same underlying
// handle, seeked to the beginning; concurrent reads of the same slot from
// multiple goroutines are not supported.
func (s *Snapshot) InputStream(i int) (io.Reader, error) {
	if s.closed {
		return nil, ErrInvalidState
	}
	if err := s.checkIndex(i); err != nil {
		return nil, err
	}
	if _, err := s.handles[i].Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("dcache: seek value %d: %w", i, err)
	}
	return s.handles[i], nil
}

// ReadAll returns the full content of value i.
func (s *Snapshot) ReadAll(i int) ([]byte, error) {
	r, err := s.InputStream(i)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Close releases the snapshot's open file handles. It is safe to call more
// than once.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, f := range s.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Edit returns a new Editor for the same key this snapshot was read from,
// refusing with (nil, nil) if the underlying entry has since been evicted,
// removed, or replaced by a commit newer than the one this snapshot saw —
// mirroring the reference implementation's editSinceEvicted behavior.
func (s *Snapshot) Edit() (*Editor, error) {
	c := s.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	cur, ok := c.idx.Lookup(s.key)
	if !ok || cur != s.entry || cur.Seq != s.seq {
		return nil, nil
	}
	if cur.Editing {
		return nil, nil
	}
	return c.newEditorLocked(cur), nil
}
