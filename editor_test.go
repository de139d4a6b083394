package dcache_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldkeep/dcache"
)

func TestOutputStreamWritesAndCommits(t *testing.T) {
	c, err := dcache.Open(t.TempDir(), 2, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	editor, err := c.Edit("k")
	require.NoError(t, err)

	w0, err := editor.NewOutputStream(0)
	require.NoError(t, err)
	_, err = io.WriteString(w0, "streamed-zero")
	require.NoError(t, err)
	require.NoError(t, w0.Close())

	require.NoError(t, editor.Set(1, []byte("plain-one")))
	require.NoError(t, editor.Commit())

	snap := mustGet(t, c, "k")
	defer snap.Close()
	require.Equal(t, "streamed-zero", readAllString(t, snap, 0))
	require.Equal(t, "plain-one", readAllString(t, snap, 1))
}

// TestOutputStreamReopenTruncates covers spec.md §9's truncate-on-open
// behavior: opening a second output stream for a slot already touched in
// the same edit discards whatever the first stream wrote.
func TestOutputStreamReopenTruncates(t *testing.T) {
	c, err := dcache.Open(t.TempDir(), 1, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	editor, err := c.Edit("k")
	require.NoError(t, err)

	w1, err := editor.NewOutputStream(0)
	require.NoError(t, err)
	_, err = io.WriteString(w1, "this gets discarded")
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := editor.NewOutputStream(0)
	require.NoError(t, err)
	_, err = io.WriteString(w2, "final")
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	require.NoError(t, editor.Commit())

	snap := mustGet(t, c, "k")
	defer snap.Close()
	require.Equal(t, "final", readAllString(t, snap, 0))
}

// TestOutputStreamUnwrittenSlotLeavesPriorContentUntouched is the
// regression test for the touched-vs-written distinction spec.md §4.4.3
// draws: opening a stream for a slot without ever writing to it must not
// clobber that slot's previously committed content on commit.
func TestOutputStreamUnwrittenSlotLeavesPriorContentUntouched(t *testing.T) {
	c, err := dcache.Open(t.TempDir(), 2, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	put(t, c, "k", "A", "B")

	editor, err := c.Edit("k")
	require.NoError(t, err)

	w, err := editor.NewOutputStream(1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, editor.Set(0, []byte("C")))
	require.NoError(t, editor.Commit())

	snap := mustGet(t, c, "k")
	defer snap.Close()
	require.Equal(t, "C", readAllString(t, snap, 0))
	require.Equal(t, "B", readAllString(t, snap, 1), "an opened-but-unwritten slot must keep its prior content")
}

func TestInputStreamReturnsPriorContentDuringEdit(t *testing.T) {
	c, err := dcache.Open(t.TempDir(), 2, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	put(t, c, "k", "A", "B")

	editor, err := c.Edit("k")
	require.NoError(t, err)
	require.NoError(t, editor.Set(0, []byte("C")))

	r, ok := editor.NewInputStream(1)
	require.True(t, ok)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "B", string(data))
	require.NoError(t, r.Close())

	require.NoError(t, editor.Commit())
}

// TestEditorInputStreamHandleIdentity mirrors the same guarantee
// Snapshot.InputStream gives: repeated calls for the same untouched slot
// return the same underlying handle rather than opening the file again.
func TestEditorInputStreamHandleIdentity(t *testing.T) {
	c, err := dcache.Open(t.TempDir(), 1, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	put(t, c, "k", "original")

	editor, err := c.Edit("k")
	require.NoError(t, err)

	r1, ok := editor.NewInputStream(0)
	require.True(t, ok)
	r2, ok := editor.NewInputStream(0)
	require.True(t, ok)
	require.Same(t, r1, r2)

	require.NoError(t, editor.Abort())
}

func TestInputStreamRefusedForTouchedSlotOrFirstEdit(t *testing.T) {
	c, err := dcache.Open(t.TempDir(), 1, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	firstEdit, err := c.Edit("new-key")
	require.NoError(t, err)
	_, ok := firstEdit.NewInputStream(0)
	require.False(t, ok, "a first edit has no prior committed content to stream")
	require.NoError(t, firstEdit.Set(0, []byte("v")))
	require.NoError(t, firstEdit.Commit())

	updateEdit, err := c.Edit("new-key")
	require.NoError(t, err)
	require.NoError(t, updateEdit.Set(0, []byte("v2")))
	_, ok = updateEdit.NewInputStream(0)
	require.False(t, ok, "a slot already touched by this edit cannot be read as prior content")
	require.NoError(t, updateEdit.Commit())
}
