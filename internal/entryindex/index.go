// Package entryindex holds the cache's authoritative in-memory state: a
// lookup map from identity to entry plus the recency order those entries
// are evicted in.
//
// Index performs no locking of its own. Every exported method reads or
// mutates shared state and callers are expected to hold the cache-wide mutex
// documented in the top-level package's concurrency model — mirroring the
// teacher's authHeaderCache in client/oci/auth_cache.go, generalized so an
// entry's lookup identity can change after insertion (a scanner placeholder
// keyed by hash is promoted in-place to a real entry keyed by the caller's
// key, per the directory-recovery mechanism).
package entryindex

import "container/list"

// Entry is one cache record. Fields are plain data; the index and its
// owner mutate them directly under the shared lock.
type Entry struct {
	// Identity is the current lookup key: a hash while the entry is an
	// unclaimed scanner placeholder, the caller's key once promoted.
	Identity string
	// Hash is the entry's path-layout hash. Stable for the entry's lifetime.
	Hash string
	// ValueCount is fixed at cache open and identical for every entry.
	ValueCount int
	// Lengths holds the committed byte length of each value slot. Only
	// meaningful when Readable is true.
	Lengths []int64
	// Readable is true once a complete, committed version exists on disk.
	Readable bool
	// Editing marks an in-flight editor. The index only tracks whether one
	// exists, not the editor value itself, to avoid a dependency on the
	// editor type.
	Editing bool
	// Seq is the entry's commit sequence, bumped on every successful
	// commit. Used to invalidate editors derived from a stale snapshot.
	Seq uint64

	elem *list.Element
}

// Index is the map + recency list pair described in spec §4.3.
type Index struct {
	byIdentity map[string]*Entry
	order      *list.List // order.Back() is most-recently-used; Front() is the eviction candidate
}

// New returns an empty index.
func New() *Index {
	return &Index{
		byIdentity: make(map[string]*Entry),
		order:      list.New(),
	}
}

// Lookup returns the entry currently registered under identity, if any.
func (ix *Index) Lookup(identity string) (*Entry, bool) {
	e, ok := ix.byIdentity[identity]
	return e, ok
}

// Len returns the number of entries in the index.
func (ix *Index) Len() int {
	return ix.order.Len()
}

// Keys returns every current lookup identity, in no particular order.
func (ix *Index) Keys() []string {
	keys := make([]string, 0, len(ix.byIdentity))
	for k := range ix.byIdentity {
		keys = append(keys, k)
	}
	return keys
}

// Insert registers a brand new entry at the tail (most-recently-used end)
// of the recency list.
func (ix *Index) Insert(e *Entry) {
	e.elem = ix.order.PushBack(e)
	ix.byIdentity[e.Identity] = e
}

// Promote re-keys an entry from its current identity (a hash placeholder)
// to newIdentity (the caller's real key), without disturbing its position
// in the recency list.
func (ix *Index) Promote(e *Entry, newIdentity string) {
	delete(ix.byIdentity, e.Identity)
	e.Identity = newIdentity
	ix.byIdentity[newIdentity] = e
}

// Touch moves e to the tail of the recency list (most-recently-used).
func (ix *Index) Touch(e *Entry) {
	ix.order.MoveToBack(e.elem)
}

// Remove unlinks e from both the map and the recency list.
func (ix *Index) Remove(e *Entry) {
	ix.order.Remove(e.elem)
	delete(ix.byIdentity, e.Identity)
	e.elem = nil
}

// Front returns the least-recently-used entry, the eviction candidate.
func (ix *Index) Front() (*Entry, bool) {
	elem := ix.order.Front()
	if elem == nil {
		return nil, false
	}
	return elem.Value.(*Entry), true //nolint:errcheck // list only ever holds *Entry
}

// Next returns the entry immediately after e in recency order (towards
// most-recently-used), used by eviction to step past a pinned entry.
func (ix *Index) Next(e *Entry) (*Entry, bool) {
	if e.elem == nil || e.elem.Next() == nil {
		return nil, false
	}
	return e.elem.Next().Value.(*Entry), true //nolint:errcheck // list only ever holds *Entry
}
