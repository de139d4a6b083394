// Package dcache implements a bounded, disk-backed least-recently-used
// cache for opaque byte payloads.
//
// Each entry is identified by a caller-supplied key and holds a fixed
// number of independently addressable values. Entries are created,
// replaced, and removed atomically: a partially-written entry is never
// observable to readers, and a reader holds a point-in-time snapshot
// immune to later rewrites or deletions.
//
// # Quick start
//
//	c, err := dcache.Open("/var/cache/myapp", 2, 10<<20)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	editor, err := c.Edit("some-key")
//	if err != nil {
//	    return err
//	}
//	editor.Set(0, []byte("header"))
//	editor.Set(1, []byte("body"))
//	if err := editor.Commit(); err != nil {
//	    return err
//	}
//
//	snap, err := c.Get("some-key")
//	if err != nil {
//	    return err
//	}
//	defer snap.Close()
//	header, _ := snap.ReadAll(0)
//
// # Durability
//
// The cache directory can be reopened across process restarts: Open scans
// the directory and recovers every complete entry it finds. Because the
// caller's key is never stored on disk, recovered entries start out keyed
// by the SHA-256 hash of their key; the first Get or Edit that supplies the matching
// key promotes the placeholder in place.
//
// A single process must own a given cache directory for its lifetime.
// There is no cross-process coordination, no journal, and no compression
// or encryption of values — see the package's design notes for the full
// list of non-goals.
package dcache
