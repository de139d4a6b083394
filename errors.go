package dcache

import "errors"

// Sentinel errors returned by Cache and Editor methods. Wrap these with
// fmt.Errorf("...: %w", ErrX) at call sites so errors.Is composes, the
// convention used throughout the teacher's client/cache/disk package.
var (
	// ErrInvalidArgument is returned by Open when valueCount or maxSize is
	// out of range.
	ErrInvalidArgument = errors.New("dcache: invalid argument")

	// ErrClosed is returned by Get, Edit, Remove, SetMaxSize and
	// Snapshot.Edit when called after Close.
	ErrClosed = errors.New("dcache: cache is closed")

	// ErrInvalidState is returned by an Editor method called after that
	// editor has already committed or aborted.
	ErrInvalidState = errors.New("dcache: editor is no longer valid")

	// ErrIncomplete is returned by Commit when a first-creation edit did
	// not write every value slot.
	ErrIncomplete = errors.New("dcache: first edit did not write every slot")

	// ErrCommitFailed is returned by Commit when finalizing the edit
	// (renaming a dirty file into place) failed. The edit is aborted.
	ErrCommitFailed = errors.New("dcache: commit failed")

	// ErrBusy is returned by Remove when the entry has an in-flight editor.
	ErrBusy = errors.New("dcache: entry has an in-flight editor")
)
