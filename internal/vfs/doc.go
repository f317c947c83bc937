// Package vfs defines the filesystem contract every quire engine is built on.
//
// # Contract
//
// [FS] is the primary interface: every operation takes a [context.Context] and
// may block for as long as the backing store needs. [Sync] is the same set of
// operations without contexts, for in-process backends that complete inline;
// [Lift] adapts any Sync backend to FS. A lifted operation finishes before
// returning and never consults the context, so callers may drive it under an
// already-cancelled context and still observe completion.
//
// # Paths
//
// All paths are workspace-relative and forward-slash separated. Backends
// clean "." and ".." segments purely for addressing, so "a/../b.md" and
// "b.md" reach the same file; a path that escapes the workspace root is
// rejected. Whether a path as written in frontmatter is portable is a
// validation concern, judged on the written string, never on backend
// behavior. Listings return full relative paths joined onto the directory
// argument, and entries whose name begins with a dot are never listed.
//
// # Failure
//
// Absence is an answer, not an error: Exists and IsDir report (false, nil)
// for a missing path and reserve their error return for backends that cannot
// answer at all. Everything else signals absence with [ErrNotFound],
// collisions with [ErrExists], and missing capabilities with [ErrUnsupported],
// all matchable through errors.Is against the std fs sentinels. No operation
// leaves a partial effect visible on failure.
package vfs
