package vfs

import (
	"context"
	"log/slog"
	"path"
	"strings"
)

// FS is the asynchronous filesystem contract. Implementations may suspend on
// any call; engines hold an FS by value and pass it freely, and a copy always
// observes the same backing store.
type FS interface {
	// ReadFile returns the file's content as UTF-8 text.
	ReadFile(ctx context.Context, path string) (string, error)
	// WriteFile creates or overwrites the file.
	WriteFile(ctx context.Context, path, content string) error
	// CreateNew writes the file only if the path does not already exist,
	// failing with ErrExists otherwise. This is the one primitive callers may
	// rely on to reject pre-existing state; they never compose Exists and
	// WriteFile themselves.
	CreateNew(ctx context.Context, path, content string) error
	// DeleteFile removes the file, ErrNotFound if absent.
	DeleteFile(ctx context.Context, path string) error
	// Exists reports whether the path names a file or directory. Absence is
	// (false, nil); the error return is for backends that cannot answer.
	Exists(ctx context.Context, path string) (bool, error)
	// IsDir reports whether the path names a directory. (false, nil) when the
	// path is absent or a file.
	IsDir(ctx context.Context, path string) (bool, error)
	// MkdirAll creates the directory and any missing parents. Creating an
	// existing chain succeeds.
	MkdirAll(ctx context.Context, path string) error
	// Move renames from to to, ErrNotFound if from is absent and ErrExists if
	// to is already present.
	Move(ctx context.Context, from, to string) error
	// List returns the directory's immediate children as full relative paths.
	// An absent or empty directory yields an empty list, not an error.
	List(ctx context.Context, dir string) ([]string, error)
	// ListMarkdown is List restricted to markdown files.
	ListMarkdown(ctx context.Context, dir string) ([]string, error)
	// ReadBinary returns the file's raw bytes. Backends without binary
	// support return ErrUnsupported.
	ReadBinary(ctx context.Context, path string) ([]byte, error)
	// WriteBinary creates or overwrites the file with raw bytes.
	WriteBinary(ctx context.Context, path string, data []byte) error
}

// Sync is the synchronous form of FS for backends that complete inline.
type Sync interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	CreateNew(path, content string) error
	DeleteFile(path string) error
	Exists(path string) (bool, error)
	IsDir(path string) (bool, error)
	MkdirAll(path string) error
	Move(from, to string) error
	List(dir string) ([]string, error)
	ListMarkdown(dir string) ([]string, error)
	ReadBinary(path string) ([]byte, error)
	WriteBinary(path string, data []byte) error
}

// RecursiveLister is the optional fast path for backends with a native
// recursive listing. ListRecursive returns every file under dir, depth first;
// directories themselves are not included.
type RecursiveLister interface {
	ListRecursive(ctx context.Context, dir string) ([]string, error)
}

// SyncRecursiveLister is the Sync counterpart of RecursiveLister.
type SyncRecursiveLister interface {
	ListRecursive(dir string) ([]string, error)
}

// Lift adapts a synchronous backend to the FS contract. Every lifted call
// performs the underlying operation inline and returns; the context is never
// consulted, so lifted operations cannot be interrupted and are always
// complete by the time they return.
func Lift(s Sync) FS { return lifted{s} }

type lifted struct{ s Sync }

func (l lifted) ReadFile(_ context.Context, path string) (string, error) { return l.s.ReadFile(path) }
func (l lifted) WriteFile(_ context.Context, path, content string) error {
	return l.s.WriteFile(path, content)
}
func (l lifted) CreateNew(_ context.Context, path, content string) error {
	return l.s.CreateNew(path, content)
}
func (l lifted) DeleteFile(_ context.Context, path string) error  { return l.s.DeleteFile(path) }
func (l lifted) Exists(_ context.Context, path string) (bool, error) { return l.s.Exists(path) }
func (l lifted) IsDir(_ context.Context, path string) (bool, error)  { return l.s.IsDir(path) }
func (l lifted) MkdirAll(_ context.Context, path string) error    { return l.s.MkdirAll(path) }
func (l lifted) Move(_ context.Context, from, to string) error    { return l.s.Move(from, to) }
func (l lifted) List(_ context.Context, dir string) ([]string, error) { return l.s.List(dir) }
func (l lifted) ListMarkdown(_ context.Context, dir string) ([]string, error) {
	return l.s.ListMarkdown(dir)
}
func (l lifted) ReadBinary(_ context.Context, path string) ([]byte, error) {
	return l.s.ReadBinary(path)
}
func (l lifted) WriteBinary(_ context.Context, path string, data []byte) error {
	return l.s.WriteBinary(path, data)
}

// ListRecursive forwards to the backend's native recursive listing when it
// has one and falls back to the generic walk otherwise.
func (l lifted) ListRecursive(ctx context.Context, dir string) ([]string, error) {
	if rl, ok := l.s.(SyncRecursiveLister); ok {
		return rl.ListRecursive(dir)
	}
	return walkAll(ctx, l, dir)
}

// IsMarkdown reports whether p names a markdown file.
func IsMarkdown(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".md")
}

// ListAllRecursive returns every file under dir, depth first. A backend
// implementing RecursiveLister is used directly; otherwise the walk descends
// through List and IsDir, skipping any subdirectory it fails to list so one
// unreadable subtree does not blank out its siblings.
func ListAllRecursive(ctx context.Context, fsys FS, dir string) ([]string, error) {
	if rl, ok := fsys.(RecursiveLister); ok {
		return rl.ListRecursive(ctx, dir)
	}
	return walkAll(ctx, fsys, dir)
}

// ListMarkdownRecursive is ListAllRecursive restricted to markdown files.
func ListMarkdownRecursive(ctx context.Context, fsys FS, dir string) ([]string, error) {
	all, err := ListAllRecursive(ctx, fsys, dir)
	if err != nil {
		return nil, err
	}
	var md []string
	for _, p := range all {
		if IsMarkdown(p) {
			md = append(md, p)
		}
	}
	return md, nil
}

func walkAll(ctx context.Context, fsys FS, dir string) ([]string, error) {
	children, err := fsys.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, child := range children {
		isDir, err := fsys.IsDir(ctx, child)
		if err != nil {
			return nil, err
		}
		if !isDir {
			out = append(out, child)
			continue
		}
		sub, err := walkAll(ctx, fsys, child)
		if err != nil {
			slog.Debug("vfs: skipping unlistable subdirectory", "dir", child, "err", err)
			continue
		}
		out = append(out, sub...)
	}
	return out, nil
}

// normPath cleans a workspace-relative path and rejects everything that would
// resolve outside the root. The empty string and "." both mean the root.
func normPath(op, p string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &OpError{Op: op, Path: p, Err: errEscapesRoot}
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}
