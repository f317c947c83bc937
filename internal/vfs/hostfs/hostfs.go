// Package hostfs adapts a table of host-provided callbacks to the vfs.FS
// contract. The adapter holds no storage state of its own: every operation
// forwards to the same-named callback and funnels the result back through an
// explicit per-shape conversion, so a loosely-typed host value never travels
// past this boundary.
//
// A callback may return its result directly or as an [Awaitable]; both are
// handled on every call, since a host is free to implement any operation
// either way. A missing callback fails the operation with vfs.ErrUnsupported,
// with two exceptions documented on the methods: create_new emulates through
// exists plus write_file (a known race window on hosts without an atomic
// create), and create_dir_all succeeds silently, because flat object stores
// have no directories to create.
//
// Copies of an FS share the same callback table. One logical call chain at a
// time is assumed; concurrent chains against the same table are undefined
// behavior, exactly as undefined as they are on the host side.
package hostfs

import (
	"context"
	"fmt"
	"maps"

	"github.com/quirelabs/quire/internal/vfs"
)

// Callback is one host-provided filesystem operation. Arguments are strings
// except for write_binary's payload; the result shape depends on the
// operation and is validated by the adapter.
type Callback func(args ...any) (any, error)

// Awaitable is a pending callback result. Await blocks until the host
// settles it or the context is cancelled.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Table operation names, matching the wire-level contract.
const (
	OpReadToString = "read_to_string"
	OpWriteFile    = "write_file"
	OpCreateNew    = "create_new"
	OpDeleteFile   = "delete_file"
	OpExists       = "exists"
	OpIsDir        = "is_dir"
	OpCreateDirAll = "create_dir_all"
	OpMoveFile     = "move_file"
	OpListFiles    = "list_files"
	OpListMDFiles  = "list_md_files"
	OpReadBinary   = "read_binary"
	OpWriteBinary  = "write_binary"
)

// FS forwards the vfs.FS contract to a callback table. The zero value is a
// backend with no capabilities; construct with New.
type FS struct {
	table map[string]Callback
}

// New builds an adapter over table. The table is copied once, so later
// mutation by the caller does not affect the adapter, and all copies of the
// returned FS observe the same callbacks.
func New(table map[string]Callback) FS {
	return FS{table: maps.Clone(table)}
}

// Has reports whether the host supplied the named callback.
func (f FS) Has(op string) bool {
	_, ok := f.table[op]
	return ok
}

// call invokes one callback, waiting out a pending result. Failures are
// stringified into the adapter's error space; nothing host-specific leaks.
func (f FS) call(ctx context.Context, op, path string, args ...any) (any, error) {
	cb, ok := f.table[op]
	if !ok {
		return nil, &vfs.OpError{Op: op, Path: path, Err: vfs.ErrUnsupported}
	}
	v, err := cb(args...)
	if err != nil {
		return nil, &vfs.OpError{Op: op, Path: path, Err: fmt.Errorf("callback failed: %s", err)}
	}
	if aw, ok := v.(Awaitable); ok {
		v, err = aw.Await(ctx)
		if err != nil {
			return nil, &vfs.OpError{Op: op, Path: path, Err: fmt.Errorf("callback rejected: %s", err)}
		}
	}
	return v, nil
}

func (f FS) ReadFile(ctx context.Context, path string) (string, error) {
	v, err := f.call(ctx, OpReadToString, path, path)
	if err != nil {
		return "", err
	}
	return asString(OpReadToString, path, v)
}

func (f FS) WriteFile(ctx context.Context, path, content string) error {
	_, err := f.call(ctx, OpWriteFile, path, path, content)
	return err
}

// CreateNew prefers the host's own create_new callback. Without one it
// emulates: exists, then write_file. The emulation has a window in which a
// concurrent writer can slip in; hosts that care supply the callback.
func (f FS) CreateNew(ctx context.Context, path, content string) error {
	if f.Has(OpCreateNew) {
		_, err := f.call(ctx, OpCreateNew, path, path, content)
		return err
	}
	ok, err := f.Exists(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		return &vfs.OpError{Op: OpCreateNew, Path: path, Err: vfs.ErrExists}
	}
	return f.WriteFile(ctx, path, content)
}

func (f FS) DeleteFile(ctx context.Context, path string) error {
	_, err := f.call(ctx, OpDeleteFile, path, path)
	return err
}

func (f FS) Exists(ctx context.Context, path string) (bool, error) {
	v, err := f.call(ctx, OpExists, path, path)
	if err != nil {
		return false, err
	}
	return asBool(OpExists, path, v)
}

func (f FS) IsDir(ctx context.Context, path string) (bool, error) {
	v, err := f.call(ctx, OpIsDir, path, path)
	if err != nil {
		return false, err
	}
	return asBool(OpIsDir, path, v)
}

// MkdirAll succeeds silently when the host offers no create_dir_all: a store
// without directories has nothing to create.
func (f FS) MkdirAll(ctx context.Context, path string) error {
	if !f.Has(OpCreateDirAll) {
		return nil
	}
	_, err := f.call(ctx, OpCreateDirAll, path, path)
	return err
}

func (f FS) Move(ctx context.Context, from, to string) error {
	_, err := f.call(ctx, OpMoveFile, from, from, to)
	return err
}

func (f FS) List(ctx context.Context, dir string) ([]string, error) {
	v, err := f.call(ctx, OpListFiles, dir, dir)
	if err != nil {
		return nil, err
	}
	return asStrings(OpListFiles, dir, v)
}

// ListMarkdown filters List when the host has no dedicated list_md_files.
func (f FS) ListMarkdown(ctx context.Context, dir string) ([]string, error) {
	if f.Has(OpListMDFiles) {
		v, err := f.call(ctx, OpListMDFiles, dir, dir)
		if err != nil {
			return nil, err
		}
		return asStrings(OpListMDFiles, dir, v)
	}
	all, err := f.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var md []string
	for _, p := range all {
		if vfs.IsMarkdown(p) {
			md = append(md, p)
		}
	}
	return md, nil
}

func (f FS) ReadBinary(ctx context.Context, path string) ([]byte, error) {
	v, err := f.call(ctx, OpReadBinary, path, path)
	if err != nil {
		return nil, err
	}
	return asBytes(OpReadBinary, path, v)
}

func (f FS) WriteBinary(ctx context.Context, path string, data []byte) error {
	_, err := f.call(ctx, OpWriteBinary, path, path, data)
	return err
}
