package vfs

import (
	"errors"
	"io/fs"
)

// Sentinel errors shared by all backends. They are the std fs sentinels, so
// errors.Is(err, fs.ErrNotExist) and errors.Is(err, ErrNotFound) agree.
var (
	ErrNotFound    = fs.ErrNotExist
	ErrExists      = fs.ErrExist
	ErrUnsupported = errors.ErrUnsupported
)

// OpError records the failing operation and the path it was applied to.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

var errEscapesRoot = errors.New("path escapes the workspace root")
