// Package bundle archives a workspace tree into a portable snapshot.
package bundle

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/quirelabs/quire/internal/vfs"
)

// Writer receives files to archive, one Add per file, then a single Close.
type Writer interface {
	Add(path string, data []byte, mode fs.FileMode) error
	Close() error
}

// TarGz is a Writer producing a gzip-compressed tar stream.
type TarGz struct {
	gz *gzip.Writer
	tw *tar.Writer

	now func() time.Time
}

// NewTarGz wraps w in a tar.gz stream. The caller still owns w and closes
// it after Close.
func NewTarGz(w io.Writer) *TarGz {
	gz := gzip.NewWriter(w)
	return &TarGz{gz: gz, tw: tar.NewWriter(gz), now: time.Now}
}

func (t *TarGz) Add(path string, data []byte, mode fs.FileMode) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path,
		Size:     int64(len(data)),
		Mode:     int64(mode.Perm()),
		ModTime:  t.now(),
	}
	if err := t.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive header %s: %w", path, err)
	}
	if _, err := t.tw.Write(data); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return nil
}

// Close finishes the tar stream and then the gzip stream. The archive is
// unreadable until both complete.
func (t *TarGz) Close() error {
	if err := t.tw.Close(); err != nil {
		_ = t.gz.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := t.gz.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// Snapshot streams every visible file under root into w and reports how many
// it added. Listing order is the backend's; dot entries never appear because
// the listers hide them. The caller closes w.
func Snapshot(ctx context.Context, fsys vfs.FS, root string, w Writer) (int, error) {
	files, err := vfs.ListAllRecursive(ctx, fsys, root)
	if err != nil {
		return 0, fmt.Errorf("list workspace: %w", err)
	}
	added := 0
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		data, err := readAny(ctx, fsys, p)
		if err != nil {
			return added, fmt.Errorf("bundle %s: %w", p, err)
		}
		if err := w.Add(p, data, 0o644); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// readAny reads a file as bytes, falling back to a text read on backends
// that decline binary access.
func readAny(ctx context.Context, fsys vfs.FS, p string) ([]byte, error) {
	data, err := fsys.ReadBinary(ctx, p)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, vfs.ErrUnsupported) {
		return nil, err
	}
	content, err := fsys.ReadFile(ctx, p)
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}
