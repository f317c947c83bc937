package vfs

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// OS is a Sync backend rooted at a native directory. Paths are confined to
// the root; a relative path that resolves outside it is rejected.
type OS struct {
	root string
}

// NewOS returns a backend rooted at dir. The directory does not have to exist
// yet; the first write creates it.
func NewOS(dir string) *OS {
	return &OS{root: filepath.Clean(dir)}
}

// Root returns the native directory this backend is rooted at.
func (o *OS) Root() string { return o.root }

func (o *OS) abs(op, rel string) (string, error) {
	cleaned, err := normPath(op, rel)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return o.root, nil
	}
	return filepath.Join(o.root, filepath.FromSlash(cleaned)), nil
}

func (o *OS) ReadFile(rel string) (string, error) {
	p, err := o.abs("read", rel)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (o *OS) WriteFile(rel, content string) error {
	return o.WriteBinary(rel, []byte(content))
}

func (o *OS) CreateNew(rel, content string) error {
	p, err := o.abs("create_new", rel)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(p)
		return err
	}
	return f.Close()
}

func (o *OS) DeleteFile(rel string) error {
	p, err := o.abs("delete", rel)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

func (o *OS) Exists(rel string) (bool, error) {
	p, err := o.abs("exists", rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (o *OS) IsDir(rel string) (bool, error) {
	p, err := o.abs("is_dir", rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (o *OS) MkdirAll(rel string) error {
	p, err := o.abs("create_dir_all", rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

func (o *OS) Move(from, to string) error {
	src, err := o.abs("move", from)
	if err != nil {
		return err
	}
	dst, err := o.abs("move", to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return &OpError{Op: "move", Path: to, Err: ErrExists}
	}
	return os.Rename(src, dst)
}

func (o *OS) List(dir string) ([]string, error) {
	cleaned, err := normPath("list", dir)
	if err != nil {
		return nil, err
	}
	entries, err := o.readDir(cleaned)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, path.Join(cleaned, e.Name()))
	}
	return out, nil
}

func (o *OS) ListMarkdown(dir string) ([]string, error) {
	cleaned, err := normPath("list_md", dir)
	if err != nil {
		return nil, err
	}
	entries, err := o.readDir(cleaned)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsMarkdown(e.Name()) {
			continue
		}
		out = append(out, path.Join(cleaned, e.Name()))
	}
	return out, nil
}

func (o *OS) readDir(cleaned string) ([]os.DirEntry, error) {
	p := o.root
	if cleaned != "" {
		p = filepath.Join(o.root, filepath.FromSlash(cleaned))
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

func (o *OS) ReadBinary(rel string) ([]byte, error) {
	p, err := o.abs("read_binary", rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (o *OS) WriteBinary(rel string, data []byte) error {
	p, err := o.abs("write_binary", rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".quire-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// ListRecursive walks the native tree directly instead of recursing through
// List and IsDir one call at a time.
func (o *OS) ListRecursive(dir string) ([]string, error) {
	cleaned, err := normPath("list_recursive", dir)
	if err != nil {
		return nil, err
	}
	base := o.root
	if cleaned != "" {
		base = filepath.Join(o.root, filepath.FromSlash(cleaned))
	}
	var out []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == base && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			// One unreadable subtree must not blank out its siblings.
			return nil
		}
		if p == base {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		out = append(out, path.Join(cleaned, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
