package vfs

import (
	"errors"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Mem is an in-process Sync backend holding everything in memory. It mirrors
// the OS backend's behavior: writes create missing parents, CreateNew and
// Move do not, and listings are name-ordered with dot entries hidden. All
// copies of a handle share the same store, and stored bytes are copied on
// the way in and out.
type Mem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMem returns an empty in-memory backend.
func NewMem() *Mem {
	return &Mem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

var errIsDirectory = errors.New("is a directory")
var errNotEmpty = errors.New("directory not empty")

func (m *Mem) ReadFile(rel string) (string, error) {
	b, err := m.ReadBinary(rel)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *Mem) WriteFile(rel, content string) error {
	return m.WriteBinary(rel, []byte(content))
}

func (m *Mem) CreateNew(rel, content string) error {
	p, err := normPath("create_new", rel)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		return &OpError{Op: "create_new", Path: rel, Err: ErrExists}
	}
	if m.isDir(p) {
		return &OpError{Op: "create_new", Path: rel, Err: ErrExists}
	}
	if parent := path.Dir(p); parent != "." && !m.isDir(parent) {
		return &OpError{Op: "create_new", Path: rel, Err: ErrNotFound}
	}
	m.files[p] = []byte(content)
	return nil
}

func (m *Mem) DeleteFile(rel string) error {
	p, err := normPath("delete", rel)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if m.isDir(p) {
		if m.dirHasChildren(p) {
			return &OpError{Op: "delete", Path: rel, Err: errNotEmpty}
		}
		delete(m.dirs, p)
		return nil
	}
	return &OpError{Op: "delete", Path: rel, Err: ErrNotFound}
}

func (m *Mem) Exists(rel string) (bool, error) {
	p, err := normPath("exists", rel)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.files[p]; ok {
		return true, nil
	}
	return m.isDir(p), nil
}

func (m *Mem) IsDir(rel string) (bool, error) {
	p, err := normPath("is_dir", rel)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isDir(p), nil
}

func (m *Mem) MkdirAll(rel string) error {
	p, err := normPath("create_dir_all", rel)
	if err != nil {
		return err
	}
	if p == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := p; dir != "."; dir = path.Dir(dir) {
		if _, ok := m.files[dir]; ok {
			return &OpError{Op: "create_dir_all", Path: rel, Err: ErrExists}
		}
	}
	for dir := p; dir != "."; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

func (m *Mem) Move(from, to string) error {
	src, err := normPath("move", from)
	if err != nil {
		return err
	}
	dst, err := normPath("move", to)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[src]
	if !ok {
		if m.isDir(src) {
			return &OpError{Op: "move", Path: from, Err: errIsDirectory}
		}
		return &OpError{Op: "move", Path: from, Err: ErrNotFound}
	}
	if _, ok := m.files[dst]; ok || m.isDir(dst) {
		return &OpError{Op: "move", Path: to, Err: ErrExists}
	}
	if parent := path.Dir(dst); parent != "." && !m.isDir(parent) {
		return &OpError{Op: "move", Path: to, Err: ErrNotFound}
	}
	m.files[dst] = data
	delete(m.files, src)
	return nil
}

func (m *Mem) List(dir string) ([]string, error) {
	return m.list(dir, func(string, bool) bool { return true })
}

func (m *Mem) ListMarkdown(dir string) ([]string, error) {
	return m.list(dir, func(p string, isDir bool) bool { return !isDir && IsMarkdown(p) })
}

func (m *Mem) list(dir string, keep func(p string, isDir bool) bool) ([]string, error) {
	cleaned, err := normPath("list", dir)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := ""
	if cleaned != "" {
		prefix = cleaned + "/"
	}
	seen := map[string]bool{}
	add := func(child string, isDir bool) {
		name := path.Base(child)
		if strings.HasPrefix(name, ".") || seen[child] {
			return
		}
		if keep(child, isDir) {
			seen[child] = true
		}
	}
	for p := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if seg, _, nested := strings.Cut(rest, "/"); nested {
			add(path.Join(cleaned, seg), true)
		} else {
			add(p, false)
		}
	}
	for d := range m.dirs {
		if !strings.HasPrefix(d, prefix) || d == cleaned {
			continue
		}
		rest := strings.TrimPrefix(d, prefix)
		seg, _, _ := strings.Cut(rest, "/")
		add(path.Join(cleaned, seg), true)
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mem) ReadBinary(rel string) ([]byte, error) {
	p, err := normPath("read", rel)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[p]
	if !ok {
		if m.isDir(p) {
			return nil, &OpError{Op: "read", Path: rel, Err: errIsDirectory}
		}
		return nil, &OpError{Op: "read", Path: rel, Err: ErrNotFound}
	}
	return slices.Clone(data), nil
}

func (m *Mem) WriteBinary(rel string, data []byte) error {
	p, err := normPath("write", rel)
	if err != nil {
		return err
	}
	if p == "" {
		return &OpError{Op: "write", Path: rel, Err: errIsDirectory}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isDir(p) {
		return &OpError{Op: "write", Path: rel, Err: errIsDirectory}
	}
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		if _, ok := m.files[dir]; ok {
			return &OpError{Op: "write", Path: rel, Err: errIsDirectory}
		}
	}
	m.files[p] = slices.Clone(data)
	return nil
}

// isDir reports whether p is an explicit or implicit directory. Callers hold
// the lock.
func (m *Mem) isDir(p string) bool {
	if p == "" {
		return true
	}
	if m.dirs[p] {
		return true
	}
	return m.dirHasChildren(p)
}

func (m *Mem) dirHasChildren(p string) bool {
	prefix := p + "/"
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}
