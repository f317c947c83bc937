// Package workspace is the tree engine: it discovers index files, walks
// contents references into an ephemeral tree, and applies the compound
// structural mutations that keep part_of and contents consistent on both
// sides of an edit. It holds no state beyond a filesystem handle; trees
// are recomputed on every call because the underlying files can change
// with no notification.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/quirelabs/quire/internal/entry"
	"github.com/quirelabs/quire/internal/vfs"
)

// Workspace wraps a filesystem handle. The zero value is not usable; use
// New. Copies share the same handle, which is the intended way to hand a
// workspace to helpers.
type Workspace struct {
	fsys vfs.FS
	log  *slog.Logger
	now  func() time.Time
	tmpl TemplateFunc
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger used for skipped-file debug output.
func WithLogger(log *slog.Logger) Option {
	return func(w *Workspace) { w.log = log }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Workspace) { w.now = now }
}

// WithTemplate sets the body template for newly created entries.
func WithTemplate(fn TemplateFunc) Option {
	return func(w *Workspace) { w.tmpl = fn }
}

// New returns a workspace over fsys.
func New(fsys vfs.FS, opts ...Option) *Workspace {
	w := &Workspace{
		fsys: fsys,
		log:  slog.Default(),
		now:  time.Now,
		tmpl: DefaultTemplate,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// FS returns the underlying filesystem handle.
func (w *Workspace) FS() vfs.FS { return w.fsys }

// Load reads and strictly parses one entry.
func (w *Workspace) Load(ctx context.Context, p string) (*entry.Entry, error) {
	content, err := w.fsys.ReadFile(ctx, p)
	if err != nil {
		return nil, err
	}
	return entry.Parse(cleanPath(p), content)
}

// LoadLoose reads one entry, tolerating a missing frontmatter block.
func (w *Workspace) LoadLoose(ctx context.Context, p string) (*entry.Entry, error) {
	content, err := w.fsys.ReadFile(ctx, p)
	if err != nil {
		return nil, err
	}
	return entry.ParseLoose(cleanPath(p), content)
}

// Save stamps the entry's updated timestamp and writes it back.
func (w *Workspace) Save(ctx context.Context, e *entry.Entry) error {
	e.Touch(w.now())
	content, err := e.Encode()
	if err != nil {
		return err
	}
	return w.fsys.WriteFile(ctx, e.Path, content)
}

// SaveNew is Save with create-exclusive semantics: it refuses to overwrite
// an existing file.
func (w *Workspace) SaveNew(ctx context.Context, e *entry.Entry) error {
	e.Touch(w.now())
	content, err := e.Encode()
	if err != nil {
		return err
	}
	return w.fsys.CreateNew(ctx, e.Path, content)
}

// Index is the parsed record of a file that may act as an index. IsIndex
// reports whether it actually does; a leaf is a legitimate parse result,
// not an error.
type Index struct {
	*entry.Entry
}

// ResolvePath joins a reference from this index's contents against the
// index's own directory.
func (i Index) ResolvePath(ref string) string {
	return entry.Resolve(i.Path, ref)
}

// ParseIndex reads and parses one file into an Index. It fails if the file
// cannot be read or its frontmatter cannot be parsed, not if the file
// merely lacks a contents key.
func (w *Workspace) ParseIndex(ctx context.Context, p string) (Index, error) {
	e, err := w.Load(ctx, p)
	if err != nil {
		return Index{}, fmt.Errorf("parse index: %w", err)
	}
	return Index{e}, nil
}

// FindRootIndex scans the immediate markdown children of dir for a file
// that has a contents key and no part_of, meaning it is a workspace root
// rather than a sub-index. It returns the first match in listing order,
// or empty with no error when the directory has none. Zero or several
// candidates is a validator concern, not an error here.
func (w *Workspace) FindRootIndex(ctx context.Context, dir string) (string, error) {
	return w.findIndex(ctx, dir, true)
}

// FindIndex is FindRootIndex without the no-part_of requirement: it finds
// the first index of any kind in dir.
func (w *Workspace) FindIndex(ctx context.Context, dir string) (string, error) {
	return w.findIndex(ctx, dir, false)
}

func (w *Workspace) findIndex(ctx context.Context, dir string, wantRoot bool) (string, error) {
	files, err := w.fsys.ListMarkdown(ctx, dir)
	if err != nil {
		return "", err
	}
	for _, p := range files {
		e, err := w.LoadLoose(ctx, p)
		if err != nil {
			w.log.DebugContext(ctx, "skipping unparsable file", "path", p, "err", err)
			continue
		}
		if !e.IsIndex() {
			continue
		}
		if wantRoot {
			if _, hasParent := e.PartOf(); hasParent {
				continue
			}
		}
		return p, nil
	}
	return "", nil
}

// TreeNode is an ephemeral, derived view of one entry and its resolved
// children. Nodes are never persisted; any write to the underlying files
// implicitly invalidates them.
type TreeNode struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Path        string      `json:"path"`
	Children    []*TreeNode `json:"children,omitempty"`
}

// BuildTree recursively parses rootIndex and follows its contents
// references. Children are visited in contents order and never re-sorted.
// A reference that does not exist on the backing store is skipped, as is
// one whose canonical path is already in visited; revisiting silently
// stops recursion at that edge, which is what terminates cycles. visited
// is mutated in place so a single top-level call can see repeats across
// the whole recursion. At maxDepth zero the node itself is still produced
// but its children are omitted.
func (w *Workspace) BuildTree(ctx context.Context, rootIndex string, maxDepth int, visited map[string]bool) (*TreeNode, error) {
	idx, err := w.ParseIndex(ctx, rootIndex)
	if err != nil {
		return nil, err
	}
	visited[cleanPath(rootIndex)] = true
	node := &TreeNode{
		Name:        idx.Title(),
		Description: idx.Description(),
		Path:        cleanPath(rootIndex),
	}
	if maxDepth <= 0 {
		return node, nil
	}
	for _, ref := range idx.Contents() {
		childPath := cleanPath(idx.ResolvePath(ref))
		if visited[childPath] {
			continue
		}
		ok, err := w.fsys.Exists(ctx, childPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		child, err := w.buildChild(ctx, childPath, maxDepth-1, visited)
		if err != nil {
			return nil, err
		}
		if child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node, nil
}

// buildChild is BuildTree for non-root nodes: a child that cannot be
// parsed or that vanished mid-walk is skipped with a debug log instead of
// failing the whole tree.
func (w *Workspace) buildChild(ctx context.Context, p string, maxDepth int, visited map[string]bool) (*TreeNode, error) {
	e, err := w.LoadLoose(ctx, p)
	if err != nil {
		if !skippable(err) {
			return nil, err
		}
		w.log.DebugContext(ctx, "skipping unparsable file", "path", p, "err", err)
		return nil, nil
	}
	visited[p] = true
	node := &TreeNode{
		Name:        e.Title(),
		Description: e.Description(),
		Path:        p,
	}
	if maxDepth <= 0 {
		return node, nil
	}
	for _, ref := range e.Contents() {
		childPath := cleanPath(entry.Resolve(p, ref))
		if visited[childPath] {
			continue
		}
		ok, err := w.fsys.Exists(ctx, childPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		child, err := w.buildChild(ctx, childPath, maxDepth-1, visited)
		if err != nil {
			return nil, err
		}
		if child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node, nil
}

// Collect returns every file reachable from rootIndex in preorder,
// following contents references with the same visited semantics as
// BuildTree. Files that exist but fail to parse are included; recursion
// just does not descend into them.
func (w *Workspace) Collect(ctx context.Context, rootIndex string) ([]string, error) {
	visited := map[string]bool{}
	var out []string
	if err := w.collect(ctx, cleanPath(rootIndex), visited, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Workspace) collect(ctx context.Context, p string, visited map[string]bool, out *[]string) error {
	if visited[p] {
		return nil
	}
	visited[p] = true
	*out = append(*out, p)
	e, err := w.LoadLoose(ctx, p)
	if err != nil {
		if !skippable(err) {
			return err
		}
		w.log.DebugContext(ctx, "skipping unparsable file", "path", p, "err", err)
		return nil
	}
	for _, ref := range e.Contents() {
		childPath := cleanPath(entry.Resolve(p, ref))
		if visited[childPath] {
			continue
		}
		ok, err := w.fsys.Exists(ctx, childPath)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := w.collect(ctx, childPath, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// skippable reports whether a child load failure means "skip this child"
// rather than "abort the walk". Parse failures and files that vanished
// between the existence check and the read are both skippable; real I/O
// failures are not.
func skippable(err error) bool {
	return errors.Is(err, entry.ErrInvalidFrontmatter) ||
		errors.Is(err, entry.ErrNoFrontmatter) ||
		errors.Is(err, vfs.ErrNotFound)
}

// cleanPath canonicalizes a workspace path for use as a map key and as an
// entry identity.
func cleanPath(p string) string {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "." {
		return ""
	}
	return p
}
