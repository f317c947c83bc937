// Package validate checks the backward/forward consistency of a
// workspace: every part_of resolves to a parent that lists the entry
// back, every contents and attachments reference resolves to a real
// file, paths are portable, and everything on disk is reachable from the
// root index. Findings are values, never Go errors; a broken workspace
// is a legitimate validation outcome, not a failure of the validator.
package validate

import (
	"context"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/quirelabs/quire/internal/entry"
	"github.com/quirelabs/quire/internal/vfs"
	"github.com/quirelabs/quire/internal/workspace"
)

// configName is workspace plumbing, not content; the binary-orphan scan
// ignores it.
const configName = "quire.yml"

// Validator runs consistency checks over a workspace.
type Validator struct {
	ws  *workspace.Workspace
	log *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger for skipped-file debug output.
func WithLogger(log *slog.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// New returns a validator over ws.
func New(ws *workspace.Workspace, opts ...Option) *Validator {
	v := &Validator{ws: ws, log: slog.Default()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Workspace validates the whole workspace: a tree walk from rootIndex for
// reference checks and cycle detection, then a full disk scan for the
// structural findings the walk cannot see (unlisted, orphaned and
// unlinked files, duplicate indexes, orphan binaries). rootIndex is the
// designated root and is exempt from the missing part_of check.
func (v *Validator) Workspace(ctx context.Context, rootIndex string) (*Result, error) {
	root := cleanPath(rootIndex)
	if _, err := v.ws.ParseIndex(ctx, root); err != nil {
		return nil, err
	}

	w := &walk{
		v:         v,
		res:       newResult(),
		root:      root,
		visited:   map[string]bool{},
		inStack:   map[string]bool{},
		entries:   map[string]*entry.Entry{},
		reachable: map[string]bool{},
		cycles:    map[string]bool{},
	}
	if err := w.visit(ctx, root); err != nil {
		return nil, err
	}
	if err := w.scan(ctx); err != nil {
		return nil, err
	}
	w.res.FilesChecked = w.checked
	return w.res, nil
}

// File runs the per-file checks on a single path with no recursive
// descent, for fast re-validation after an edit. An index without
// part_of is assumed to be a root, since no designated root is in scope
// here.
func (v *Validator) File(ctx context.Context, p string) (*Result, error) {
	p = cleanPath(p)
	res := newResult()
	e, err := v.ws.LoadLoose(ctx, p)
	if err != nil {
		return nil, err
	}
	v.checkEntry(ctx, e, res)
	if !e.IsIndex() {
		if _, ok := e.PartOf(); !ok {
			suggested, err := v.ws.FindIndex(ctx, dirOf(p))
			if err != nil {
				return nil, err
			}
			res.add(Diagnostic{Code: MissingPartOf, Path: p, Suggested: suggested})
		}
	}
	res.FilesChecked = 1
	return res, nil
}

// checkEntry runs the reference checks for one entry: portability and
// existence of part_of, contents and attachments, plus the back-link
// check that the parent actually lists this entry. It returns the
// resolved, existing markdown children for the caller to recurse into.
func (v *Validator) checkEntry(ctx context.Context, e *entry.Entry, res *Result) []string {
	if ref, ok := e.PartOf(); ok {
		v.checkRef(e.Path, entry.KeyPartOf, ref, res)
		target := cleanPath(entry.Resolve(e.Path, ref))
		if v.exists(ctx, target) {
			v.checkBackLink(ctx, e.Path, target, res)
		} else {
			res.add(Diagnostic{Code: BrokenPartOf, Path: e.Path, Key: entry.KeyPartOf, Ref: ref})
		}
	}

	var children []string
	for _, ref := range e.Contents() {
		v.checkRef(e.Path, entry.KeyContents, ref, res)
		target := cleanPath(entry.Resolve(e.Path, ref))
		if !v.exists(ctx, target) {
			res.add(Diagnostic{Code: BrokenContentsRef, Path: e.Path, Key: entry.KeyContents, Ref: ref})
			continue
		}
		if vfs.IsMarkdown(target) {
			children = append(children, target)
		}
	}

	for _, ref := range e.Attachments() {
		v.checkRef(e.Path, entry.KeyAttachments, ref, res)
		target := cleanPath(entry.Resolve(e.Path, ref))
		if !v.exists(ctx, target) {
			res.add(Diagnostic{Code: BrokenAttachment, Path: e.Path, Key: entry.KeyAttachments, Ref: ref})
		}
	}
	return children
}

// checkRef flags a reference that is not portable as written. A
// reference that resolves outside the workspace root is non-portable
// even when its written form is clean.
func (v *Validator) checkRef(p, key, ref string, res *Result) {
	if suggested, ok := entry.CheckPortable(ref); !ok {
		res.add(Diagnostic{Code: NonPortablePath, Path: p, Key: key, Ref: ref, Suggested: suggested})
		return
	}
	resolved := entry.Resolve(p, ref)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		res.add(Diagnostic{
			Code: NonPortablePath, Path: p, Key: key, Ref: ref,
			Detail: "escapes the workspace root",
		})
	}
}

// checkBackLink verifies the parent lists the entry in its contents. A
// parent that is not an index, or that cannot be parsed, is left to its
// own diagnostics.
func (v *Validator) checkBackLink(ctx context.Context, p, parentPath string, res *Result) {
	parent, err := v.ws.LoadLoose(ctx, parentPath)
	if err != nil {
		v.log.DebugContext(ctx, "parent unparsable during back-link check", "path", parentPath, "err", err)
		return
	}
	if !parent.IsIndex() {
		return
	}
	for _, ref := range parent.Contents() {
		if cleanPath(entry.Resolve(parentPath, ref)) == p {
			return
		}
	}
	res.add(Diagnostic{Code: UnlistedFile, Path: p, Suggested: parentPath})
}

func (v *Validator) exists(ctx context.Context, p string) bool {
	ok, err := v.ws.FS().Exists(ctx, p)
	if err != nil {
		v.log.DebugContext(ctx, "existence check failed", "path", p, "err", err)
		return false
	}
	return ok
}

// walk carries the traversal state for one Workspace pass. visited holds
// every path ever entered; inStack and stack track the current recursion
// spine so a revisit of an in-flight path is recognized as a cycle.
type walk struct {
	v         *Validator
	res       *Result
	root      string
	visited   map[string]bool
	inStack   map[string]bool
	stack     []string
	entries   map[string]*entry.Entry
	reachable map[string]bool
	cycles    map[string]bool
	checked   int
}

// load parses p once, caching the outcome. A file that cannot be read or
// parsed caches as nil and still counts as checked.
func (w *walk) load(ctx context.Context, p string) *entry.Entry {
	if e, ok := w.entries[p]; ok {
		return e
	}
	e, err := w.v.ws.LoadLoose(ctx, p)
	if err != nil {
		w.v.log.DebugContext(ctx, "skipping unparsable file", "path", p, "err", err)
		e = nil
	}
	w.entries[p] = e
	w.checked++
	return e
}

func (w *walk) visit(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.inStack[p] {
		w.recordCycle(p)
		return nil
	}
	if w.visited[p] {
		return nil
	}
	w.visited[p] = true
	w.reachable[p] = true
	w.inStack[p] = true
	w.stack = append(w.stack, p)
	defer func() {
		delete(w.inStack, p)
		w.stack = w.stack[:len(w.stack)-1]
	}()

	e := w.load(ctx, p)
	if e == nil {
		return nil
	}
	for _, child := range w.v.checkEntry(ctx, e, w.res) {
		if err := w.visit(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// recordCycle reports the cycle closing at p once, no matter how many
// edges re-enter it.
func (w *walk) recordCycle(p string) {
	i := slices.Index(w.stack, p)
	if i < 0 {
		return
	}
	cycle := append(slices.Clone(w.stack[i:]), p)
	members := slices.Clone(cycle[:len(cycle)-1])
	slices.Sort(members)
	key := strings.Join(members, "\x00")
	if w.cycles[key] {
		return
	}
	w.cycles[key] = true
	w.res.add(Diagnostic{Code: CircularReference, Path: p, Cycle: cycle})
}

// scan walks the disk underneath the tree walk: anything physically
// present that the walk never reached, directories with competing
// indexes, files an index fails to list, and binaries nothing attaches.
func (w *walk) scan(ctx context.Context) error {
	fsys := w.v.ws.FS()
	mdFiles, err := vfs.ListMarkdownRecursive(ctx, fsys, "")
	if err != nil {
		return err
	}
	allFiles, err := vfs.ListAllRecursive(ctx, fsys, "")
	if err != nil {
		return err
	}
	for i, p := range mdFiles {
		mdFiles[i] = cleanPath(p)
	}

	// Parse everything on disk once; the walk cache carries the
	// reachable part.
	byDir := map[string][]string{}
	indexes := map[string][]string{}
	listed := map[string]bool{}
	attached := map[string]bool{}
	for _, p := range mdFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := w.load(ctx, p)
		dir := dirOf(p)
		byDir[dir] = append(byDir[dir], p)
		if e == nil {
			continue
		}
		if e.IsIndex() {
			indexes[dir] = append(indexes[dir], p)
		}
		for _, ref := range e.Contents() {
			listed[cleanPath(entry.Resolve(p, ref))] = true
		}
		for _, ref := range e.Attachments() {
			attached[cleanPath(entry.Resolve(p, ref))] = true
		}
	}

	// Two or more indexes competing for one directory.
	for _, dir := range sortedKeys(indexes) {
		idxs := indexes[dir]
		if len(idxs) < 2 {
			continue
		}
		w.res.add(Diagnostic{
			Code:   MultipleIndexes,
			Path:   displayDir(dir),
			Detail: strings.Join(idxs, ", "),
		})
	}

	// Files an index in their own directory fails to list. A file flagged
	// here is exempt from the orphan check below; fixing the listing also
	// reconnects it.
	unlisted := map[string]bool{}
	for _, dir := range sortedKeys(indexes) {
		idxs := indexes[dir]
		inDirListed := map[string]bool{}
		for _, idx := range idxs {
			if e := w.entries[idx]; e != nil {
				for _, ref := range e.Contents() {
					inDirListed[cleanPath(entry.Resolve(idx, ref))] = true
				}
			}
		}
		for _, f := range byDir[dir] {
			if slices.Contains(idxs, f) || inDirListed[f] {
				continue
			}
			unlisted[f] = true
			w.res.add(Diagnostic{Code: UnlistedFile, Path: f, Suggested: idxs[0]})
		}
	}

	// Wholly disconnected directories, reported once at their top.
	unlinkedDirs := w.findUnlinkedDirs(mdFiles)
	for _, d := range unlinkedDirs {
		w.res.add(Diagnostic{Code: UnlinkedEntry, Path: d})
	}

	// Orphans: on disk, unreachable, and listed by nothing at all.
	for _, f := range mdFiles {
		if f == w.root || w.reachable[f] || listed[f] || unlisted[f] {
			continue
		}
		if underAny(f, unlinkedDirs) {
			continue
		}
		w.res.add(Diagnostic{Code: OrphanFile, Path: f})
	}

	// Non-index files with no part_of at all.
	for _, f := range mdFiles {
		e := w.entries[f]
		if e == nil || f == w.root || e.IsIndex() {
			continue
		}
		if _, ok := e.PartOf(); ok {
			continue
		}
		w.res.add(Diagnostic{
			Code:      MissingPartOf,
			Path:      f,
			Suggested: nearestIndex(indexes, dirOf(f)),
		})
	}

	// Binaries nothing attaches.
	for _, f := range allFiles {
		f = cleanPath(f)
		if vfs.IsMarkdown(f) || f == configName {
			continue
		}
		if attached[f] {
			continue
		}
		w.res.add(Diagnostic{
			Code:      OrphanBinaryFile,
			Path:      f,
			Suggested: nearestIndex(indexes, dirOf(f)),
		})
	}
	return nil
}

// findUnlinkedDirs returns the topmost directories in which every
// markdown file is unreachable from the root. Reporting the directory
// once beats repeating an orphan warning for each file inside.
func (w *walk) findUnlinkedDirs(mdFiles []string) []string {
	dirs := map[string]bool{}
	for _, f := range mdFiles {
		for d := dirOf(f); d != ""; d = parentDir(d) {
			dirs[d] = true
		}
	}
	isUnlinked := func(d string) bool {
		any := false
		for _, f := range mdFiles {
			if strings.HasPrefix(f, d+"/") {
				any = true
				if w.reachable[f] {
					return false
				}
			}
		}
		return any
	}
	var out []string
	for _, d := range sortedKeys(dirs) {
		if !isUnlinked(d) {
			continue
		}
		topmost := true
		for a := parentDir(d); a != ""; a = parentDir(a) {
			if dirs[a] && isUnlinked(a) {
				topmost = false
				break
			}
		}
		if topmost {
			out = append(out, d)
		}
	}
	return out
}

func underAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

// nearestIndex suggests the closest containing index, walking from dir
// toward the root.
func nearestIndex(indexes map[string][]string, dir string) string {
	for d := dir; ; d = parentDir(d) {
		if list := indexes[d]; len(list) > 0 {
			return list[0]
		}
		if d == "" {
			return ""
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func cleanPath(p string) string {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "." {
		return ""
	}
	return p
}

func dirOf(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

func parentDir(d string) string {
	if i := strings.LastIndex(d, "/"); i >= 0 {
		return d[:i]
	}
	return ""
}

func displayDir(d string) string {
	if d == "" {
		return "."
	}
	return d
}
