package workspace

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/quirelabs/quire/internal/entry"
	"github.com/quirelabs/quire/internal/vfs"
)

// The compound mutations below all follow the same two-phase shape: the
// primary filesystem effect first, then the bookkeeping that keeps
// part_of and contents consistent on both sides. There are no cross-file
// transactions, so an interruption between the phases leaves a state the
// validator can detect and the fixer can repair. Bookkeeping failures are
// reported, but the primary effect is never rolled back.

// CreateChildEntry creates a new entry under parentIndex's directory and
// lists it in the parent's contents. name may include a subdirectory and
// gets a .md suffix when it has none. An existing file at the target path
// fails the whole operation; nothing is overwritten.
func (w *Workspace) CreateChildEntry(ctx context.Context, parentIndex, name, title string) (string, error) {
	parent, err := w.Load(ctx, cleanPath(parentIndex))
	if err != nil {
		return "", fmt.Errorf("load parent index: %w", err)
	}
	if !parent.IsIndex() {
		return "", fmt.Errorf("%s is not an index", parent.Path)
	}

	name = ensureMarkdown(name)
	childPath := cleanPath(path.Join(path.Dir(parent.Path), name))
	if title == "" {
		base := path.Base(childPath)
		title = strings.TrimSuffix(base, path.Ext(base))
	}

	child := entry.New(childPath)
	partOf := entry.Rel(path.Dir(childPath), parent.Path)
	child.Meta.SetString(entry.KeyTitle, title)
	child.Meta.SetString(entry.KeyPartOf, partOf)
	child.SetBody(w.tmpl(TemplateContext{
		Title:  title,
		Date:   w.now().Format("2006-01-02"),
		PartOf: partOf,
	}))

	if dir := path.Dir(childPath); dir != "." {
		if err := w.fsys.MkdirAll(ctx, dir); err != nil {
			return "", err
		}
	}
	if err := w.SaveNew(ctx, child); err != nil {
		return "", err
	}
	parent.AppendTo(entry.KeyContents, name)
	if err := w.Save(ctx, parent); err != nil {
		return childPath, fmt.Errorf("entry created but parent %s not updated: %w", parent.Path, err)
	}
	return childPath, nil
}

// DeleteEntry deletes the file and strips its mention from its parent's
// contents. The entry's own children, if it was an index, are left in
// place and become validator findings.
func (w *Workspace) DeleteEntry(ctx context.Context, p string) error {
	p = cleanPath(p)
	e, err := w.LoadLoose(ctx, p)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return err
		}
		// Unreadable or unparsable content still gets deleted; there is
		// just no metadata to do bookkeeping with.
		w.log.DebugContext(ctx, "deleting entry without metadata", "path", p, "err", err)
		e = nil
	}

	if err := w.fsys.DeleteFile(ctx, p); err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	if len(e.Contents()) > 0 {
		w.log.WarnContext(ctx, "deleted an index; its children are now unreachable", "path", p)
	}

	ref, ok := e.PartOf()
	if !ok {
		return nil
	}
	parentPath := cleanPath(entry.Resolve(p, ref))
	parent, err := w.Load(ctx, parentPath)
	if err != nil {
		w.log.WarnContext(ctx, "parent not updated after delete", "parent", parentPath, "err", err)
		return nil
	}
	if removeContentRefs(parent, p) {
		if err := w.Save(ctx, parent); err != nil {
			return fmt.Errorf("entry deleted but parent %s not updated: %w", parentPath, err)
		}
	}
	return nil
}

// RenameEntry renames the file within its directory and updates the
// parent's contents reference. When the renamed entry is itself an index,
// its children's part_of references follow the new name.
func (w *Workspace) RenameEntry(ctx context.Context, p, newName string) (string, error) {
	p = cleanPath(p)
	newName = ensureMarkdown(newName)
	if strings.Contains(newName, "/") {
		return "", fmt.Errorf("new name %q must not contain a slash", newName)
	}
	newPath := cleanPath(path.Join(path.Dir(p), newName))
	if newPath == p {
		return p, nil
	}

	e, err := w.LoadLoose(ctx, p)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return "", err
		}
		w.log.DebugContext(ctx, "renaming entry without metadata", "path", p, "err", err)
		e = nil
	}

	if err := w.fsys.Move(ctx, p, newPath); err != nil {
		return "", err
	}
	if e == nil {
		return newPath, nil
	}

	var bookkeeping error
	if e.IsIndex() {
		bookkeeping = w.rewireChildren(ctx, e, p, newPath)
	}
	if ref, ok := e.PartOf(); ok {
		parentPath := cleanPath(entry.Resolve(p, ref))
		if err := w.relistChild(ctx, parentPath, p, newPath); err != nil && bookkeeping == nil {
			bookkeeping = err
		}
	}
	if bookkeeping != nil {
		return newPath, fmt.Errorf("entry renamed but bookkeeping incomplete: %w", bookkeeping)
	}
	return newPath, nil
}

// MoveEntry moves the file into destDir, keeping its name. The old parent
// stops listing it; if destDir has an index the entry is listed there and
// its part_of is rewired, otherwise part_of is dropped and the entry
// becomes a root-less file the validator will flag.
func (w *Workspace) MoveEntry(ctx context.Context, p, destDir string) (string, error) {
	p = cleanPath(p)
	destDir = cleanPath(destDir)
	newPath := cleanPath(path.Join(destDir, path.Base(p)))
	if newPath == p {
		return p, nil
	}

	e, err := w.LoadLoose(ctx, p)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return "", err
		}
		w.log.DebugContext(ctx, "moving entry without metadata", "path", p, "err", err)
		e = nil
	}

	if destDir != "" {
		if err := w.fsys.MkdirAll(ctx, destDir); err != nil {
			return "", err
		}
	}
	if err := w.fsys.Move(ctx, p, newPath); err != nil {
		return "", err
	}
	if e == nil {
		return newPath, nil
	}
	if e.IsIndex() && len(e.Contents()) > 0 {
		w.log.WarnContext(ctx, "moved an index away from its children", "path", newPath)
	}

	var bookkeeping error

	// Old parent stops listing the entry.
	if ref, ok := e.PartOf(); ok {
		parentPath := cleanPath(entry.Resolve(p, ref))
		parent, err := w.Load(ctx, parentPath)
		if err != nil {
			w.log.WarnContext(ctx, "old parent not updated after move", "parent", parentPath, "err", err)
		} else if removeContentRefs(parent, p) {
			if err := w.Save(ctx, parent); err != nil {
				bookkeeping = err
			}
		}
	}

	// New parent, when the destination has one, picks the entry up.
	e.Path = newPath
	newIdx, err := w.findIndexIn(ctx, destDir, newPath)
	if err != nil {
		w.log.WarnContext(ctx, "destination index lookup failed", "dir", destDir, "err", err)
	}
	if newIdx != "" {
		parent, err := w.Load(ctx, newIdx)
		if err == nil {
			parent.AppendTo(entry.KeyContents, entry.Rel(path.Dir(newIdx), newPath))
			if err := w.Save(ctx, parent); err != nil && bookkeeping == nil {
				bookkeeping = err
			}
		}
		e.Meta.SetString(entry.KeyPartOf, entry.Rel(destDir, newIdx))
	} else {
		if e.Meta.Delete(entry.KeyPartOf) {
			w.log.WarnContext(ctx, "destination has no index; part_of dropped", "path", newPath)
		}
	}
	if err := w.Save(ctx, e); err != nil && bookkeeping == nil {
		bookkeeping = err
	}

	if bookkeeping != nil {
		return newPath, fmt.Errorf("entry moved but bookkeeping incomplete: %w", bookkeeping)
	}
	return newPath, nil
}

// AttachToParent moves the entry into parentIndex's directory (when it is
// not already there) and wires both sides: the parent lists it and the
// entry's part_of points back. An entry already in place is adopted
// without a filesystem move.
func (w *Workspace) AttachToParent(ctx context.Context, p, parentIndex string) (string, error) {
	p = cleanPath(p)
	parentIndex = cleanPath(parentIndex)
	if p == parentIndex {
		return "", fmt.Errorf("cannot attach %s to itself", p)
	}
	parent, err := w.Load(ctx, parentIndex)
	if err != nil {
		return "", fmt.Errorf("load parent index: %w", err)
	}
	if !parent.IsIndex() {
		return "", fmt.Errorf("%s is not an index", parent.Path)
	}

	destDir := path.Dir(parentIndex)
	if destDir == "." {
		destDir = ""
	}
	newPath := cleanPath(path.Join(destDir, path.Base(p)))

	e, err := w.LoadLoose(ctx, p)
	if err != nil {
		return "", err
	}

	if newPath != p {
		if err := w.fsys.Move(ctx, p, newPath); err != nil {
			return "", err
		}
	}

	var bookkeeping error

	// Unlist from the previous parent unless it is the one being attached
	// to.
	if ref, ok := e.PartOf(); ok {
		oldParent := cleanPath(entry.Resolve(p, ref))
		if oldParent != parentIndex {
			oldp, err := w.Load(ctx, oldParent)
			if err != nil {
				w.log.WarnContext(ctx, "old parent not updated after attach", "parent", oldParent, "err", err)
			} else if removeContentRefs(oldp, p) {
				if err := w.Save(ctx, oldp); err != nil {
					bookkeeping = err
				}
			}
		}
	}

	parent.AppendTo(entry.KeyContents, path.Base(newPath))
	if err := w.Save(ctx, parent); err != nil && bookkeeping == nil {
		bookkeeping = err
	}

	e.Path = newPath
	e.Meta.SetString(entry.KeyPartOf, entry.Rel(destDir, parentIndex))
	if err := w.Save(ctx, e); err != nil && bookkeeping == nil {
		bookkeeping = err
	}

	if bookkeeping != nil {
		return newPath, fmt.Errorf("entry attached but bookkeeping incomplete: %w", bookkeeping)
	}
	return newPath, nil
}

// ConvertToIndex gives the entry an empty contents list. Converting an
// entry that already is an index is a no-op.
func (w *Workspace) ConvertToIndex(ctx context.Context, p string) error {
	e, err := w.Load(ctx, cleanPath(p))
	if err != nil {
		return err
	}
	if e.IsIndex() {
		return nil
	}
	e.Meta.SetStrings(entry.KeyContents, nil)
	return w.Save(ctx, e)
}

// ConvertToLeaf removes the contents key from an index that no longer
// lists anything. An index that still has children is refused; the caller
// must move or delete them first.
func (w *Workspace) ConvertToLeaf(ctx context.Context, p string) error {
	e, err := w.Load(ctx, cleanPath(p))
	if err != nil {
		return err
	}
	if !e.IsIndex() {
		return nil
	}
	if n := len(e.Contents()); n > 0 {
		return fmt.Errorf("%s still lists %d children", e.Path, n)
	}
	e.Meta.Delete(entry.KeyContents)
	return w.Save(ctx, e)
}

// AttachBinary records binPath in the entry's attachments. The binary
// must exist.
func (w *Workspace) AttachBinary(ctx context.Context, p, binPath string) error {
	e, err := w.Load(ctx, cleanPath(p))
	if err != nil {
		return err
	}
	bin := cleanPath(binPath)
	ok, err := w.fsys.Exists(ctx, bin)
	if err != nil {
		return err
	}
	if !ok {
		return &vfs.OpError{Op: "attach", Path: bin, Err: vfs.ErrNotFound}
	}
	e.AppendTo(entry.KeyAttachments, entry.Rel(path.Dir(e.Path), bin))
	return w.Save(ctx, e)
}

// rewireChildren updates each existing child's part_of after its index
// moved from oldIndex to newIndex. Children that cannot be loaded or that
// point somewhere else already are left alone.
func (w *Workspace) rewireChildren(ctx context.Context, idx *entry.Entry, oldIndex, newIndex string) error {
	var firstErr error
	for _, ref := range idx.Contents() {
		childPath := cleanPath(entry.Resolve(newIndex, ref))
		child, err := w.Load(ctx, childPath)
		if err != nil {
			w.log.DebugContext(ctx, "child not rewired", "path", childPath, "err", err)
			continue
		}
		pref, ok := child.PartOf()
		if !ok || cleanPath(entry.Resolve(childPath, pref)) != oldIndex {
			continue
		}
		child.Meta.SetString(entry.KeyPartOf, entry.Rel(path.Dir(childPath), newIndex))
		if err := w.Save(ctx, child); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// relistChild replaces the parent's reference to oldPath with one to
// newPath.
func (w *Workspace) relistChild(ctx context.Context, parentPath, oldPath, newPath string) error {
	parent, err := w.Load(ctx, parentPath)
	if err != nil {
		w.log.WarnContext(ctx, "parent not updated after rename", "parent", parentPath, "err", err)
		return nil
	}
	if replaceContentRefs(parent, oldPath, newPath) {
		return w.Save(ctx, parent)
	}
	return nil
}

// removeContentRefs strips every contents reference that resolves to
// childPath, whatever form it was written in.
func removeContentRefs(parent *entry.Entry, childPath string) bool {
	removed := false
	for _, ref := range parent.Contents() {
		if cleanPath(entry.Resolve(parent.Path, ref)) == childPath {
			parent.RemoveFrom(entry.KeyContents, ref)
			removed = true
		}
	}
	return removed
}

// replaceContentRefs rewrites every contents reference resolving to
// oldPath into a reference to newPath.
func replaceContentRefs(parent *entry.Entry, oldPath, newPath string) bool {
	newRef := entry.Rel(path.Dir(parent.Path), newPath)
	replaced := false
	for _, ref := range parent.Contents() {
		if cleanPath(entry.Resolve(parent.Path, ref)) == cleanPath(oldPath) {
			parent.ReplaceIn(entry.KeyContents, ref, newRef)
			replaced = true
		}
	}
	return replaced
}

// ensureMarkdown appends the .md suffix when name has none.
func ensureMarkdown(name string) string {
	if vfs.IsMarkdown(name) {
		return name
	}
	return name + ".md"
}

// findIndexIn is FindIndex excluding one path, so a moved index never
// adopts itself.
func (w *Workspace) findIndexIn(ctx context.Context, dir, except string) (string, error) {
	files, err := w.fsys.ListMarkdown(ctx, dir)
	if err != nil {
		return "", err
	}
	for _, p := range files {
		if cleanPath(p) == except {
			continue
		}
		e, err := w.LoadLoose(ctx, p)
		if err != nil {
			continue
		}
		if e.IsIndex() {
			return p, nil
		}
	}
	return "", nil
}
