package workspace

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/quirelabs/quire/internal/entry"
)

// Adopt turns a plain directory of markdown into a workspace subtree: every
// directory holding markdown gains an index listing its files and adopted
// subdirectories, and every child gets a part_of pointing back. Existing
// structure is respected: a directory that already has an index keeps it,
// listed entries are not re-listed, and a child whose part_of is already set
// is left alone, so adopting twice changes nothing. Returns the subtree's
// index path.
func (w *Workspace) Adopt(ctx context.Context, dir, title string) (string, error) {
	dir = cleanPath(dir)
	idx, err := w.adoptDir(ctx, dir, title)
	if err != nil {
		return "", err
	}
	if idx == "" {
		if dir == "" {
			dir = "."
		}
		return "", fmt.Errorf("no markdown found under %s", dir)
	}
	return idx, nil
}

// adoptDir adopts one directory depth first and returns its index path, or
// "" when the subtree holds no markdown at all.
func (w *Workspace) adoptDir(ctx context.Context, dir, title string) (string, error) {
	md, err := w.fsys.ListMarkdown(ctx, dir)
	if err != nil {
		return "", err
	}
	children, err := w.fsys.List(ctx, dir)
	if err != nil {
		return "", err
	}

	var subIndexes []string
	for _, child := range children {
		isDir, err := w.fsys.IsDir(ctx, child)
		if err != nil {
			return "", err
		}
		if !isDir {
			continue
		}
		sub, err := w.adoptDir(ctx, child, "")
		if err != nil {
			return "", err
		}
		if sub != "" {
			subIndexes = append(subIndexes, sub)
		}
	}
	if len(md) == 0 && len(subIndexes) == 0 {
		return "", nil
	}

	idxPath, idx, dirty, err := w.adoptIndex(ctx, dir, title)
	if err != nil {
		return "", err
	}

	adopt := func(p string) error {
		if !listsPath(idx, p) {
			idx.AppendTo(entry.KeyContents, entry.Rel(dir, p))
			dirty = true
		}
		return w.adoptChild(ctx, p, idxPath)
	}
	for _, f := range md {
		if f = cleanPath(f); f != idxPath {
			if err := adopt(f); err != nil {
				return "", err
			}
		}
	}
	for _, sub := range subIndexes {
		if err := adopt(sub); err != nil {
			return "", err
		}
	}
	if !dirty {
		return idxPath, nil
	}
	if err := w.Save(ctx, idx); err != nil {
		return "", err
	}
	return idxPath, nil
}

// adoptIndex finds the directory's index, converts a plain index.md into
// one, or creates it. dirty reports whether the returned entry needs
// saving.
func (w *Workspace) adoptIndex(ctx context.Context, dir, title string) (string, *entry.Entry, bool, error) {
	if existing, err := w.findIndexIn(ctx, dir, ""); err != nil {
		return "", nil, false, err
	} else if existing != "" {
		idx, err := w.Load(ctx, existing)
		if err != nil {
			return "", nil, false, err
		}
		return cleanPath(existing), idx, false, nil
	}

	if title == "" {
		if dir == "" {
			title = "Index"
		} else {
			title = path.Base(dir)
		}
	}
	idxPath := cleanPath(path.Join(dir, "index.md"))

	ok, err := w.fsys.Exists(ctx, idxPath)
	if err != nil {
		return "", nil, false, err
	}
	if ok {
		// A plain index.md becomes the index.
		idx, err := w.LoadLoose(ctx, idxPath)
		if err != nil {
			return "", nil, false, err
		}
		if _, has := idx.Meta.GetString(entry.KeyTitle); !has {
			idx.Meta.SetString(entry.KeyTitle, title)
		}
		idx.Meta.SetStrings(entry.KeyContents, nil)
		return idxPath, idx, true, nil
	}

	idx := entry.New(idxPath)
	idx.Meta.SetString(entry.KeyTitle, title)
	idx.Meta.SetStrings(entry.KeyContents, nil)
	idx.SetBody(w.tmpl(TemplateContext{Title: title, Date: w.now().Format("2006-01-02")}))
	return idxPath, idx, true, nil
}

// adoptChild gives a child a title and a part_of when it has none. Files
// whose metadata cannot be read are listed anyway but not rewritten.
func (w *Workspace) adoptChild(ctx context.Context, p, idxPath string) error {
	e, err := w.LoadLoose(ctx, p)
	if err != nil {
		w.log.DebugContext(ctx, "adopting file without rewriting it", "path", p, "err", err)
		return nil
	}
	dirty := false
	if _, ok := e.Meta.GetString(entry.KeyTitle); !ok {
		base := path.Base(p)
		e.Meta.SetString(entry.KeyTitle, strings.TrimSuffix(base, path.Ext(base)))
		dirty = true
	}
	if _, ok := e.PartOf(); !ok {
		e.Meta.SetString(entry.KeyPartOf, entry.Rel(path.Dir(p), idxPath))
		dirty = true
	}
	if !dirty {
		return nil
	}
	return w.Save(ctx, e)
}

// listsPath reports whether idx already has a contents reference resolving
// to childPath, in whatever form it was written.
func listsPath(idx *entry.Entry, childPath string) bool {
	for _, ref := range idx.Contents() {
		if cleanPath(entry.Resolve(idx.Path, ref)) == childPath {
			return true
		}
	}
	return false
}
