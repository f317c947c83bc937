// Package entry models a single markdown document: an ordered YAML
// frontmatter block followed by a body. Parsing and re-encoding round-trip
// the frontmatter key order and leave the body byte for byte intact, so a
// save that only touches one property never rewrites anything else.
package entry

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one markdown document. Its identity is its workspace-relative
// path; there is no synthetic ID.
type Entry struct {
	Path string
	Meta *Frontmatter

	body string
}

// New returns an empty entry at p.
func New(p string) *Entry {
	return &Entry{Path: p, Meta: NewFrontmatter()}
}

// Parse decodes a document that must carry a frontmatter block. A missing
// opening fence is ErrNoFrontmatter; an unterminated block or a block that
// is not a YAML mapping is ErrInvalidFrontmatter.
func Parse(p, content string) (*Entry, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, fmt.Errorf("%s: %w", p, ErrNoFrontmatter)
	}
	raw, body, ok := cutFences(content)
	if !ok {
		return nil, fmt.Errorf("%s: %w: unterminated block", p, ErrInvalidFrontmatter)
	}
	meta, err := parseFrontmatter(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return &Entry{Path: p, Meta: meta, body: body}, nil
}

// ParseLoose is Parse except that a document with no frontmatter at all is
// accepted as an entry with empty metadata and the whole content as body.
// A present but malformed block still fails.
func ParseLoose(p, content string) (*Entry, error) {
	e, err := Parse(p, content)
	if err == nil {
		return e, nil
	}
	if errors.Is(err, ErrNoFrontmatter) {
		return &Entry{Path: p, Meta: NewFrontmatter(), body: content}, nil
	}
	return nil, err
}

// SplitFrontmatter separates a document into its raw frontmatter text and
// its body without parsing the YAML. found is false when there is no
// well-formed fenced block, in which case the whole content is the body.
func SplitFrontmatter(content string) (frontmatter, body string, found bool) {
	if !strings.HasPrefix(content, "---\n") {
		return "", content, false
	}
	raw, rest, ok := cutFences(content)
	if !ok {
		return "", content, false
	}
	return raw, rest, true
}

// cutFences extracts the YAML between the opening fence and the first line
// consisting of exactly three dashes. One blank line after the closing
// fence is treated as a separator and stripped; further blank lines belong
// to the body.
func cutFences(content string) (yamlSrc, body string, ok bool) {
	search := 3
	for {
		i := strings.Index(content[search:], "\n---")
		if i < 0 {
			return "", "", false
		}
		at := search + i
		end := at + 4
		if end >= len(content) {
			return content[4 : at+1], "", true
		}
		if content[end] == '\n' {
			body = content[end+1:]
			body = strings.TrimPrefix(body, "\n")
			return content[4 : at+1], body, true
		}
		search = at + 1
	}
}

// Encode renders the entry back to its on-disk form.
func (e *Entry) Encode() (string, error) {
	y, err := e.Meta.marshal()
	if err != nil {
		return "", fmt.Errorf("%s: encode frontmatter: %w", e.Path, err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(y)
	b.WriteString("---\n")
	if e.body != "" {
		b.WriteString("\n")
		b.WriteString(e.body)
	}
	return b.String(), nil
}

// Name returns the file name without its extension.
func (e *Entry) Name() string {
	base := path.Base(e.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Title returns the title property, falling back to the file name stem.
func (e *Entry) Title() string {
	if t, ok := e.Meta.GetString(KeyTitle); ok && t != "" {
		return t
	}
	return e.Name()
}

// Description returns the description property, if any.
func (e *Entry) Description() string {
	d, _ := e.Meta.GetString(KeyDescription)
	return d
}

// IsIndex reports whether the entry carries a contents key. Having the
// key at all is what makes an entry an index, even when the list is empty.
func (e *Entry) IsIndex() bool {
	_, ok := e.Meta.Get(KeyContents)
	return ok
}

// PartOf returns the parent index reference.
func (e *Entry) PartOf() (string, bool) {
	return e.Meta.GetString(KeyPartOf)
}

// Contents returns the child references in order, nil for a non-index.
func (e *Entry) Contents() []string {
	v, _ := e.Meta.GetStrings(KeyContents)
	return v
}

// Attachments returns the binary references in order.
func (e *Entry) Attachments() []string {
	v, _ := e.Meta.GetStrings(KeyAttachments)
	return v
}

// Audience returns the audience tags. ok distinguishes an absent key from
// an empty list, which matters for export inheritance.
func (e *Entry) Audience() ([]string, bool) {
	return e.Meta.GetStrings(KeyAudience)
}

// Created returns the created timestamp if present and well formed.
func (e *Entry) Created() (time.Time, bool) { return e.timeKey(KeyCreated) }

// Updated returns the updated timestamp if present and well formed.
func (e *Entry) Updated() (time.Time, bool) { return e.timeKey(KeyUpdated) }

func (e *Entry) timeKey(key string) (time.Time, bool) {
	s, ok := e.Meta.GetString(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Touch stamps updated with now, setting created as well if it was never
// set. Called on every content-mutating save.
func (e *Entry) Touch(now time.Time) {
	stamp := now.Format(time.RFC3339)
	if _, ok := e.Meta.Get(KeyCreated); !ok {
		e.Meta.SetString(KeyCreated, stamp)
	}
	e.Meta.SetString(KeyUpdated, stamp)
}

// AppendTo appends ref to the list under key, creating the list if needed
// and promoting a scalar value to a list. A ref already present is left
// alone.
func (e *Entry) AppendTo(key, ref string) {
	n, ok := e.Meta.Get(key)
	if !ok {
		e.Meta.SetStrings(key, []string{ref})
		return
	}
	if n.Kind != yaml.SequenceNode {
		existing, _ := e.Meta.GetStrings(key)
		if slices.Contains(existing, ref) {
			return
		}
		e.Meta.SetStrings(key, append(existing, ref))
		return
	}
	for _, c := range n.Content {
		if c.Kind == yaml.ScalarNode && c.Value == ref {
			return
		}
	}
	n.Content = append(n.Content, scalarNode(ref))
}

// RemoveFrom removes every occurrence of ref from the list under key. The
// key stays, possibly as an empty list, since an index with nothing left
// in contents is still an index.
func (e *Entry) RemoveFrom(key, ref string) bool {
	n, ok := e.Meta.Get(key)
	if !ok {
		return false
	}
	if n.Kind == yaml.ScalarNode {
		if n.Value != ref {
			return false
		}
		e.Meta.SetStrings(key, nil)
		return true
	}
	if n.Kind != yaml.SequenceNode {
		return false
	}
	kept := n.Content[:0]
	removed := false
	for _, c := range n.Content {
		if c.Kind == yaml.ScalarNode && c.Value == ref {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	n.Content = kept
	return removed
}

// ReplaceIn rewrites every occurrence of old in the list or scalar under
// key with new, keeping the node in place.
func (e *Entry) ReplaceIn(key, old, new string) bool {
	n, ok := e.Meta.Get(key)
	if !ok {
		return false
	}
	replaced := false
	if n.Kind == yaml.ScalarNode && n.Value == old {
		n.Value = new
		return true
	}
	if n.Kind == yaml.SequenceNode {
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode && c.Value == old {
				c.Value = new
				replaced = true
			}
		}
	}
	return replaced
}

// Body returns the document body.
func (e *Entry) Body() string { return e.body }

// SetBody replaces the body.
func (e *Entry) SetBody(s string) { e.body = s }

// AppendBody appends s, inserting a newline when the current body does not
// already end with one.
func (e *Entry) AppendBody(s string) {
	if e.body != "" && !strings.HasSuffix(e.body, "\n") {
		e.body += "\n"
	}
	e.body += s
}

// PrependBody inserts s before the current body, adding a separating
// newline when s does not already end with one.
func (e *Entry) PrependBody(s string) {
	if e.body != "" && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	e.body = s + e.body
}

// ClearBody empties the body.
func (e *Entry) ClearBody() { e.body = "" }
