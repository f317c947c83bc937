package entry

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Recognized structural frontmatter keys. Anything else is carried
// through untouched.
const (
	KeyTitle       = "title"
	KeyPartOf      = "part_of"
	KeyContents    = "contents"
	KeyAttachments = "attachments"
	KeyAudience    = "audience"
	KeyCreated     = "created"
	KeyUpdated     = "updated"
	KeyDescription = "description"
)

// canonicalOrder is the key order produced by an explicit Sort. Structural
// keys come first, everything else follows alphabetically.
var canonicalOrder = []string{
	KeyTitle, KeyDescription, KeyPartOf, KeyContents,
	KeyAttachments, KeyAudience, KeyCreated, KeyUpdated,
}

var (
	// ErrNoFrontmatter indicates the document has no opening fence.
	ErrNoFrontmatter = errors.New("no frontmatter block")
	// ErrInvalidFrontmatter indicates the block exists but cannot be
	// parsed as a YAML mapping.
	ErrInvalidFrontmatter = errors.New("invalid frontmatter")
)

// Frontmatter is an ordered key to YAML value mapping. Insertion order is
// preserved across a parse and re-encode cycle; reordering only ever
// happens through an explicit Sort call.
type Frontmatter struct {
	m *orderedmap.OrderedMap[string, *yaml.Node]
}

// NewFrontmatter returns an empty mapping.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{m: orderedmap.New[string, *yaml.Node]()}
}

// parseFrontmatter decodes the raw YAML between the fences. The top level
// must be a mapping with scalar keys; a duplicate key keeps its first
// position with the last value.
func parseFrontmatter(src string) (*Frontmatter, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFrontmatter, err)
	}
	fm := NewFrontmatter()
	if len(doc.Content) == 0 {
		return fm, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", ErrInvalidFrontmatter)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k := root.Content[i]
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: non-scalar key at line %d", ErrInvalidFrontmatter, k.Line)
		}
		fm.m.Set(k.Value, root.Content[i+1])
	}
	return fm, nil
}

// marshal renders the mapping back to YAML with two-space indent. An empty
// mapping renders as nothing at all rather than as {}.
func (f *Frontmatter) marshal() ([]byte, error) {
	if f.Len() == 0 {
		return nil, nil
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for p := f.m.Oldest(); p != nil; p = p.Next() {
		root.Content = append(root.Content, scalarNode(p.Key), p.Value)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Len returns the number of keys.
func (f *Frontmatter) Len() int { return f.m.Len() }

// Keys returns the keys in their current order.
func (f *Frontmatter) Keys() []string {
	keys := make([]string, 0, f.m.Len())
	for p := f.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Get returns the raw YAML node for key.
func (f *Frontmatter) Get(key string) (*yaml.Node, bool) {
	return f.m.Get(key)
}

// GetString returns the scalar value of key as written.
func (f *Frontmatter) GetString(key string) (string, bool) {
	n, ok := f.m.Get(key)
	if !ok || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return "", false
	}
	return n.Value, true
}

// GetStrings returns key's value as a list of strings. A scalar value is
// promoted to a one-element list so that callers never have to care which
// of the two shapes an author wrote.
func (f *Frontmatter) GetStrings(key string) ([]string, bool) {
	n, ok := f.m.Get(key)
	if !ok {
		return nil, false
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return []string{}, true
		}
		return []string{n.Value}, true
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode {
				out = append(out, c.Value)
			}
		}
		return out, true
	}
	return nil, false
}

// Set stores a raw node under key. An existing key keeps its position.
func (f *Frontmatter) Set(key string, n *yaml.Node) {
	f.m.Set(key, n)
}

// SetString stores a plain scalar under key.
func (f *Frontmatter) SetString(key, value string) {
	f.m.Set(key, scalarNode(value))
}

// SetStrings stores a block sequence of plain scalars under key.
func (f *Frontmatter) SetStrings(key string, values []string) {
	f.m.Set(key, sequenceNode(values))
}

// Delete removes key, reporting whether it was present.
func (f *Frontmatter) Delete(key string) bool {
	_, present := f.m.Delete(key)
	return present
}

// Rename moves the value of oldKey to newKey, keeping the old key's
// position in the mapping. Renaming onto an existing key replaces that
// key's value and moves it into the renamed slot.
func (f *Frontmatter) Rename(oldKey, newKey string) bool {
	v, ok := f.m.Get(oldKey)
	if !ok {
		return false
	}
	if oldKey == newKey {
		return true
	}
	f.m.Set(newKey, v)
	_ = f.m.MoveBefore(newKey, oldKey)
	f.m.Delete(oldKey)
	return true
}

// Sort reorders keys into canonical order: structural keys first, then
// the remainder alphabetically. Values are untouched.
func (f *Frontmatter) Sort() {
	type pair struct {
		key string
		val *yaml.Node
	}
	pairs := make([]pair, 0, f.m.Len())
	for p := f.m.Oldest(); p != nil; p = p.Next() {
		pairs = append(pairs, pair{p.Key, p.Value})
	}
	rank := func(k string) int {
		if i := slices.Index(canonicalOrder, k); i >= 0 {
			return i
		}
		return len(canonicalOrder)
	}
	slices.SortStableFunc(pairs, func(a, b pair) int {
		if c := cmp.Compare(rank(a.key), rank(b.key)); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	f.m = orderedmap.New[string, *yaml.Node]()
	for _, p := range pairs {
		f.m.Set(p.key, p.val)
	}
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func sequenceNode(values []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		n.Content = append(n.Content, scalarNode(v))
	}
	return n
}
