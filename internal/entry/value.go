package entry

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScalarValue converts a YAML node into the matching Go value: bool, int64,
// float64, time.Time or string, following the node's resolved tag. A
// non-scalar node renders to its compact YAML text.
func ScalarValue(n *yaml.Node) any {
	if n == nil {
		return nil
	}
	if n.Kind != yaml.ScalarNode {
		lines := renderLines(n)
		return strings.Join(lines, "\n")
	}
	switch n.Tag {
	case "!!null":
		return nil
	case "!!bool":
		if b, err := strconv.ParseBool(n.Value); err == nil {
			return b
		}
	case "!!int":
		if i, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
			return i
		}
	case "!!float":
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return f
		}
	case "!!timestamp":
		if t, err := time.Parse(time.RFC3339, n.Value); err == nil {
			return t
		}
	}
	return n.Value
}

// ValueLines flattens a YAML node into searchable text lines: one line per
// scalar, one line per list element, and rendered YAML for anything deeper.
func ValueLines(n *yaml.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return nil
		}
		return []string{n.Value}
	case yaml.SequenceNode:
		var out []string
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode {
				out = append(out, c.Value)
				continue
			}
			out = append(out, renderLines(c)...)
		}
		return out
	default:
		return renderLines(n)
	}
}

func renderLines(n *yaml.Node) []string {
	b, err := yaml.Marshal(n)
	if err != nil {
		return nil
	}
	s := strings.TrimRight(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
