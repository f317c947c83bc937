// Package search finds pattern occurrences in the files reachable from a
// root index. Matching is plain substring, case-insensitive unless asked
// otherwise, and line numbers are relative to the searched region: the
// body's first line is line 1 in body scope, the first line inside the
// frontmatter fences is line 1 in frontmatter scope.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/quirelabs/quire/internal/entry"
	"github.com/quirelabs/quire/internal/workspace"
)

// Scope selects which region of a file a query runs against.
type Scope string

const (
	// ScopeBody searches the markdown body below the frontmatter.
	ScopeBody Scope = "body"
	// ScopeFrontmatter searches the raw frontmatter block.
	ScopeFrontmatter Scope = "frontmatter"
	// ScopeProperty searches the rendered value of one frontmatter key.
	ScopeProperty Scope = "property"
)

// Query describes one search. An empty Scope means ScopeBody; Property is
// consulted only for ScopeProperty.
type Query struct {
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	Scope         Scope  `json:"scope,omitempty"`
	Property      string `json:"property,omitempty"`
}

func (q Query) validate() error {
	switch q.Scope {
	case "", ScopeBody, ScopeFrontmatter:
	case ScopeProperty:
		if q.Property == "" {
			return fmt.Errorf("property scope needs a property name")
		}
	default:
		return fmt.Errorf("unknown search scope %q", q.Scope)
	}
	return nil
}

// Match is one occurrence. Line is 1-based within the searched region;
// Start and End are 0-based byte columns on that line. Text carries the
// whole line for display.
type Match struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// FileMatches groups the matches of one file.
type FileMatches struct {
	Path    string  `json:"path"`
	Matches []Match `json:"matches"`
}

// Result aggregates a workspace-wide search. FilesSearched counts every
// reachable file, Files holds only those with at least one match.
type Result struct {
	FilesSearched int           `json:"files_searched"`
	TotalMatches  int           `json:"total_matches"`
	Files         []FileMatches `json:"files"`
}

// Searcher runs queries against a workspace. Scope is the reachable tree,
// not the raw directory: orphaned files never appear in results.
type Searcher struct {
	ws *workspace.Workspace
}

// New returns a searcher over ws.
func New(ws *workspace.Workspace) *Searcher {
	return &Searcher{ws: ws}
}

// Workspace searches every file reachable from rootIndex. An empty
// pattern matches nothing and is not an error.
func (s *Searcher) Workspace(ctx context.Context, rootIndex string, q Query) (*Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	paths, err := s.ws.Collect(ctx, rootIndex)
	if err != nil {
		return nil, err
	}
	res := &Result{FilesSearched: len(paths)}
	if q.Pattern == "" {
		return res, nil
	}
	for _, p := range paths {
		matches, err := s.File(ctx, p, q)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			continue
		}
		res.Files = append(res.Files, FileMatches{Path: p, Matches: matches})
		res.TotalMatches += len(matches)
	}
	return res, nil
}

// File searches a single file and returns its matches in line order.
func (s *Searcher) File(ctx context.Context, p string, q Query) ([]Match, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.Pattern == "" {
		return nil, nil
	}
	content, err := s.ws.FS().ReadFile(ctx, p)
	if err != nil {
		return nil, err
	}

	var lines []string
	switch q.Scope {
	case "", ScopeBody:
		_, body, _ := entry.SplitFrontmatter(content)
		lines = splitLines(body)
	case ScopeFrontmatter:
		fm, _, found := entry.SplitFrontmatter(content)
		if !found {
			return nil, nil
		}
		lines = splitLines(fm)
	case ScopeProperty:
		e, err := entry.ParseLoose(p, content)
		if err != nil {
			return nil, err
		}
		n, ok := e.Meta.Get(q.Property)
		if !ok {
			return nil, nil
		}
		lines = entry.ValueLines(n)
	}
	return scan(lines, q), nil
}

// scan finds every non-overlapping occurrence, line by line.
func scan(lines []string, q Query) []Match {
	needle := q.Pattern
	if !q.CaseSensitive {
		needle = strings.ToLower(needle)
	}
	var out []Match
	for i, line := range lines {
		hay := line
		if !q.CaseSensitive {
			hay = strings.ToLower(hay)
		}
		for from := 0; ; {
			j := strings.Index(hay[from:], needle)
			if j < 0 {
				break
			}
			start := from + j
			end := start + len(needle)
			out = append(out, Match{Line: i + 1, Text: line, Start: start, End: end})
			from = end
		}
	}
	return out
}

// splitLines splits on newlines, dropping the phantom element a trailing
// newline would otherwise produce.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
