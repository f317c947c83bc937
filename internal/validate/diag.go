package validate

import (
	"fmt"
	"strings"
)

// Code identifies one diagnostic kind. Broken references are errors;
// everything else is a warning.
type Code string

const (
	// Errors.
	BrokenPartOf      Code = "broken_part_of"
	BrokenContentsRef Code = "broken_contents_ref"
	BrokenAttachment  Code = "broken_attachment"

	// Warnings.
	OrphanFile        Code = "orphan_file"
	UnlinkedEntry     Code = "unlinked_entry"
	UnlistedFile      Code = "unlisted_file"
	CircularReference Code = "circular_reference"
	NonPortablePath   Code = "non_portable_path"
	MultipleIndexes   Code = "multiple_indexes"
	OrphanBinaryFile  Code = "orphan_binary_file"
	MissingPartOf     Code = "missing_part_of"
)

// IsError reports whether the code is a hard consistency error rather
// than a warning.
func (c Code) IsError() bool {
	switch c {
	case BrokenPartOf, BrokenContentsRef, BrokenAttachment:
		return true
	}
	return false
}

// Diagnostic is one finding. Path is always set; the remaining fields
// depend on the code. Ref is the offending reference exactly as written,
// Key the frontmatter key holding it, Suggested the mechanical
// replacement or adoption target when one exists, and Cycle the full path
// sequence of a circular reference.
type Diagnostic struct {
	Code      Code     `json:"code"`
	Path      string   `json:"path"`
	Key       string   `json:"key,omitempty"`
	Ref       string   `json:"ref,omitempty"`
	Suggested string   `json:"suggested,omitempty"`
	Cycle     []string `json:"cycle,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", d.Code, d.Path)
	if d.Key != "" && d.Ref != "" {
		fmt.Fprintf(&b, ": %s: %q", d.Key, d.Ref)
	} else if d.Ref != "" {
		fmt.Fprintf(&b, ": %q", d.Ref)
	}
	if len(d.Cycle) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(d.Cycle, " -> "))
	}
	if d.Suggested != "" {
		fmt.Fprintf(&b, " (suggested: %s)", d.Suggested)
	}
	if d.Detail != "" {
		fmt.Fprintf(&b, " (%s)", d.Detail)
	}
	return b.String()
}

// Result is an immutable snapshot of one validation pass. Diagnostics
// appear in discovery order: tree walk first, then the disk scan.
type Result struct {
	Errors       []Diagnostic `json:"errors"`
	Warnings     []Diagnostic `json:"warnings"`
	FilesChecked int          `json:"files_checked"`

	seen map[string]bool
}

func newResult() *Result {
	return &Result{seen: map[string]bool{}}
}

// add records a diagnostic, dropping exact repeats. The tree walk and the
// disk scan can legitimately discover the same finding. Distinct cycles
// through one path differ in their member list, so that joins the key.
func (r *Result) add(d Diagnostic) {
	key := string(d.Code) + "|" + d.Path + "|" + d.Key + "|" + d.Ref + "|" + strings.Join(d.Cycle, ",")
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	if d.Code.IsError() {
		r.Errors = append(r.Errors, d)
	} else {
		r.Warnings = append(r.Warnings, d)
	}
}

// Clean reports whether the pass found nothing at all.
func (r *Result) Clean() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0
}

// All returns errors followed by warnings.
func (r *Result) All() []Diagnostic {
	out := make([]Diagnostic, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	out = append(out, r.Warnings...)
	return out
}

// Summary is a one-line count for log and CLI output.
func (r *Result) Summary() string {
	return fmt.Sprintf("%d errors, %d warnings, %d files checked",
		len(r.Errors), len(r.Warnings), r.FilesChecked)
}
