// Package export copies an audience-filtered slice of a workspace to a
// destination tree. Planning and materialization are separate phases: a
// Plan is a plain value computed without side effects, and Execute is the
// only part that writes.
//
// Visibility is inherited. A file with its own audience list speaks for
// itself; a file without one borrows the nearest ancestor's. A chain with
// no audience anywhere is private by default, but an explicit audience on
// a descendant overrides inherited privacy.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"

	"github.com/quirelabs/quire/internal/entry"
	"github.com/quirelabs/quire/internal/vfs"
	"github.com/quirelabs/quire/internal/workspace"
)

// Wildcard includes every reachable file regardless of audience.
const Wildcard = "*"

// PrivateTag marks a file explicitly private.
const PrivateTag = "private"

// Reason explains one exclusion.
type Reason string

const (
	ExplicitlyPrivate Reason = "explicitly_private"
	AudienceMismatch  Reason = "audience_mismatch"
	InheritedPrivate  Reason = "inherited_private"
	NoAudienceDefined Reason = "no_audience_defined"
)

// Included is one file the plan will materialize. Strip lists the
// contents references, exactly as written, whose targets are not part of
// the plan; they are pruned from the exported copy so an exported index
// never points at a file that was not itself exported.
type Included struct {
	Path  string   `json:"path"`
	Dest  string   `json:"dest"`
	Strip []string `json:"strip,omitempty"`
}

// Excluded is one file the plan leaves behind. Tags carries the audience
// list the decision was made against, own or inherited.
type Excluded struct {
	Path      string   `json:"path"`
	Reason    Reason   `json:"reason"`
	Tags      []string `json:"tags,omitempty"`
	Requested string   `json:"requested,omitempty"`
}

// Plan is the outcome of a dry-run filter pass, in tree preorder.
type Plan struct {
	Audience string     `json:"audience"`
	DestDir  string     `json:"dest_dir"`
	Included []Included `json:"included"`
	Excluded []Excluded `json:"excluded"`
}

// Options controls materialization.
type Options struct {
	// Force overwrites pre-existing destination files instead of failing.
	Force bool
	// KeepAudience retains the audience property in exported copies.
	KeepAudience bool
}

// Stats aggregates one Execute run.
type Stats struct {
	Exported    int `json:"exported"`
	Excluded    int `json:"excluded"`
	Attachments int `json:"attachments"`
}

// Exporter plans and materializes audience exports over a workspace.
type Exporter struct {
	ws  *workspace.Workspace
	log *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger for skip notes during materialization.
func WithLogger(log *slog.Logger) Option {
	return func(e *Exporter) { e.log = log }
}

// New returns an exporter over ws.
func New(ws *workspace.Workspace, opts ...Option) *Exporter {
	e := &Exporter{ws: ws, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Audiences walks every file reachable from rootIndex and returns the
// sorted union of audience tags, with the private marker removed.
func (x *Exporter) Audiences(ctx context.Context, rootIndex string) ([]string, error) {
	paths, err := x.ws.Collect(ctx, rootIndex)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, p := range paths {
		e, err := x.ws.LoadLoose(ctx, p)
		if err != nil {
			continue
		}
		tags, _ := e.Audience()
		for _, tag := range tags {
			if tag != PrivateTag && tag != "" {
				seen[tag] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out, nil
}

// Plan computes which reachable files an export for audience would copy
// into destDir, and why the rest stay behind. It never writes.
func (x *Exporter) Plan(ctx context.Context, rootIndex, audience, destDir string) (*Plan, error) {
	if audience == "" {
		return nil, fmt.Errorf("export audience required")
	}
	if _, err := x.ws.ParseIndex(ctx, rootIndex); err != nil {
		return nil, err
	}
	pl := &planner{
		x:        x,
		plan:     &Plan{Audience: audience, DestDir: destDir},
		visited:  map[string]bool{},
		entries:  map[string]*entry.Entry{},
		included: map[string]bool{},
	}
	if err := pl.visit(ctx, rootIndex, inherited{}); err != nil {
		return nil, err
	}
	pl.pruneRefs()
	return pl.plan, nil
}

// inherited is the visibility state flowing down one ancestor chain.
type inherited struct {
	tags    []string
	defined bool
	private bool
}

type planner struct {
	x        *Exporter
	plan     *Plan
	visited  map[string]bool
	entries  map[string]*entry.Entry
	included map[string]bool
}

func (pl *planner) visit(ctx context.Context, p string, in inherited) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pl.visited[p] {
		return nil
	}
	pl.visited[p] = true
	e, err := pl.x.ws.LoadLoose(ctx, p)
	if err != nil {
		pl.x.log.DebugContext(ctx, "export plan skipping unreadable file", "path", p, "err", err)
		return nil
	}
	pl.entries[p] = e

	own, _ := e.Audience()
	next := in
	req := pl.plan.Audience
	switch {
	case req == Wildcard:
		pl.include(p)
	case len(own) > 0:
		next = inherited{tags: own, defined: true, private: slices.Contains(own, PrivateTag)}
		switch {
		case slices.Contains(own, req):
			pl.include(p)
		case next.private:
			pl.exclude(p, ExplicitlyPrivate, own)
		default:
			pl.exclude(p, AudienceMismatch, own)
		}
	case in.private:
		pl.exclude(p, InheritedPrivate, in.tags)
	case in.defined && slices.Contains(in.tags, req):
		pl.include(p)
	case in.defined:
		pl.exclude(p, AudienceMismatch, in.tags)
	default:
		// No audience anywhere in the chain: private by default, and so
		// is everything below unless it speaks for itself.
		pl.exclude(p, NoAudienceDefined, nil)
		next.private = true
	}

	for _, ref := range e.Contents() {
		child := entry.Resolve(p, ref)
		if err := pl.visit(ctx, child, next); err != nil {
			return err
		}
	}
	return nil
}

func (pl *planner) include(p string) {
	pl.included[p] = true
	pl.plan.Included = append(pl.plan.Included, Included{
		Path: p,
		Dest: path.Join(pl.plan.DestDir, p),
	})
}

func (pl *planner) exclude(p string, r Reason, tags []string) {
	pl.plan.Excluded = append(pl.plan.Excluded, Excluded{
		Path:      p,
		Reason:    r,
		Tags:      slices.Clone(tags),
		Requested: pl.plan.Audience,
	})
}

// pruneRefs records, per included index, the contents entries whose
// targets did not make the plan.
func (pl *planner) pruneRefs() {
	for i := range pl.plan.Included {
		inc := &pl.plan.Included[i]
		e := pl.entries[inc.Path]
		if e == nil {
			continue
		}
		for _, ref := range e.Contents() {
			if !pl.included[entry.Resolve(inc.Path, ref)] {
				inc.Strip = append(inc.Strip, ref)
			}
		}
	}
}

// Execute materializes plan onto dst. Markdown copies get their audience
// property dropped (unless opts.KeepAudience) and their pruned contents
// references removed. Attachments of included files are copied best
// effort; a missing or unreadable binary is logged and skipped rather
// than failing the run.
func (x *Exporter) Execute(ctx context.Context, dst vfs.FS, plan *Plan, opts Options) (Stats, error) {
	stats := Stats{Excluded: len(plan.Excluded)}
	copied := map[string]bool{}
	for _, inc := range plan.Included {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		content, err := x.ws.FS().ReadFile(ctx, inc.Path)
		if err != nil {
			return stats, fmt.Errorf("export %s: %w", inc.Path, err)
		}
		out, attachments, err := x.render(inc, content, opts)
		if err != nil {
			return stats, fmt.Errorf("export %s: %w", inc.Path, err)
		}
		if err := writeDest(ctx, dst, inc.Dest, out, opts.Force); err != nil {
			return stats, err
		}
		stats.Exported++

		for _, ref := range attachments {
			src := entry.Resolve(inc.Path, ref)
			dest := entry.Resolve(inc.Dest, ref)
			if copied[dest] {
				continue
			}
			data, err := x.ws.FS().ReadBinary(ctx, src)
			if err != nil {
				x.log.WarnContext(ctx, "attachment skipped", "path", src, "err", err)
				continue
			}
			if dir := path.Dir(dest); dir != "." {
				if err := dst.MkdirAll(ctx, dir); err != nil {
					return stats, fmt.Errorf("export %s: %w", dest, err)
				}
			}
			if err := dst.WriteBinary(ctx, dest, data); err != nil {
				return stats, fmt.Errorf("export %s: %w", dest, err)
			}
			copied[dest] = true
			stats.Attachments++
		}
	}
	return stats, nil
}

// render rewrites one included file's frontmatter for export and returns
// the serialized copy plus its attachment references. A file with no
// frontmatter at all passes through byte for byte.
func (x *Exporter) render(inc Included, content string, opts Options) (string, []string, error) {
	e, err := entry.ParseLoose(inc.Path, content)
	if err != nil {
		return "", nil, err
	}
	attachments := e.Attachments()
	if e.Meta.Len() == 0 {
		return content, attachments, nil
	}
	if !opts.KeepAudience {
		e.Meta.Delete(entry.KeyAudience)
	}
	for _, ref := range inc.Strip {
		e.RemoveFrom(entry.KeyContents, ref)
	}
	out, err := e.Encode()
	if err != nil {
		return "", nil, err
	}
	return out, attachments, nil
}

func writeDest(ctx context.Context, dst vfs.FS, dest, content string, force bool) error {
	if dir := path.Dir(dest); dir != "." {
		if err := dst.MkdirAll(ctx, dir); err != nil {
			return fmt.Errorf("export %s: %w", dest, err)
		}
	}
	var err error
	if force {
		err = dst.WriteFile(ctx, dest, content)
	} else {
		err = dst.CreateNew(ctx, dest, content)
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", dest, err)
	}
	return nil
}
