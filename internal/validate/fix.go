package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quirelabs/quire/internal/entry"
	"github.com/quirelabs/quire/internal/workspace"
)

// Fixer applies mechanical repairs for the fixable diagnostic codes.
// Every fix is idempotent: running it against an already-repaired file
// reports a no-op outcome instead of failing or changing anything.
type Fixer struct {
	ws  *workspace.Workspace
	log *slog.Logger
}

// NewFixer returns a fixer over ws.
func NewFixer(ws *workspace.Workspace, opts ...FixerOption) *Fixer {
	f := &Fixer{ws: ws, log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FixerOption configures a Fixer.
type FixerOption func(*Fixer)

// WithFixerLogger sets the logger used for per-fix progress output.
func WithFixerLogger(log *slog.Logger) FixerOption {
	return func(f *Fixer) { f.log = log }
}

// Outcome describes one fix attempt. Exactly one of three shapes comes
// back: Fixed (the file changed), Noop (there was nothing left to do),
// or neither (the fix could not be applied; Message says why).
type Outcome struct {
	Fixed   bool   `json:"fixed"`
	Noop    bool   `json:"noop,omitempty"`
	Message string `json:"message"`
}

func fixed(format string, args ...any) Outcome {
	return Outcome{Fixed: true, Message: fmt.Sprintf(format, args...)}
}

func noop(format string, args ...any) Outcome {
	return Outcome{Noop: true, Message: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) Outcome {
	return Outcome{Message: fmt.Sprintf(format, args...)}
}

// Fixable reports whether a diagnostic code has a mechanical repair.
// Orphans, unlinked subtrees, cycles and competing indexes all need a
// human to decide what the structure should have been.
func Fixable(c Code) bool {
	switch c {
	case OrphanFile, UnlinkedEntry, CircularReference, MultipleIndexes:
		return false
	}
	return true
}

// Fix applies the repair for one diagnostic. The returned error covers
// only the inability to attempt the fix (unreadable file, failed write);
// "nothing to fix" and "not fixable" are ordinary outcomes.
func (f *Fixer) Fix(ctx context.Context, d Diagnostic) (Outcome, error) {
	if !Fixable(d.Code) {
		return failed("%s requires restructuring by hand", d.Code), nil
	}
	switch d.Code {
	case BrokenPartOf:
		return f.removeBrokenPartOf(ctx, d)
	case BrokenContentsRef, BrokenAttachment:
		return f.removeBrokenRef(ctx, d)
	case NonPortablePath:
		return f.rewritePath(ctx, d)
	case UnlistedFile:
		return f.listInIndex(ctx, d)
	case OrphanBinaryFile:
		return f.attachBinary(ctx, d)
	case MissingPartOf:
		return f.setPartOf(ctx, d)
	}
	return failed("no fix implemented for %s", d.Code), nil
}

func (f *Fixer) removeBrokenPartOf(ctx context.Context, d Diagnostic) (Outcome, error) {
	e, err := f.ws.LoadLoose(ctx, d.Path)
	if err != nil {
		return Outcome{}, err
	}
	current, ok := e.Meta.GetString(entry.KeyPartOf)
	if !ok || current != d.Ref {
		return noop("part_of of %s no longer references %q", d.Path, d.Ref), nil
	}
	e.Meta.Delete(entry.KeyPartOf)
	if err := f.ws.Save(ctx, e); err != nil {
		return Outcome{}, err
	}
	return fixed("removed dangling part_of %q from %s", d.Ref, d.Path), nil
}

func (f *Fixer) removeBrokenRef(ctx context.Context, d Diagnostic) (Outcome, error) {
	e, err := f.ws.LoadLoose(ctx, d.Path)
	if err != nil {
		return Outcome{}, err
	}
	if !e.RemoveFrom(d.Key, d.Ref) {
		return noop("%s of %s no longer references %q", d.Key, d.Path, d.Ref), nil
	}
	if err := f.ws.Save(ctx, e); err != nil {
		return Outcome{}, err
	}
	return fixed("removed dangling %s reference %q from %s", d.Key, d.Ref, d.Path), nil
}

func (f *Fixer) rewritePath(ctx context.Context, d Diagnostic) (Outcome, error) {
	if d.Suggested == "" {
		return failed("no mechanical replacement for %q in %s", d.Ref, d.Path), nil
	}
	e, err := f.ws.LoadLoose(ctx, d.Path)
	if err != nil {
		return Outcome{}, err
	}
	if !e.ReplaceIn(d.Key, d.Ref, d.Suggested) {
		return noop("%s of %s no longer contains %q", d.Key, d.Path, d.Ref), nil
	}
	if err := f.ws.Save(ctx, e); err != nil {
		return Outcome{}, err
	}
	return fixed("rewrote %s reference %q to %q in %s", d.Key, d.Ref, d.Suggested, d.Path), nil
}

// listInIndex repairs an unlisted file from both ends: the index gains a
// contents entry and the file's part_of points back at the index.
func (f *Fixer) listInIndex(ctx context.Context, d Diagnostic) (Outcome, error) {
	if d.Suggested == "" {
		return failed("no index to list %s in", d.Path), nil
	}
	idx, err := f.ws.Load(ctx, d.Suggested)
	if err != nil {
		return Outcome{}, err
	}
	if !idx.IsIndex() {
		return failed("%s is not an index", d.Suggested), nil
	}
	e, err := f.ws.LoadLoose(ctx, d.Path)
	if err != nil {
		return Outcome{}, err
	}

	listed := false
	for _, ref := range idx.Contents() {
		if entry.Resolve(idx.Path, ref) == d.Path {
			listed = true
			break
		}
	}
	linked := false
	if ref, ok := e.PartOf(); ok && entry.Resolve(e.Path, ref) == d.Suggested {
		linked = true
	}
	if listed && linked {
		return noop("%s is already listed in %s", d.Path, d.Suggested), nil
	}
	if !listed {
		idx.AppendTo(entry.KeyContents, entry.Rel(dirOf(idx.Path), d.Path))
		if err := f.ws.Save(ctx, idx); err != nil {
			return Outcome{}, err
		}
	}
	if !linked {
		e.Meta.SetString(entry.KeyPartOf, entry.Rel(dirOf(e.Path), d.Suggested))
		if err := f.ws.Save(ctx, e); err != nil {
			return Outcome{}, err
		}
	}
	return fixed("listed %s in %s", d.Path, d.Suggested), nil
}

func (f *Fixer) attachBinary(ctx context.Context, d Diagnostic) (Outcome, error) {
	if d.Suggested == "" {
		return failed("no index to attach %s to", d.Path), nil
	}
	idx, err := f.ws.Load(ctx, d.Suggested)
	if err != nil {
		return Outcome{}, err
	}
	for _, ref := range idx.Attachments() {
		if entry.Resolve(idx.Path, ref) == d.Path {
			return noop("%s is already attached to %s", d.Path, d.Suggested), nil
		}
	}
	idx.AppendTo(entry.KeyAttachments, entry.Rel(dirOf(idx.Path), d.Path))
	if err := f.ws.Save(ctx, idx); err != nil {
		return Outcome{}, err
	}
	return fixed("attached %s to %s", d.Path, d.Suggested), nil
}

func (f *Fixer) setPartOf(ctx context.Context, d Diagnostic) (Outcome, error) {
	if d.Suggested == "" {
		return failed("no index to link %s to", d.Path), nil
	}
	e, err := f.ws.LoadLoose(ctx, d.Path)
	if err != nil {
		return Outcome{}, err
	}
	if _, ok := e.PartOf(); ok {
		return noop("%s already has a part_of", d.Path), nil
	}
	e.Meta.SetString(entry.KeyPartOf, entry.Rel(dirOf(e.Path), d.Suggested))
	if err := f.ws.Save(ctx, e); err != nil {
		return Outcome{}, err
	}
	return fixed("linked %s to %s", d.Path, d.Suggested), nil
}

// FixAllResult aggregates one batch run. Skipped covers both codes with
// no mechanical repair and fixes that found nothing left to do.
type FixAllResult struct {
	Fixed   int `json:"fixed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Summary is a one-line count for log and CLI output.
func (r FixAllResult) Summary() string {
	return fmt.Sprintf("%d fixed, %d failed, %d skipped", r.Fixed, r.Failed, r.Skipped)
}

// FixAll attempts every diagnostic in res, errors first. One failing fix
// never aborts the batch; only context cancellation does.
func (f *Fixer) FixAll(ctx context.Context, res *Result) (FixAllResult, error) {
	var out FixAllResult
	for _, d := range res.All() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !Fixable(d.Code) {
			out.Skipped++
			continue
		}
		o, err := f.Fix(ctx, d)
		switch {
		case err != nil:
			out.Failed++
			f.log.WarnContext(ctx, "fix failed", "code", d.Code, "path", d.Path, "err", err)
		case o.Fixed:
			out.Fixed++
			f.log.DebugContext(ctx, "fixed", "code", d.Code, "path", d.Path, "msg", o.Message)
		case o.Noop:
			out.Skipped++
		default:
			out.Failed++
			f.log.WarnContext(ctx, "fix not applied", "code", d.Code, "path", d.Path, "msg", o.Message)
		}
	}
	return out, nil
}
