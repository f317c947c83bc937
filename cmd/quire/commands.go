package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quirelabs/quire/internal/bundle"
	"github.com/quirelabs/quire/internal/export"
	"github.com/quirelabs/quire/internal/schema"
	"github.com/quirelabs/quire/internal/script"
	"github.com/quirelabs/quire/internal/search"
	"github.com/quirelabs/quire/internal/validate"
	"github.com/quirelabs/quire/internal/vfs"
	"github.com/quirelabs/quire/internal/watch"
	"github.com/quirelabs/quire/internal/workspace"
)

func (a *app) cmdTree(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire tree", flag.ExitOnError)
	depth := fs.Int("depth", 64, "Maximum depth to descend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	idx := fs.Arg(0)
	if idx == "" {
		var err error
		if idx, err = a.rootIndex(ctx); err != nil {
			return err
		}
	}
	tree, err := a.ws.BuildTree(ctx, idx, *depth, map[string]bool{})
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(tree)
	}
	printTree(os.Stdout, tree, 0)
	return nil
}

func printTree(w io.Writer, n *workspace.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Description != "" {
		fmt.Fprintf(w, "%s%s (%s): %s\n", indent, n.Name, n.Path, n.Description)
	} else {
		fmt.Fprintf(w, "%s%s (%s)\n", indent, n.Name, n.Path)
	}
	for _, c := range n.Children {
		printTree(w, c, depth+1)
	}
}

func (a *app) cmdValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("usage: quire validate [path]")
	}

	v := validate.New(a.ws, validate.WithLogger(a.log))
	var res *validate.Result
	if fs.NArg() == 1 {
		var err error
		if res, err = v.File(ctx, fs.Arg(0)); err != nil {
			return err
		}
	} else {
		root, err := a.rootIndex(ctx)
		if err != nil {
			return err
		}
		if res, err = v.Workspace(ctx, root); err != nil {
			return err
		}
	}
	a.record(ctx, "validate", res.Summary(), res)
	if err := a.printValidation(res); err != nil {
		return err
	}
	if n := len(res.Errors); n > 0 {
		return fmt.Errorf("%d consistency errors", n)
	}
	return nil
}

func (a *app) printValidation(res *validate.Result) error {
	if a.jsonOut {
		return printJSON(res)
	}
	for _, d := range res.All() {
		fmt.Println(d.String())
	}
	fmt.Println(res.Summary())
	return nil
}

func (a *app) cmdFix(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire fix", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	root, err := a.rootIndex(ctx)
	if err != nil {
		return err
	}
	res, err := validate.New(a.ws, validate.WithLogger(a.log)).Workspace(ctx, root)
	if err != nil {
		return err
	}
	fixer := validate.NewFixer(a.ws, validate.WithFixerLogger(a.log))
	out, err := fixer.FixAll(ctx, res)
	if err != nil {
		return err
	}
	a.record(ctx, "fix", out.Summary(), out)
	if a.jsonOut {
		return printJSON(out)
	}
	fmt.Println(out.Summary())
	return nil
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire search", flag.ExitOnError)
	caseSensitive := fs.Bool("case", false, "Match case")
	scope := fs.String("scope", "", "Region to search: body (default), frontmatter, or property")
	property := fs.String("property", "", "Frontmatter key for the property scope")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: quire search [flags] <pattern>")
	}
	root, err := a.rootIndex(ctx)
	if err != nil {
		return err
	}
	q := search.Query{
		Pattern:       fs.Arg(0),
		CaseSensitive: *caseSensitive,
		Scope:         search.Scope(*scope),
		Property:      *property,
	}
	res, err := search.New(a.ws).Workspace(ctx, root, q)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(res)
	}
	for _, f := range res.Files {
		for _, m := range f.Matches {
			fmt.Printf("%s:%d: %s\n", f.Path, m.Line, m.Text)
		}
	}
	a.log.DebugContext(ctx, "search done", "files_searched", res.FilesSearched, "matches", res.TotalMatches)
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire export", flag.ExitOnError)
	dest := fs.String("dest", "", "Destination directory (default from quire.yml)")
	force := fs.Bool("force", false, "Overwrite files already present in the destination")
	keep := fs.Bool("keep-audience", a.cfg.Export.KeepAudience, "Keep the audience property in exported copies")
	dryRun := fs.Bool("dry-run", false, "Plan only; write nothing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	audience := fs.Arg(0)
	if audience == "" {
		audience = a.cfg.Export.Audience
	}
	if audience == "" {
		return fmt.Errorf("audience required: quire export <audience>, or set export.audience in quire.yml")
	}
	if *dest == "" {
		*dest = a.cfg.Export.Dest
	}

	root, err := a.rootIndex(ctx)
	if err != nil {
		return err
	}
	exp := export.New(a.ws, export.WithLogger(a.log))
	plan, err := exp.Plan(ctx, root, audience, ".")
	if err != nil {
		return err
	}
	plan.DestDir = *dest

	if *dryRun {
		if a.jsonOut {
			return printJSON(plan)
		}
		for _, inc := range plan.Included {
			fmt.Printf("include %s\n", inc.Path)
		}
		for _, exc := range plan.Excluded {
			fmt.Printf("exclude %s (%s)\n", exc.Path, exc.Reason)
		}
		return nil
	}

	var dst vfs.FS
	if a.memory {
		dst = vfs.Lift(vfs.NewMem())
	} else {
		hostDest := filepath.FromSlash(*dest)
		if !filepath.IsAbs(hostDest) {
			hostDest = filepath.Join(a.dir, hostDest)
		}
		dst = vfs.Lift(vfs.NewOS(hostDest))
	}
	stats, err := exp.Execute(ctx, dst, plan, export.Options{Force: *force, KeepAudience: *keep})
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%d exported, %d excluded, %d attachments", stats.Exported, stats.Excluded, stats.Attachments)
	a.record(ctx, "export", summary, stats)
	if a.jsonOut {
		return printJSON(stats)
	}
	fmt.Printf("%s -> %s\n", summary, *dest)
	return nil
}

func (a *app) cmdAudiences(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire audiences", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	root, err := a.rootIndex(ctx)
	if err != nil {
		return err
	}
	tags, err := export.New(a.ws).Audiences(ctx, root)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(tags)
	}
	for _, t := range tags {
		fmt.Println(t)
	}
	return nil
}

func (a *app) cmdNew(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire new", flag.ExitOnError)
	parent := fs.String("parent", "", "Index to create the entry under (default the root index)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: quire new [flags] <name> [title...]")
	}
	name := fs.Arg(0)
	title := strings.Join(fs.Args()[1:], " ")
	if *parent == "" {
		var err error
		if *parent, err = a.rootIndex(ctx); err != nil {
			return err
		}
	}
	p, err := a.ws.CreateChildEntry(ctx, *parent, name, title)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(map[string]string{"path": p})
	}
	fmt.Println(p)
	return nil
}

func (a *app) cmdMove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire mv", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: quire mv <entry> <new-name.md | directory>")
	}
	src, dest := fs.Arg(0), fs.Arg(1)

	var newPath string
	var err error
	if vfs.IsMarkdown(dest) {
		if path.Dir(path.Clean(src)) != path.Dir(path.Clean(dest)) {
			return fmt.Errorf("cannot move and rename in one step; mv into %s first", path.Dir(path.Clean(dest)))
		}
		newPath, err = a.ws.RenameEntry(ctx, src, path.Base(dest))
	} else {
		newPath, err = a.ws.MoveEntry(ctx, src, dest)
	}
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(map[string]string{"path": newPath})
	}
	fmt.Println(newPath)
	return nil
}

func (a *app) cmdRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire rm", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: quire rm <entry>...")
	}
	for _, p := range fs.Args() {
		if err := a.ws.DeleteEntry(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) cmdAdopt(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire adopt", flag.ExitOnError)
	title := fs.String("title", "", "Title for a newly created index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("usage: quire adopt [flags] [dir]")
	}
	idx, err := a.ws.Adopt(ctx, fs.Arg(0), *title)
	if err != nil {
		return err
	}

	root, err := a.rootIndex(ctx)
	if err != nil {
		root = idx
	}
	res, err := validate.New(a.ws, validate.WithLogger(a.log)).Workspace(ctx, root)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(struct {
			Index      string           `json:"index"`
			Validation *validate.Result `json:"validation"`
		}{idx, res})
	}
	fmt.Printf("adopted into %s\n", idx)
	return a.printValidation(res)
}

func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire watch", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.memory {
		return fmt.Errorf("watch needs the files on disk; -mem is not supported")
	}

	v := validate.New(a.ws, validate.WithLogger(a.log))
	pass := func(ctx context.Context, changed []string) {
		root, err := a.rootIndex(ctx)
		if err != nil {
			a.log.WarnContext(ctx, "pass skipped", "err", err)
			return
		}
		res, err := v.Workspace(ctx, root)
		if err != nil {
			a.log.WarnContext(ctx, "validation failed", "err", err)
			return
		}
		if len(changed) > 0 {
			fmt.Printf("%s (%d changed)\n", res.Summary(), len(changed))
		} else {
			fmt.Println(res.Summary())
		}
		a.record(ctx, "watch", res.Summary(), res)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watch.Run(gctx, a.dir, pass,
			watch.WithDebounce(a.cfg.Watch.Debounce.Std()),
			watch.WithMinInterval(a.cfg.Watch.MinInterval.Std()),
			watch.WithLogger(a.log))
	})
	g.Go(func() error {
		// One pass up front so the current state shows without waiting
		// for a change.
		pass(gctx, nil)
		return nil
	})
	return g.Wait()
}

func (a *app) cmdLog(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire log", flag.ExitOnError)
	runs := fs.Bool("runs", false, "Show recorded command runs instead of git history")
	n := fs.Int("n", 20, "Number of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *runs {
		l, err := a.history()
		if err != nil {
			return err
		}
		rows := l.Tail(*n)
		if a.jsonOut {
			return printJSON(rows)
		}
		for _, r := range rows {
			fmt.Printf("%s  %-9s %s\n", r.At.Format("2006-01-02 15:04:05"), r.Op, r.Summary)
		}
		return nil
	}

	if a.store == nil {
		return fmt.Errorf("git history needs the git backend: quire -git log")
	}
	commits, err := a.store.Log(fs.Arg(0), *n)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return printJSON(commits)
	}
	for _, c := range commits {
		fmt.Printf("%.8s  %s  %s\n", c.Hash, c.When.Format("2006-01-02 15:04"), c.Subject)
	}
	return nil
}

func (a *app) cmdBundle(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire bundle", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: quire bundle <out.tar.gz>")
	}
	out := fs.Arg(0)

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	tw := bundle.NewTarGz(f)
	n, err := bundle.Snapshot(ctx, a.ws.FS(), "", tw)
	if err == nil {
		err = tw.Close()
	} else {
		_ = tw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return err
	}
	if a.jsonOut {
		return printJSON(map[string]any{"archive": out, "files": n})
	}
	fmt.Printf("bundled %d files into %s\n", n, out)
	return nil
}

func (a *app) cmdSchema(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("quire schema", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		for _, n := range schema.Names() {
			fmt.Println(n)
		}
		return nil
	}
	b, err := schema.For(fs.Arg(0))
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = os.Stdout.Write(b)
	return err
}

// cmdScript validates a workspace served by a user-supplied JavaScript
// backend instead of the local directory.
func (a *app) cmdScript(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quire script", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: quire script <file.js>")
	}
	name := fs.Arg(0)
	src, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	eng := script.New(a.log)
	fsys, rootDir, err := eng.OpenWorkspace(ctx, filepath.Base(name), string(src))
	if err != nil {
		return err
	}
	ws := workspace.New(fsys, workspace.WithLogger(a.log))
	if rootDir == "." {
		rootDir = ""
	}
	rootIdx, err := ws.FindRootIndex(ctx, rootDir)
	if err != nil {
		return err
	}
	if rootIdx == "" {
		return fmt.Errorf("script workspace has no root index")
	}
	res, err := validate.New(ws, validate.WithLogger(a.log)).Workspace(ctx, rootIdx)
	if err != nil {
		return err
	}
	if err := a.printValidation(res); err != nil {
		return err
	}
	if n := len(res.Errors); n > 0 {
		return fmt.Errorf("%d consistency errors", n)
	}
	return nil
}
