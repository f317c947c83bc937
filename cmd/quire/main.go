// Package main is the quire command line tool.
//
// quire manages a workspace of cross-linked markdown files: a tree of
// entries wired together through part_of and contents frontmatter. It
// validates and repairs the wiring, searches and exports slices of the
// tree, archives it, watches it for changes, and can keep the whole
// workspace inside a git repository so every mutation becomes a commit.
// Configuration is read from quire.yml in the workspace directory, a .env
// file, and QUIRE_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "quire: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	flag.Usage = usage
	dir := flag.String("C", ".", "Workspace directory to operate in")
	verbose := flag.Bool("v", false, "Log debug output")
	quiet := flag.Bool("q", false, "Log errors only")
	useGit := flag.Bool("git", false, "Keep the workspace in a git repository; every mutation becomes a commit")
	useMem := flag.Bool("mem", false, "Run against an in-memory copy and discard every change on exit")
	jsonOut := flag.Bool("json", false, "Print results as JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}
	if *verbose && *quiet {
		return fmt.Errorf("-v and -q are mutually exclusive")
	}
	if *useGit && *useMem {
		return fmt.Errorf("-git and -mem are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	if *verbose {
		ll.Set(slog.LevelDebug)
	}
	if *quiet {
		ll.Set(slog.LevelError)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	a := &app{
		dir:     *dir,
		git:     *useGit,
		memory:  *useMem,
		jsonOut: *jsonOut,
		log:     logger,
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "tree":
		return a.workspaceCmd(ctx, args, a.cmdTree)
	case "validate":
		return a.workspaceCmd(ctx, args, a.cmdValidate)
	case "fix":
		return a.workspaceCmd(ctx, args, a.cmdFix)
	case "search":
		return a.workspaceCmd(ctx, args, a.cmdSearch)
	case "export":
		return a.workspaceCmd(ctx, args, a.cmdExport)
	case "audiences":
		return a.workspaceCmd(ctx, args, a.cmdAudiences)
	case "new":
		return a.workspaceCmd(ctx, args, a.cmdNew)
	case "mv":
		return a.workspaceCmd(ctx, args, a.cmdMove)
	case "rm":
		return a.workspaceCmd(ctx, args, a.cmdRemove)
	case "adopt":
		return a.workspaceCmd(ctx, args, a.cmdAdopt)
	case "watch":
		return a.workspaceCmd(ctx, args, a.cmdWatch)
	case "log":
		return a.workspaceCmd(ctx, args, a.cmdLog)
	case "bundle":
		return a.workspaceCmd(ctx, args, a.cmdBundle)
	case "schema":
		return a.cmdSchema(ctx, args)
	case "script":
		return a.cmdScript(ctx, args)
	case "version":
		printVersion()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: quire [flags] <command> [args]

Commands:
  tree       Print the workspace tree
  validate   Check referential consistency
  fix        Apply mechanical repairs for validator findings
  search     Find text in reachable files
  export     Copy an audience-filtered slice of the workspace
  audiences  List the audience tags in use
  new        Create an entry under an index
  mv         Rename or move an entry
  rm         Delete entries
  adopt      Turn a plain directory of markdown into a workspace
  watch      Revalidate whenever files change
  log        Show workspace git history or recorded runs
  bundle     Archive the workspace as a .tar.gz
  schema     Print JSON schemas of the result types
  script     Validate a workspace served by a JavaScript backend
  version    Print version and exit

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(flag.CommandLine.Output(), "\nRun \"quire <command> -h\" for command flags.\n")
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("quire %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
