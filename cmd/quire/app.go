package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quirelabs/quire/internal/config"
	"github.com/quirelabs/quire/internal/history"
	"github.com/quirelabs/quire/internal/vfs"
	"github.com/quirelabs/quire/internal/vfs/gitfs"
	"github.com/quirelabs/quire/internal/workspace"
)

// app carries the state shared by the workspace commands. Most fields are
// populated by open; hist is opened on first use.
type app struct {
	dir     string
	git     bool
	memory  bool
	jsonOut bool
	log     *slog.Logger

	cfg   *config.Config
	ws    *workspace.Workspace
	store *gitfs.Store

	histMu sync.Mutex
	hist   *history.Log[history.Record]
}

type cmdFunc func(ctx context.Context, args []string) error

// workspaceCmd opens the workspace and runs one command against it.
func (a *app) workspaceCmd(ctx context.Context, args []string, fn cmdFunc) error {
	if err := a.open(ctx); err != nil {
		return err
	}
	return fn(ctx, args)
}

// open loads the configuration and binds the chosen backend.
func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.dir)
	if err != nil {
		return err
	}
	a.cfg = cfg

	var fsys vfs.FS
	switch {
	case a.git:
		store, err := gitfs.Open(a.dir, gitfs.WithAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail))
		if err != nil {
			return err
		}
		a.store = store
		fsys = vfs.Lift(store)
	case a.memory:
		fsys, err = memCopy(ctx, a.dir)
		if err != nil {
			return fmt.Errorf("seed in-memory copy: %w", err)
		}
		a.log.InfoContext(ctx, "running against an in-memory copy; changes will be discarded")
	default:
		fsys = vfs.Lift(vfs.NewOS(a.dir))
	}
	a.ws = workspace.New(fsys, workspace.WithLogger(a.log))
	return nil
}

// memCopy seeds an in-memory backend with every file under dir so mutations
// run for real and vanish on exit.
func memCopy(ctx context.Context, dir string) (vfs.FS, error) {
	src := vfs.Lift(vfs.NewOS(dir))
	dst := vfs.Lift(vfs.NewMem())
	paths, err := vfs.ListAllRecursive(ctx, src, "")
	if err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, p := range paths {
		g.Go(func() error {
			data, err := src.ReadBinary(gctx, p)
			if err != nil {
				return err
			}
			return dst.WriteBinary(gctx, p, data)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dst, nil
}

// rootIndex resolves the workspace's root index: the configured one when it
// exists, otherwise the first root index on disk.
func (a *app) rootIndex(ctx context.Context) (string, error) {
	if r := a.cfg.Root; r != "" {
		ok, err := a.ws.FS().Exists(ctx, r)
		if err != nil {
			return "", err
		}
		if ok {
			return r, nil
		}
	}
	found, err := a.ws.FindRootIndex(ctx, "")
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no root index in %s; run \"quire adopt\" to create one", a.dir)
	}
	return found, nil
}

func (a *app) historyPath() string {
	p := a.cfg.History.Path
	if p == "" {
		p = history.DefaultFile
	}
	return filepath.Join(a.dir, filepath.FromSlash(p))
}

// history opens the run log on first use. The watch command records from
// two goroutines, hence the lock.
func (a *app) history() (*history.Log[history.Record], error) {
	a.histMu.Lock()
	defer a.histMu.Unlock()
	if a.hist == nil {
		l, err := history.Open[history.Record](a.historyPath())
		if err != nil {
			return nil, err
		}
		a.hist = l
	}
	return a.hist, nil
}

// record appends one run to the history log. Recording is bookkeeping: a
// failure is logged and the command's outcome stands. Nothing is recorded
// when the backend is a scratch copy or history is disabled.
func (a *app) record(ctx context.Context, op, summary string, detail any) {
	if a.memory || a.cfg.History.Disabled {
		return
	}
	l, err := a.history()
	if err != nil {
		a.log.WarnContext(ctx, "history unavailable", "err", err)
		return
	}
	rec := history.Record{At: time.Now(), Op: op, Summary: summary}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			rec.Detail = b
		}
	}
	if err := l.Append(rec); err != nil {
		a.log.WarnContext(ctx, "history append failed", "err", err)
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = os.Stdout.Write(b)
	return err
}
