// Package watch re-runs a workspace pass whenever files under the root
// change on disk. Events are debounced so one save producing several
// notifications triggers a single pass, and a rate floor keeps a busy
// editor from starving everything else.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const (
	// DefaultDebounce is how long after the last event a pass waits.
	DefaultDebounce = 200 * time.Millisecond
	// DefaultMinInterval is the floor between two passes.
	DefaultMinInterval = time.Second
)

// PassFunc receives the batch of changed paths, slash-separated and
// relative to the watched root, in sorted order. The pass owns its own
// error handling; a failing pass must not stop the watcher.
type PassFunc func(ctx context.Context, changed []string)

// Option configures a watch run.
type Option func(*watcher)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *watcher) { w.debounce = d }
}

// WithMinInterval overrides the floor between passes.
func WithMinInterval(d time.Duration) Option {
	return func(w *watcher) { w.minInterval = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *watcher) { w.log = log }
}

type watcher struct {
	root        string
	debounce    time.Duration
	minInterval time.Duration
	log         *slog.Logger
	pass        PassFunc
	pending     map[string]bool
}

// Run watches root until ctx is cancelled, invoking pass after each
// debounced batch of changes. Directories created while running are
// picked up automatically. Dot-prefixed files and directories (.git,
// .quire) are ignored.
func Run(ctx context.Context, root string, pass PassFunc, opts ...Option) error {
	w := &watcher{
		root:        root,
		debounce:    DefaultDebounce,
		minInterval: DefaultMinInterval,
		log:         slog.Default(),
		pass:        pass,
		pending:     map[string]bool{},
	}
	for _, o := range opts {
		o(w)
	}
	limiter := rate.NewLimiter(rate.Every(w.minInterval), 1)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := addDirsRecursive(fsw, root); err != nil {
		return err
	}
	w.log.InfoContext(ctx, "watching", "root", root)

	var flushTimer *time.Timer
	var flushCh <-chan time.Time
	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(w.debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			w.log.InfoContext(ctx, "watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, ev, schedule)

		case <-flushCh:
			// The floor applies between passes, not between events;
			// waiting here lets more changes coalesce into this batch.
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			changed := w.drain()
			if len(changed) == 0 {
				continue
			}
			w.log.DebugContext(ctx, "change pass", "files", len(changed))
			w.pass(ctx, changed)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WarnContext(ctx, "watch error", "err", err)
		}
	}
}

func (w *watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event, schedule func()) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if hiddenPath(rel) {
		return
	}

	// A directory appearing means new watch targets, and possibly files
	// that arrived with it (editors and git checkouts move whole trees).
	if ev.Op&fsnotify.Create != 0 {
		if isDir(ev.Name) {
			if err := addDirsRecursive(fsw, ev.Name); err != nil {
				w.log.WarnContext(ctx, "watch new dir failed", "path", rel, "err", err)
			}
			w.markTree(ev.Name)
			schedule()
			return
		}
	}

	w.pending[rel] = true
	schedule()
}

// markTree queues every file already inside dir.
func (w *watcher) markTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !hiddenPath(rel) {
			w.pending[rel] = true
		}
		return nil
	})
}

func (w *watcher) drain() []string {
	if len(w.pending) == 0 {
		return nil
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	clear(w.pending)
	slices.Sort(changed)
	return changed
}

// addDirsRecursive adds dir and every subdirectory to the watcher,
// skipping dot-prefixed directories.
func addDirsRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); strings.HasPrefix(name, ".") && p != dir {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}

func hiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
