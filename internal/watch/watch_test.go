package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

// collector accumulates pass batches behind a lock.
type collector struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *collector) pass(_ context.Context, changed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, slices.Clone(changed))
}

func (c *collector) snapshot() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.batches)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T, root string, c *collector) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, root, c.pass,
			WithDebounce(50*time.Millisecond),
			WithMinInterval(10*time.Millisecond))
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() = %v, want nil on cancel", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop on cancel")
		}
	})
	// Give the watcher time to register before mutating the tree.
	time.Sleep(100 * time.Millisecond)
}

func TestDebouncedBatch(t *testing.T) {
	root := t.TempDir()
	c := &collector{}
	startWatcher(t, root, c)

	for _, name := range []string{"a.md", "b.md", "index.md"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("---\ntitle: X\n---\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		for _, batch := range c.snapshot() {
			if slices.Contains(batch, "a.md") && slices.Contains(batch, "b.md") && slices.Contains(batch, "index.md") {
				return true
			}
		}
		return false
	}, "three rapid writes did not coalesce into one pass")
}

func TestNewDirWatched(t *testing.T) {
	root := t.TempDir()
	c := &collector{}
	startWatcher(t, root, c)

	sub := filepath.Join(root, "notes")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "deep.md"), []byte("deep"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		for _, batch := range c.snapshot() {
			if slices.Contains(batch, "notes/deep.md") {
				return true
			}
		}
		return false
	}, "file in a directory created after startup never reached a pass")
}

func TestHiddenPathsIgnored(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".quire"), 0o755); err != nil {
		t.Fatal(err)
	}
	c := &collector{}
	startWatcher(t, root, c)

	if err := os.WriteFile(filepath.Join(root, ".quire", "history.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "seen.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		for _, batch := range c.snapshot() {
			if slices.Contains(batch, "seen.md") {
				return true
			}
		}
		return false
	}, "visible file never reached a pass")

	for _, batch := range c.snapshot() {
		for _, p := range batch {
			if p == ".quire/history.jsonl" {
				t.Errorf("hidden path leaked into pass: %v", batch)
			}
		}
	}
}

func TestHiddenPath(t *testing.T) {
	tests := []struct {
		name string
		rel  string
		want bool
	}{
		{name: "Plain", rel: "a.md", want: false},
		{name: "Nested", rel: "notes/a.md", want: false},
		{name: "DotFile", rel: ".env", want: true},
		{name: "DotDir", rel: ".git/config", want: true},
		{name: "DeepDotDir", rel: "notes/.obsidian/app.json", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hiddenPath(tt.rel); got != tt.want {
				t.Errorf("hiddenPath(%q) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}
