package hostfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"testing"

	"github.com/quirelabs/quire/internal/vfs"
)

// hostStore simulates a flat host-side object store driven through callbacks.
type hostStore struct {
	files map[string]string
	bins  map[string][]byte
}

func newHostStore() *hostStore {
	return &hostStore{files: map[string]string{}, bins: map[string][]byte{}}
}

func (h *hostStore) has(p string) bool {
	if _, ok := h.files[p]; ok {
		return true
	}
	_, ok := h.bins[p]
	return ok
}

func (h *hostStore) isDir(p string) bool {
	if p == "" || p == "." {
		return true
	}
	prefix := p + "/"
	for k := range h.files {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	for k := range h.bins {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (h *hostStore) list(dir string) []string {
	prefix := ""
	if dir != "" && dir != "." {
		prefix = dir + "/"
	}
	seen := map[string]bool{}
	for _, m := range []map[string]bool{keys(h.files), keys(h.bins)} {
		for k := range m {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			rest := strings.TrimPrefix(k, prefix)
			if seg, _, nested := strings.Cut(rest, "/"); nested {
				seen[path.Join(dir, seg)] = true
			} else {
				seen[k] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func keys[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// table returns the full callback set backed by the store.
func (h *hostStore) table() map[string]Callback {
	return map[string]Callback{
		OpReadToString: func(args ...any) (any, error) {
			p := args[0].(string)
			s, ok := h.files[p]
			if !ok {
				return nil, fmt.Errorf("no such file: %s", p)
			}
			return s, nil
		},
		OpWriteFile: func(args ...any) (any, error) {
			h.files[args[0].(string)] = args[1].(string)
			return nil, nil
		},
		OpDeleteFile: func(args ...any) (any, error) {
			p := args[0].(string)
			if !h.has(p) {
				return nil, fmt.Errorf("no such file: %s", p)
			}
			delete(h.files, p)
			delete(h.bins, p)
			return nil, nil
		},
		OpExists: func(args ...any) (any, error) {
			p := args[0].(string)
			return h.has(p) || h.isDir(p), nil
		},
		OpIsDir: func(args ...any) (any, error) {
			return h.isDir(args[0].(string)), nil
		},
		OpMoveFile: func(args ...any) (any, error) {
			from, to := args[0].(string), args[1].(string)
			s, ok := h.files[from]
			if !ok {
				return nil, fmt.Errorf("no such file: %s", from)
			}
			if h.has(to) {
				return nil, fmt.Errorf("destination exists: %s", to)
			}
			h.files[to] = s
			delete(h.files, from)
			return nil, nil
		},
		OpListFiles: func(args ...any) (any, error) {
			out := h.list(args[0].(string))
			anys := make([]any, len(out))
			for i, s := range out {
				anys[i] = s
			}
			return anys, nil
		},
		OpReadBinary: func(args ...any) (any, error) {
			p := args[0].(string)
			b, ok := h.bins[p]
			if !ok {
				return nil, fmt.Errorf("no such file: %s", p)
			}
			return b, nil
		},
		OpWriteBinary: func(args ...any) (any, error) {
			h.bins[args[0].(string)] = append([]byte(nil), args[1].([]byte)...)
			return nil, nil
		},
	}
}

// settled is an Awaitable that is already resolved.
type settled struct {
	v   any
	err error
}

func (s settled) Await(context.Context) (any, error) { return s.v, s.err }

// asAsync wraps every callback so its result arrives through an Awaitable.
func asAsync(table map[string]Callback) map[string]Callback {
	out := make(map[string]Callback, len(table))
	for name, cb := range table {
		out[name] = func(args ...any) (any, error) {
			v, err := cb(args...)
			if err != nil {
				return settled{err: err}, nil
			}
			return settled{v: v}, nil
		}
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	variants := []struct {
		name string
		make func(h *hostStore) FS
	}{
		{"sync-callbacks", func(h *hostStore) FS { return New(h.table()) }},
		{"async-callbacks", func(h *hostStore) FS { return New(asAsync(h.table())) }},
	}
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			ctx := t.Context()
			h := newHostStore()
			fsys := v.make(h)
			if err := fsys.WriteFile(ctx, "notes/a.md", "alpha"); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := fsys.ReadFile(ctx, "notes/a.md")
			if err != nil || got != "alpha" {
				t.Fatalf("ReadFile = %q, %v", got, err)
			}
			if ok, err := fsys.Exists(ctx, "notes/a.md"); err != nil || !ok {
				t.Fatalf("Exists = %t, %v", ok, err)
			}
			if ok, err := fsys.IsDir(ctx, "notes"); err != nil || !ok {
				t.Fatalf("IsDir(notes) = %t, %v", ok, err)
			}
			if err := fsys.Move(ctx, "notes/a.md", "notes/b.md"); err != nil {
				t.Fatalf("Move: %v", err)
			}
			if ok, _ := fsys.Exists(ctx, "notes/a.md"); ok {
				t.Fatal("source survived the move")
			}
			if err := fsys.DeleteFile(ctx, "notes/b.md"); err != nil {
				t.Fatalf("DeleteFile: %v", err)
			}
			if _, err := fsys.ReadFile(ctx, "notes/b.md"); err == nil {
				t.Fatal("read after delete succeeded")
			}
		})
	}
}

func TestMissingCallbackIsUnsupported(t *testing.T) {
	ctx := t.Context()
	fsys := New(map[string]Callback{})
	_, err := fsys.ReadFile(ctx, "a.md")
	if !errors.Is(err, vfs.ErrUnsupported) {
		t.Fatalf("ReadFile = %v, want ErrUnsupported", err)
	}
	var oe *vfs.OpError
	if !errors.As(err, &oe) || oe.Op != OpReadToString {
		t.Fatalf("error should carry the operation name, got %v", err)
	}
	if err := fsys.Move(ctx, "a.md", "b.md"); !errors.Is(err, vfs.ErrUnsupported) {
		t.Fatalf("Move = %v, want ErrUnsupported", err)
	}
	if _, err := fsys.ReadBinary(ctx, "x.bin"); !errors.Is(err, vfs.ErrUnsupported) {
		t.Fatalf("ReadBinary = %v, want ErrUnsupported", err)
	}
}

func TestCreateNewEmulation(t *testing.T) {
	ctx := t.Context()
	h := newHostStore()
	table := h.table() // no create_new callback in the set
	fsys := New(table)
	if err := fsys.CreateNew(ctx, "a.md", "first"); err != nil {
		t.Fatalf("CreateNew: %v", err)
	}
	err := fsys.CreateNew(ctx, "a.md", "second")
	if !errors.Is(err, vfs.ErrExists) {
		t.Fatalf("second CreateNew = %v, want ErrExists", err)
	}
	if h.files["a.md"] != "first" {
		t.Fatalf("content clobbered: %q", h.files["a.md"])
	}

	t.Run("native callback wins", func(t *testing.T) {
		called := false
		table[OpCreateNew] = func(args ...any) (any, error) {
			called = true
			h.files[args[0].(string)] = args[1].(string)
			return nil, nil
		}
		fsys := New(table)
		if err := fsys.CreateNew(ctx, "b.md", "x"); err != nil {
			t.Fatal(err)
		}
		if !called {
			t.Fatal("native create_new was not used")
		}
	})
}

func TestMkdirAllFallsBackToSilentSuccess(t *testing.T) {
	ctx := t.Context()
	fsys := New(map[string]Callback{})
	if err := fsys.MkdirAll(ctx, "a/b/c"); err != nil {
		t.Fatalf("MkdirAll without callback = %v, want nil", err)
	}
	called := ""
	fsys = New(map[string]Callback{
		OpCreateDirAll: func(args ...any) (any, error) {
			called = args[0].(string)
			return nil, nil
		},
	})
	if err := fsys.MkdirAll(ctx, "a/b"); err != nil {
		t.Fatal(err)
	}
	if called != "a/b" {
		t.Fatalf("callback saw %q, want a/b", called)
	}
}

func TestListMarkdownFallbackFilters(t *testing.T) {
	ctx := t.Context()
	h := newHostStore()
	h.files["a.md"] = "x"
	h.files["b.txt"] = "y"
	h.files["c.MD"] = "z"
	fsys := New(h.table())
	got, err := fsys.ListMarkdown(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(got)
	if want := []string{"a.md", "c.MD"}; !slices.Equal(got, want) {
		t.Fatalf("ListMarkdown = %v, want %v", got, want)
	}
}

func TestByteFunnel(t *testing.T) {
	ctx := t.Context()
	for _, tc := range []struct {
		name string
		ret  any
		want []byte
		ok   bool
	}{
		{"typed bytes", []byte{1, 2, 255}, []byte{1, 2, 255}, true},
		{"generic ints", []any{int64(72), int64(105)}, []byte{72, 105}, true},
		{"generic floats", []any{float64(10), float64(0)}, []byte{10, 0}, true},
		{"float slice", []float64{7, 8}, []byte{7, 8}, true},
		{"out of range", []any{int64(300)}, nil, false},
		{"fractional", []any{float64(1.5)}, nil, false},
		{"wrong shape", "not bytes", nil, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fsys := New(map[string]Callback{
				OpReadBinary: func(...any) (any, error) { return tc.ret, nil },
			})
			got, err := fsys.ReadBinary(ctx, "blob")
			if tc.ok {
				if err != nil {
					t.Fatalf("ReadBinary: %v", err)
				}
				if !slices.Equal(got, tc.want) {
					t.Fatalf("ReadBinary = %v, want %v", got, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("ReadBinary = %v, want funnel error", got)
			}
		})
	}
}

func TestCallbackFailuresAreStringified(t *testing.T) {
	ctx := t.Context()
	fsys := New(map[string]Callback{
		OpReadToString: func(...any) (any, error) {
			return nil, errors.New("host exploded")
		},
		OpExists: func(...any) (any, error) {
			return settled{err: errors.New("rejected later")}, nil
		},
	})
	_, err := fsys.ReadFile(ctx, "a.md")
	if err == nil || !strings.Contains(err.Error(), "host exploded") {
		t.Fatalf("ReadFile error = %v, want stringified host failure", err)
	}
	_, err = fsys.Exists(ctx, "a.md")
	if err == nil || !strings.Contains(err.Error(), "rejected later") {
		t.Fatalf("Exists error = %v, want stringified rejection", err)
	}
}

func TestTableIsolationAndSharing(t *testing.T) {
	ctx := t.Context()
	h := newHostStore()
	table := h.table()
	fsys := New(table)
	// Later mutation of the caller's map must not reach the adapter.
	delete(table, OpReadToString)
	h.files["a.md"] = "still here"
	if got, err := fsys.ReadFile(ctx, "a.md"); err != nil || got != "still here" {
		t.Fatalf("adapter affected by caller mutation: %q, %v", got, err)
	}
	// Copies of the adapter observe the same table and store.
	clone := fsys
	if err := clone.WriteFile(ctx, "b.md", "via clone"); err != nil {
		t.Fatal(err)
	}
	if got, _ := fsys.ReadFile(ctx, "b.md"); got != "via clone" {
		t.Fatalf("original does not see the clone's write: %q", got)
	}
}

func TestRecursiveHelpersOverHost(t *testing.T) {
	ctx := t.Context()
	h := newHostStore()
	h.files["index.md"] = "root"
	h.files["notes/a.md"] = "a"
	h.files["notes/deep/b.md"] = "b"
	h.bins["assets/logo.png"] = []byte{1}
	fsys := New(h.table())
	got, err := vfs.ListMarkdownRecursive(ctx, fsys, "")
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(got)
	want := []string{"index.md", "notes/a.md", "notes/deep/b.md"}
	if !slices.Equal(got, want) {
		t.Fatalf("ListMarkdownRecursive = %v, want %v", got, want)
	}
}
