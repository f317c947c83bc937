package export

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/quirelabs/quire/internal/vfs"
	"github.com/quirelabs/quire/internal/workspace"
)

func newTestWS(t *testing.T, files map[string]string) *workspace.Workspace {
	t.Helper()
	fsys := vfs.Lift(vfs.NewMem())
	ctx := t.Context()
	for p, c := range files {
		if err := fsys.WriteFile(ctx, p, c); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}
	return workspace.New(fsys)
}

func includedPaths(p *Plan) []string {
	out := make([]string, 0, len(p.Included))
	for _, inc := range p.Included {
		out = append(out, inc.Path)
	}
	return out
}

func findExcluded(t *testing.T, p *Plan, path string) Excluded {
	t.Helper()
	for _, ex := range p.Excluded {
		if ex.Path == path {
			return ex
		}
	}
	t.Fatalf("%s not in excluded list: %v", path, p.Excluded)
	return Excluded{}
}

func TestAudiences(t *testing.T) {
	ws := newTestWS(t, map[string]string{
		"index.md": "---\ntitle: Root\naudience:\n  - public\ncontents:\n  - a.md\n  - b.md\n---\n",
		"a.md":     "---\ntitle: A\npart_of: index.md\naudience:\n  - internal\n  - private\n---\n",
		"b.md":     "---\ntitle: B\npart_of: index.md\n---\n",
	})
	got, err := New(ws).Audiences(t.Context(), "index.md")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"internal", "public"}
	if !slices.Equal(got, want) {
		t.Errorf("Audiences() = %v, want %v", got, want)
	}
}

func TestPlanInheritance(t *testing.T) {
	// Root carries no audience, the child grants one, the grandchild
	// inherits the child's grant rather than the root's absence.
	ws := newTestWS(t, map[string]string{
		"index.md": "---\ntitle: Root\ncontents:\n  - c.md\n---\n",
		"c.md":     "---\ntitle: C\npart_of: index.md\naudience:\n  - public\ncontents:\n  - g.md\n---\n",
		"g.md":     "---\ntitle: G\npart_of: c.md\n---\n",
	})
	plan, err := New(ws).Plan(t.Context(), "index.md", "public", "out")
	if err != nil {
		t.Fatal(err)
	}

	if got := includedPaths(plan); !slices.Equal(got, []string{"c.md", "g.md"}) {
		t.Errorf("included = %v", got)
	}
	ex := findExcluded(t, plan, "index.md")
	if ex.Reason != NoAudienceDefined {
		t.Errorf("root reason = %q", ex.Reason)
	}
	if plan.Included[0].Dest != "out/c.md" {
		t.Errorf("Dest = %q", plan.Included[0].Dest)
	}
}

func TestPlanReasons(t *testing.T) {
	t.Run("ExplicitPrivateAndOverride", func(t *testing.T) {
		ws := newTestWS(t, map[string]string{
			"index.md":  "---\ntitle: Root\naudience:\n  - public\ncontents:\n  - vault.md\n---\n",
			"vault.md":  "---\ntitle: Vault\npart_of: index.md\naudience:\n  - private\ncontents:\n  - silent.md\n  - loud.md\n---\n",
			"silent.md": "---\ntitle: Silent\npart_of: vault.md\n---\n",
			"loud.md":   "---\ntitle: Loud\npart_of: vault.md\naudience:\n  - public\n---\n",
		})
		plan, err := New(ws).Plan(t.Context(), "index.md", "public", "")
		if err != nil {
			t.Fatal(err)
		}
		if got := includedPaths(plan); !slices.Equal(got, []string{"index.md", "loud.md"}) {
			t.Errorf("included = %v", got)
		}
		if ex := findExcluded(t, plan, "vault.md"); ex.Reason != ExplicitlyPrivate {
			t.Errorf("vault reason = %q", ex.Reason)
		}
		ex := findExcluded(t, plan, "silent.md")
		if ex.Reason != InheritedPrivate {
			t.Errorf("silent reason = %q", ex.Reason)
		}
		if !slices.Equal(ex.Tags, []string{"private"}) {
			t.Errorf("silent tags = %v", ex.Tags)
		}
	})

	t.Run("Mismatch", func(t *testing.T) {
		ws := newTestWS(t, map[string]string{
			"index.md": "---\ntitle: Root\naudience:\n  - internal\ncontents:\n  - a.md\n---\n",
			"a.md":     "---\ntitle: A\npart_of: index.md\n---\n",
		})
		plan, err := New(ws).Plan(t.Context(), "index.md", "public", "")
		if err != nil {
			t.Fatal(err)
		}
		ex := findExcluded(t, plan, "index.md")
		if ex.Reason != AudienceMismatch || !slices.Equal(ex.Tags, []string{"internal"}) || ex.Requested != "public" {
			t.Errorf("root exclusion = %+v", ex)
		}
		// The child inherits the mismatching list, not privacy.
		if ex := findExcluded(t, plan, "a.md"); ex.Reason != AudienceMismatch {
			t.Errorf("child reason = %q", ex.Reason)
		}
	})

	t.Run("InheritedPrivateFromUndefined", func(t *testing.T) {
		ws := newTestWS(t, map[string]string{
			"index.md": "---\ntitle: Root\ncontents:\n  - a.md\n---\n",
			"a.md":     "---\ntitle: A\npart_of: index.md\n---\n",
		})
		plan, err := New(ws).Plan(t.Context(), "index.md", "public", "")
		if err != nil {
			t.Fatal(err)
		}
		if ex := findExcluded(t, plan, "a.md"); ex.Reason != InheritedPrivate {
			t.Errorf("reason = %q", ex.Reason)
		}
	})
}

func TestPlanPrunesExcludedRefs(t *testing.T) {
	ws := newTestWS(t, map[string]string{
		"index.md": "---\ntitle: Root\naudience:\n  - public\ncontents:\n  - pub.md\n  - priv.md\n  - gone.md\n---\n",
		"pub.md":   "---\ntitle: Pub\npart_of: index.md\naudience:\n  - public\n---\n",
		"priv.md":  "---\ntitle: Priv\npart_of: index.md\naudience:\n  - private\n---\n",
	})
	plan, err := New(ws).Plan(t.Context(), "index.md", "public", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := includedPaths(plan); !slices.Equal(got, []string{"index.md", "pub.md"}) {
		t.Fatalf("included = %v", got)
	}
	want := []string{"priv.md", "gone.md"}
	if got := plan.Included[0].Strip; !slices.Equal(got, want) {
		t.Errorf("Strip = %v, want %v", got, want)
	}
}

func TestWildcard(t *testing.T) {
	ws := newTestWS(t, map[string]string{
		"index.md": "---\ntitle: Root\ncontents:\n  - a.md\n  - b.md\n---\n",
		"a.md":     "---\ntitle: A\npart_of: index.md\naudience:\n  - private\n---\n\nSecret body.\n",
		"b.md":     "---\ntitle: B\npart_of: index.md\n---\n",
	})
	x := New(ws)
	ctx := t.Context()

	plan, err := x.Plan(ctx, "index.md", Wildcard, "pub")
	if err != nil {
		t.Fatal(err)
	}
	if got := includedPaths(plan); !slices.Equal(got, []string{"index.md", "a.md", "b.md"}) {
		t.Fatalf("included = %v", got)
	}
	if len(plan.Excluded) != 0 {
		t.Fatalf("excluded = %v, want none", plan.Excluded)
	}

	stats, err := x.Execute(ctx, ws.FS(), plan, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Exported != 3 || stats.Excluded != 0 {
		t.Errorf("stats = %+v", stats)
	}
	out, err := ws.FS().ReadFile(ctx, "pub/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "audience") {
		t.Errorf("audience survived the export:\n%s", out)
	}
	if !strings.Contains(out, "Secret body.") {
		t.Errorf("body lost:\n%s", out)
	}

	t.Run("KeepAudience", func(t *testing.T) {
		stats, err := x.Execute(ctx, ws.FS(), plan, Options{Force: true, KeepAudience: true})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Exported != 3 {
			t.Errorf("stats = %+v", stats)
		}
		out, err := ws.FS().ReadFile(ctx, "pub/a.md")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "audience") {
			t.Errorf("audience dropped despite KeepAudience:\n%s", out)
		}
	})
}

func TestExecute(t *testing.T) {
	ws := newTestWS(t, map[string]string{
		"index.md": "---\ntitle: Root\naudience:\n  - public\ncontents:\n  - pub.md\n  - priv.md\n---\n\n# Root\n",
		"pub.md":   "---\ntitle: Pub\npart_of: index.md\naudience:\n  - public\nattachments:\n  - img.png\n  - gone.png\n---\n",
		"priv.md":  "---\ntitle: Priv\npart_of: index.md\naudience:\n  - private\n---\n",
	})
	ctx := t.Context()
	imgData := []byte{0x89, 0x50, 0x4e, 0x47}
	if err := ws.FS().WriteBinary(ctx, "img.png", imgData); err != nil {
		t.Fatal(err)
	}
	x := New(ws)

	plan, err := x.Plan(ctx, "index.md", "public", "out")
	if err != nil {
		t.Fatal(err)
	}
	stats, err := x.Execute(ctx, ws.FS(), plan, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Exported: 2, Excluded: 1, Attachments: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	t.Run("PrunedIndex", func(t *testing.T) {
		idx, err := ws.Load(ctx, "out/index.md")
		if err != nil {
			t.Fatal(err)
		}
		if got := idx.Contents(); !slices.Equal(got, []string{"pub.md"}) {
			t.Errorf("exported contents = %v, want only pub.md", got)
		}
		if _, ok := idx.Audience(); ok {
			t.Error("audience survived")
		}
	})

	t.Run("AttachmentCopied", func(t *testing.T) {
		data, err := ws.FS().ReadBinary(ctx, "out/img.png")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(data, imgData) {
			t.Errorf("binary = %v, want %v", data, imgData)
		}
		if ok, _ := ws.FS().Exists(ctx, "out/gone.png"); ok {
			t.Error("phantom attachment materialized")
		}
	})

	t.Run("ExistingDestination", func(t *testing.T) {
		if _, err := x.Execute(ctx, ws.FS(), plan, Options{}); !errors.Is(err, vfs.ErrExists) {
			t.Errorf("re-export without force = %v, want ErrExists", err)
		}
		if _, err := x.Execute(ctx, ws.FS(), plan, Options{Force: true}); err != nil {
			t.Errorf("re-export with force failed: %v", err)
		}
	})
}
