package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".quire", "history.jsonl")
	l, err := Open[Record](path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := l.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
	if _, ok := l.Last(); ok {
		t.Error("Last on empty log reported a record")
	}
	if got := l.Tail(5); got != nil {
		t.Errorf("Tail on empty log = %v, want nil", got)
	}
}

func TestAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".quire", "history.jsonl")
	l, err := Open[Record](path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := l.Append(Record{At: now, Op: "validate", Summary: "0 errors, 0 warnings, 3 files checked"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(Record{At: now.Add(time.Minute), Op: "fix", Summary: "2 fixed, 0 failed, 1 skipped"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	reopened, err := Open[Record](path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Len(); got != 2 {
		t.Fatalf("Len after reload = %d, want 2", got)
	}
	last, ok := reopened.Last()
	if !ok {
		t.Fatal("Last reported no record")
	}
	if last.Op != "fix" || last.Summary != "2 fixed, 0 failed, 1 skipped" {
		t.Errorf("Last = %+v", last)
	}
	if !last.At.Equal(now.Add(time.Minute)) {
		t.Errorf("Last.At = %v, want %v", last.At, now.Add(time.Minute))
	}

	var ops []string
	for r := range reopened.All() {
		ops = append(ops, r.Op)
	}
	if len(ops) != 2 || ops[0] != "validate" || ops[1] != "fix" {
		t.Errorf("All order = %v, want [validate fix]", ops)
	}
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	l, err := Open[Record](path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, op := range []string{"a", "b", "c"} {
		if err := l.Append(Record{Op: op}); err != nil {
			t.Fatalf("Append %q: %v", op, err)
		}
	}

	got := l.Tail(2)
	if len(got) != 2 || got[0].Op != "b" || got[1].Op != "c" {
		t.Errorf("Tail(2) = %+v, want ops [b c]", got)
	}
	if got := l.Tail(10); len(got) != 3 {
		t.Errorf("Tail(10) returned %d records, want 3", len(got))
	}
	if got := l.Tail(0); got != nil {
		t.Errorf("Tail(0) = %v, want nil", got)
	}
}

func TestTornTailDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	content := `{"at":"2026-01-02T15:04:05Z","op":"validate","summary":"clean"}` + "\n" + `{"at":"2026-01-02T15:0`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Open[Record](path)
	if err != nil {
		t.Fatalf("Open with torn tail: %v", err)
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	last, _ := l.Last()
	if last.Op != "validate" {
		t.Errorf("Last.Op = %q, want validate", last.Op)
	}

	// The torn bytes are cut on load, so a later append starts a
	// fresh line and survives a reload.
	if err := l.Append(Record{Op: "fix"}); err != nil {
		t.Fatalf("Append after torn tail: %v", err)
	}
	reopened, err := Open[Record](path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Len(); got != 2 {
		t.Errorf("Len after reload = %d, want 2", got)
	}
	last, _ = reopened.Last()
	if last.Op != "fix" {
		t.Errorf("Last.Op after reload = %q, want fix", last.Op)
	}
}

func TestCorruptMiddleRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	content := "not json at all\n" + `{"op":"validate"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open[Record](path); err == nil {
		t.Fatal("Open accepted a corrupt interior line")
	} else if !strings.Contains(err.Error(), "corrupt history") {
		t.Errorf("error = %v, want corrupt history", err)
	}
}

func TestBlankLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	content := "\n" + `{"op":"export"}` + "\n\n" + `{"op":"validate"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Open[Record](path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := l.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}
