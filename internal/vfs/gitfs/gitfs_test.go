package gitfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quirelabs/quire/internal/vfs"
)

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("Init", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()

		s, err := Open(dir)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
			t.Error(".git directory not created")
		}
		commits, err := s.Log("", 10)
		if err != nil {
			t.Fatalf("Log() failed: %v", err)
		}
		if len(commits) != 0 {
			t.Errorf("fresh empty repo has %d commits, want 0", len(commits))
		}
	})

	t.Run("InitialImport", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "index.md"), []byte("---\ntitle: T\n---\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		s, err := Open(dir)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		commits, err := s.Log("", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(commits) != 1 {
			t.Fatalf("expected 1 commit, got %d", len(commits))
		}
		if commits[0].Subject != "quire: initial import" {
			t.Errorf("subject = %q", commits[0].Subject)
		}
	})

	t.Run("CommitPerWrite", func(t *testing.T) {
		t.Parallel()
		s, err := Open(t.TempDir(), WithAuthor("Test User", "test@example.com"))
		if err != nil {
			t.Fatal(err)
		}

		if err := s.WriteFile("a.md", "one"); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		if err := s.WriteFile("sub/b.md", "two"); err != nil {
			t.Fatalf("WriteFile(sub) failed: %v", err)
		}

		commits, err := s.Log("", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(commits) != 2 {
			t.Fatalf("expected 2 commits, got %d", len(commits))
		}
		if commits[0].Subject != "quire: write sub/b.md" {
			t.Errorf("newest subject = %q", commits[0].Subject)
		}
		if commits[0].Author != "Test User" || commits[0].Email != "test@example.com" {
			t.Errorf("author = %q <%s>", commits[0].Author, commits[0].Email)
		}
	})

	t.Run("IdenticalRewriteSkipsCommit", func(t *testing.T) {
		t.Parallel()
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFile("a.md", "same"); err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFile("a.md", "same"); err != nil {
			t.Fatal(err)
		}
		commits, _ := s.Log("", 10)
		if len(commits) != 1 {
			t.Errorf("expected 1 commit after identical rewrite, got %d", len(commits))
		}
	})

	t.Run("MoveCommitsBothSides", func(t *testing.T) {
		t.Parallel()
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFile("a.md", "body"); err != nil {
			t.Fatal(err)
		}
		if err := s.MkdirAll("sub"); err != nil {
			t.Fatal(err)
		}
		if err := s.Move("a.md", "sub/a.md"); err != nil {
			t.Fatalf("Move() failed: %v", err)
		}

		if ok, _ := s.Exists("a.md"); ok {
			t.Error("source still exists after move")
		}
		got, err := s.ReadFile("sub/a.md")
		if err != nil || got != "body" {
			t.Fatalf("ReadFile(dest) = %q, %v", got, err)
		}
		commits, _ := s.Log("", 10)
		if len(commits) != 2 {
			t.Fatalf("expected 2 commits, got %d", len(commits))
		}
		if commits[0].Subject != "quire: move a.md to sub/a.md" {
			t.Errorf("subject = %q", commits[0].Subject)
		}
		data, err := s.FileAt("HEAD", "sub/a.md")
		if err != nil {
			t.Fatalf("FileAt() failed: %v", err)
		}
		if string(data) != "body" {
			t.Errorf("FileAt = %q", data)
		}
	})

	t.Run("DeleteCommitsRemoval", func(t *testing.T) {
		t.Parallel()
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFile("a.md", "x"); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteFile("a.md"); err != nil {
			t.Fatalf("DeleteFile() failed: %v", err)
		}
		if ok, _ := s.Exists("a.md"); ok {
			t.Error("file still exists after delete")
		}
		commits, _ := s.Log("", 10)
		if len(commits) != 2 || commits[0].Subject != "quire: delete a.md" {
			t.Errorf("log = %+v", commits)
		}
		if _, err := s.FileAt("HEAD", "a.md"); err == nil {
			t.Error("FileAt(HEAD) found deleted file")
		}
	})

	t.Run("LogPerPath", func(t *testing.T) {
		t.Parallel()
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFile("a.md", "a"); err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFile("b.md", "b"); err != nil {
			t.Fatal(err)
		}
		commits, err := s.Log("a.md", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(commits) != 1 {
			t.Fatalf("expected 1 commit for a.md, got %d", len(commits))
		}
		if commits[0].Subject != "quire: write a.md" {
			t.Errorf("subject = %q", commits[0].Subject)
		}
	})

	t.Run("Reopen", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s, err := Open(dir)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFile("a.md", "v1"); err != nil {
			t.Fatal(err)
		}

		s2, err := Open(dir)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		commits, _ := s2.Log("", 10)
		if len(commits) != 1 {
			t.Errorf("history lost on reopen: %d commits", len(commits))
		}
		if err := s2.WriteFile("a.md", "v2"); err != nil {
			t.Fatal(err)
		}
		commits, _ = s2.Log("", 10)
		if len(commits) != 2 {
			t.Errorf("expected 2 commits after reopen write, got %d", len(commits))
		}
	})

	t.Run("CreateNewExclusive", func(t *testing.T) {
		t.Parallel()
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := s.CreateNew("a.md", "first"); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateNew("a.md", "second"); !errors.Is(err, vfs.ErrExists) {
			t.Errorf("CreateNew over existing = %v, want ErrExists", err)
		}
		commits, _ := s.Log("", 10)
		if len(commits) != 1 {
			t.Errorf("failed CreateNew produced a commit: %d", len(commits))
		}
	})
}
