// Package gitfs stores a workspace inside a git repository using go-git
// (pure Go, no git binary dependency). Every mutating operation produces
// one commit, so the repository history doubles as an audit trail of the
// workspace. Reads go straight to the working directory.
package gitfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/quirelabs/quire/internal/vfs"
)

// Store is a Sync filesystem backed by a git working directory. Mutations
// are staged and committed before they return; a mutation that leaves the
// worktree clean (an identical rewrite) produces no commit.
type Store struct {
	*vfs.OS
	repo  *gogit.Repository
	name  string
	email string
	mu    sync.Mutex
}

var (
	_ vfs.Sync                = (*Store)(nil)
	_ vfs.SyncRecursiveLister = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithAuthor sets the commit signature used for every commit.
func WithAuthor(name, email string) Option {
	return func(s *Store) {
		s.name = name
		s.email = email
	}
}

// Open opens the git repository at dir, initializing one if none exists.
// When initializing over a directory that already has files, the existing
// content is committed as an initial import so history starts from the
// state found on disk.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo directory: %w", err)
	}

	s := &Store{
		OS:    vfs.NewOS(dir),
		name:  "quire",
		email: "quire@localhost",
	}
	for _, o := range opts {
		o(s)
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if !errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("open git repo: %w", err)
		}
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("read git config: %w", err)
		}
		cfg.User.Name = s.name
		cfg.User.Email = s.email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("write git config: %w", err)
		}
		s.repo = repo
		if err := s.commit("quire: initial import", "."); err != nil {
			return nil, err
		}
		return s, nil
	}
	s.repo = repo
	return s, nil
}

// WriteFile writes and commits.
func (s *Store) WriteFile(p, content string) error {
	if err := s.OS.WriteFile(p, content); err != nil {
		return err
	}
	return s.commit("quire: write "+gitPath(p), gitPath(p))
}

// CreateNew creates exclusively and commits.
func (s *Store) CreateNew(p, content string) error {
	if err := s.OS.CreateNew(p, content); err != nil {
		return err
	}
	return s.commit("quire: create "+gitPath(p), gitPath(p))
}

// DeleteFile deletes and commits the removal.
func (s *Store) DeleteFile(p string) error {
	if err := s.OS.DeleteFile(p); err != nil {
		return err
	}
	return s.commit("quire: delete "+gitPath(p), gitPath(p))
}

// Move renames and commits both sides of the rename.
func (s *Store) Move(from, to string) error {
	if err := s.OS.Move(from, to); err != nil {
		return err
	}
	msg := fmt.Sprintf("quire: move %s to %s", gitPath(from), gitPath(to))
	return s.commit(msg, gitPath(from), gitPath(to))
}

// WriteBinary writes raw bytes and commits.
func (s *Store) WriteBinary(p string, data []byte) error {
	if err := s.OS.WriteBinary(p, data); err != nil {
		return err
	}
	return s.commit("quire: write "+gitPath(p), gitPath(p))
}

// commit stages paths and commits them. Staging a path that no longer
// exists records its deletion. A clean worktree is not an error; the
// commit is simply skipped.
func (s *Store) commit(msg string, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	for _, p := range paths {
		if _, err := w.Add(p); err != nil {
			return fmt.Errorf("stage %s: %w", p, err)
		}
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	sig := &object.Signature{Name: s.name, Email: s.email, When: time.Now()}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Commit is one entry of the repository history.
type Commit struct {
	Hash    string    `json:"hash"`
	Subject string    `json:"subject"`
	Body    string    `json:"body,omitempty"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	When    time.Time `json:"when"`
}

// Log returns up to n commits, newest first. A non-empty path restricts
// the history to commits touching that path. An empty repository yields
// an empty history, not an error.
func (s *Store) Log(p string, n int) ([]Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}

	opts := &gogit.LogOptions{}
	if gp := gitPath(p); gp != "" && gp != "." {
		opts.FileName = &gp
	}

	iter, err := s.repo.Log(opts)
	if err != nil {
		return nil, nil
	}
	defer iter.Close()

	var commits []Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Subject: subject,
			Body:    strings.TrimSpace(body),
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

// FileAt retrieves the content of a file at a specific commit. The hash
// "HEAD" resolves to the current head commit.
func (s *Store) FileAt(hash, p string) ([]byte, error) {
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := s.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}

	c, err := s.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", hash, err)
	}
	f, err := c.File(gitPath(p))
	if err != nil {
		return nil, fmt.Errorf("file %s at %s: %w", p, hash, err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("open file at commit: %w", err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// gitPath normalizes a workspace path to the slash-separated repo-relative
// form go-git expects.
func gitPath(p string) string {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "." {
		return ""
	}
	return p
}
