// Package workcopy stages source trees into git-backed working copies. A
// working copy carries a dedicated work branch whose history records the
// original import and the removal of prebuilt artifacts.
package workcopy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	cp "github.com/otiai10/copy"
	"go.uber.org/zap"
)

// DefaultBranch is the work branch name used when none is configured.
const DefaultBranch = "refinery"

var (
	ErrBareRepository     = errors.New("working copy: repository is bare")
	ErrNoHead             = errors.New("working copy: repository has no resolvable head")
	ErrUncommittedChanges = errors.New("working copy: uncommitted changes present")
	ErrNotInitialized     = errors.New("working copy: not initialized")
)

// vcsMetadata names directories that are never imported.
var vcsMetadata = map[string]struct{}{
	".git": {}, ".svn": {}, ".hg": {}, ".bzr": {}, "CVS": {},
}

// WorkingCopy is an on-disk, git-backed directory owned by one orchestration.
type WorkingCopy struct {
	dir    string
	branch string
	origin string
	log    *zap.Logger
	sig    func() *object.Signature
	repo   *git.Repository
}

// Option configures a WorkingCopy.
type Option func(*WorkingCopy)

// WithBranch overrides the work branch name.
func WithBranch(name string) Option { return func(w *WorkingCopy) { w.branch = name } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(w *WorkingCopy) { w.log = l } }

// WithSignature sets the author used for import and sanitization commits.
func WithSignature(name, email string) Option {
	return func(w *WorkingCopy) {
		w.sig = func() *object.Signature {
			return &object.Signature{Name: name, Email: email, When: time.Now()}
		}
	}
}

// New returns an unbound working copy rooted at dir.
func New(dir string, opts ...Option) *WorkingCopy {
	w := &WorkingCopy{dir: dir, branch: DefaultBranch, log: zap.NewNop()}
	WithSignature("source-refinery", "refinery@localhost")(w)
	for _, o := range opts {
		o(w)
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	return w
}

// Stage copies src into dir, history included, and initializes it.
func Stage(src, dir, origin string, opts ...Option) (*WorkingCopy, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, err
	}
	err := cp.Copy(src, dir, cp.Options{
		OnSymlink:     func(string) cp.SymlinkAction { return cp.Shallow },
		PreserveTimes: true,
	})
	if err != nil {
		return nil, fmt.Errorf("copy %s to %s: %w", src, dir, err)
	}
	w := New(dir, opts...)
	if err := w.Initialize(origin); err != nil {
		return nil, err
	}
	return w, nil
}

// Exists reports whether dir already holds a git repository.
func Exists(dir string) bool {
	_, err := git.PlainOpen(dir)
	return err == nil
}

func (w *WorkingCopy) Dir() string    { return w.dir }
func (w *WorkingCopy) Branch() string { return w.branch }
func (w *WorkingCopy) Origin() string { return w.origin }

func (w *WorkingCopy) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(w.branch)
}

// Initialize binds the working copy to its repository, creating one from
// the directory contents if needed, and leaves the work branch checked out
// and clean. Sanitization happens only when the work branch does not exist
// yet; files added on the branch afterwards are left alone.
func (w *WorkingCopy) Initialize(origin string) error {
	log := w.log.With(zap.String("dir", w.dir), zap.String("origin", origin))
	repo, err := w.open(origin)
	if err != nil {
		return err
	}
	_, err = repo.Reference(w.branchRef(), true)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		log.Info("sanitizing working copy", zap.String("branch", w.branch))
		if err := w.sanitize(repo); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("read branch %s: %w", w.branch, err)
	default:
		log.Debug("work branch present, skipping sanitization", zap.String("branch", w.branch))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: w.branchRef(), Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", w.branch, err)
	}
	if err := recordOrigin(repo, origin); err != nil {
		return err
	}
	w.repo = repo
	w.origin = origin
	return w.Clean()
}

// Open reuses the working copy at dir with the origin recorded when it was
// first initialized.
func Open(dir string, opts ...Option) (*WorkingCopy, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	w := New(dir, opts...)
	if err := w.Initialize(recordedOrigin(repo)); err != nil {
		return nil, err
	}
	return w, nil
}

// configSection holds refinery metadata in the repository config.
const configSection = "refinery"

func recordOrigin(repo *git.Repository, origin string) error {
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if cfg.Raw.Section(configSection).Option("origin") == origin {
		return nil
	}
	cfg.Raw.Section(configSection).SetOption("origin", origin)
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("record origin: %w", err)
	}
	return nil
}

func recordedOrigin(repo *git.Repository) string {
	cfg, err := repo.Config()
	if err != nil {
		return ""
	}
	return cfg.Raw.Section(configSection).Option("origin")
}

func (w *WorkingCopy) open(origin string) (*git.Repository, error) {
	repo, err := git.PlainOpen(w.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return w.importTree(origin)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.dir, err)
	}
	if _, err := repo.Worktree(); err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return nil, fmt.Errorf("%w: %s", ErrBareRepository, w.dir)
		}
		return nil, fmt.Errorf("worktree %s: %w", w.dir, err)
	}
	if _, err := repo.Head(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoHead, w.dir, err)
	}
	return repo, nil
}

// importTree creates a repository and commits every file except VCS metadata.
func (w *WorkingCopy) importTree(origin string) (*git.Repository, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, err
	}
	repo, err := git.PlainInit(w.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", w.dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	files, err := importable(w.dir)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := wt.AddWithOptions(&git.AddOptions{Path: f, SkipStatus: true}); err != nil {
			return nil, fmt.Errorf("add %s: %w", f, err)
		}
	}
	_, err = wt.Commit(fmt.Sprintf("Import %s", origin), &git.CommitOptions{
		Author:            w.sig(),
		AllowEmptyCommits: true,
	})
	if err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	w.log.Info("imported source tree", zap.String("dir", w.dir), zap.Int("files", len(files)))
	return repo, nil
}

// importable lists regular files and symlinks under root in slash form.
func importable(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := vcsMetadata[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

// Head returns the commit at the tip of the work branch.
func (w *WorkingCopy) Head() (string, error) {
	if w.repo == nil {
		return "", ErrNotInitialized
	}
	ref, err := w.repo.Reference(w.branchRef(), true)
	if err != nil {
		return "", fmt.Errorf("read branch %s: %w", w.branch, err)
	}
	return ref.Hash().String(), nil
}

// Clean hard-resets tracked files to the work branch tip and removes every
// file and directory the tip does not track, ignored ones included.
func (w *WorkingCopy) Clean() error {
	if w.repo == nil {
		return ErrNotInitialized
	}
	ref, err := w.repo.Reference(w.branchRef(), true)
	if err != nil {
		return fmt.Errorf("read branch %s: %w", w.branch, err)
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("reset %s: %w", w.branch, err)
	}
	commit, err := w.repo.CommitObject(ref.Hash())
	if err != nil {
		return err
	}
	tracked, err := trackedPaths(commit)
	if err != nil {
		return err
	}
	return removeUntracked(w.dir, tracked)
}

// trackedPaths returns every file in the commit's tree and every directory
// leading to one.
func trackedPaths(commit *object.Commit) (map[string]struct{}, error) {
	files, err := commit.Files()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	err = files.ForEach(func(f *object.File) error {
		out[f.Name] = struct{}{}
		for dir := filepath.ToSlash(filepath.Dir(f.Name)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
			out[dir] = struct{}{}
		}
		return nil
	})
	return out, err
}

func removeUntracked(root string, tracked map[string]struct{}) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ".git" {
			return filepath.SkipDir
		}
		if _, ok := tracked[rel]; ok {
			return nil
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove untracked %s: %w", rel, err)
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
}
