package workcopy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// removal is one sanitization commit: tracked files with any of the
// extensions are deleted together.
type removal struct {
	message string
	exts    []string
}

var removals = []removal{
	{
		message: "Remove prebuilt build artifacts",
		exts:    []string{".class", ".o", ".obj", ".so", ".dll", ".dylib", ".exe", ".a", ".lib", ".pyc"},
	},
	{
		message: "Remove packaged archives",
		exts:    []string{".jar", ".war", ".ear", ".aar", ".zip", ".tar", ".tgz", ".gz", ".bz2", ".xz", ".zst", ".7z", ".rar"},
	},
}

func (r removal) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range r.exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// sanitize strips prebuilt files from the current head in separate commits
// and points the work branch at the result. HEAD itself is left where it was.
func (w *WorkingCopy) sanitize(repo *git.Repository) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := ensureNoChanges(wt); err != nil {
		return err
	}
	return withDetachedHead(repo, func(head plumbing.Hash) error {
		tip := head
		for _, r := range removals {
			h, n, err := w.removeMatching(repo, wt, tip, r)
			if err != nil {
				return err
			}
			if n > 0 {
				w.log.Info("removed tracked files", zap.String("dir", w.dir), zap.String("commit", r.message), zap.Int("files", n))
				tip = h
			}
		}
		if err := repo.Storer.SetReference(plumbing.NewHashReference(w.branchRef(), tip)); err != nil {
			return fmt.Errorf("create branch %s: %w", w.branch, err)
		}
		return nil
	})
}

// ensureNoChanges fails when tracked files differ from HEAD. Untracked files
// are not changes; Clean removes them later.
func ensureNoChanges(wt *git.Worktree) error {
	st, err := wt.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	var dirty []string
	for path, fs := range st {
		if fs.Staging == git.Untracked {
			continue
		}
		if fs.Staging == git.Unmodified && (fs.Worktree == git.Unmodified || fs.Worktree == git.Untracked) {
			continue
		}
		dirty = append(dirty, path)
	}
	if len(dirty) > 0 {
		sort.Strings(dirty)
		return fmt.Errorf("%w: %s", ErrUncommittedChanges, strings.Join(dirty, ", "))
	}
	return nil
}

// removeMatching deletes the files of commit at that match r and commits.
// It returns the new head and the number of files removed; nothing is
// committed when no file matches.
func (w *WorkingCopy) removeMatching(repo *git.Repository, wt *git.Worktree, at plumbing.Hash, r removal) (plumbing.Hash, int, error) {
	commit, err := repo.CommitObject(at)
	if err != nil {
		return at, 0, err
	}
	files, err := commit.Files()
	if err != nil {
		return at, 0, err
	}
	var matched []string
	err = files.ForEach(func(f *object.File) error {
		if r.matches(f.Name) {
			matched = append(matched, f.Name)
		}
		return nil
	})
	if err != nil {
		return at, 0, err
	}
	if len(matched) == 0 {
		return at, 0, nil
	}
	for _, name := range matched {
		if _, err := wt.Remove(name); err != nil {
			return at, 0, fmt.Errorf("remove %s: %w", name, err)
		}
	}
	h, err := wt.Commit(r.message, &git.CommitOptions{Author: w.sig()})
	if err != nil {
		return at, 0, fmt.Errorf("commit %q: %w", r.message, err)
	}
	return h, len(matched), nil
}
