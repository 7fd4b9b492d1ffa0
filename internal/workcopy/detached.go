package workcopy

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// detachedSession holds HEAD detached at the commit it pointed to when the
// session began. Close puts the original HEAD reference back, symbolic or not.
type detachedSession struct {
	repo *git.Repository
	orig *plumbing.Reference
	head plumbing.Hash
}

func detach(repo *git.Repository) (*detachedSession, error) {
	orig, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHead, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: head.Hash()}); err != nil {
		return nil, fmt.Errorf("detach at %s: %w", head.Hash(), err)
	}
	return &detachedSession{repo: repo, orig: orig, head: head.Hash()}, nil
}

func (s *detachedSession) Close() error {
	if err := s.repo.Storer.SetReference(s.orig); err != nil {
		return fmt.Errorf("restore HEAD to %s: %w", s.orig, err)
	}
	return nil
}

// withDetachedHead runs fn with HEAD detached and restores HEAD on every
// exit path. A restore failure is reported only if fn succeeded.
func withDetachedHead(repo *git.Repository, fn func(head plumbing.Hash) error) (err error) {
	s, err := detach(repo)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s.head)
}
