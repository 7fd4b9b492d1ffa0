package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// Git clones git repositories and checks out the tag matching the
// requested version when one exists.
type Git struct {
	Log *zap.Logger
}

func (g *Git) Name() string { return "git" }

func (g *Git) Priority(req Request) int {
	for _, u := range req.URLs {
		if _, ok := gitURL(u); ok {
			return 100
		}
	}
	return -1
}

// gitURL extracts a clonable URL from an SCM connection string or a URL
// that plainly names a git repository.
func gitURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(u, "scm:git:"); ok {
		return rest, rest != ""
	}
	if strings.HasPrefix(u, "scm:") {
		return "", false
	}
	switch {
	case strings.HasPrefix(u, "git://"), strings.HasPrefix(u, "git@"), strings.HasPrefix(u, "ssh://"):
		return u, true
	case strings.HasSuffix(u, ".git") && (strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "file://")):
		return u, true
	}
	for _, host := range []string{"https://github.com/", "https://gitlab.com/", "https://bitbucket.org/", "https://codeberg.org/"} {
		if rest, ok := strings.CutPrefix(u, host); ok {
			// web URLs like https://github.com/org/repo/tree/main
			parts := strings.SplitN(rest, "/", 3)
			if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
				return host + parts[0] + "/" + strings.TrimSuffix(parts[1], ".git") + ".git", true
			}
		}
	}
	return "", false
}

// tagCandidates lists tag names that commonly mark a release, most
// specific first.
func tagCandidates(req Request) []string {
	var out []string
	seen := map[string]bool{}
	add := func(t string) {
		if t != "" && t != "HEAD" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	add(req.Tag)
	v, name := req.Coordinate.Version, req.Coordinate.Name
	if v != "" {
		add("v" + v)
		add(name + "-" + v)
		add(v)
		add("release-" + v)
	}
	return out
}

// Retrieve clones each git URL in turn. A clone failure moves on to the next
// URL; a repository without a matching tag is used at its default head.
func (g *Git) Retrieve(ctx context.Context, req Request) (Checkout, error) {
	log := g.Log
	if log == nil {
		log = zap.NewNop()
	}
	var errs []error
	for i, raw := range req.URLs {
		url, ok := gitURL(raw)
		if !ok {
			continue
		}
		dir := filepath.Join(req.Dir, fmt.Sprintf("git-%d", i))
		repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url, Tags: git.AllTags})
		if err != nil {
			errs = append(errs, fmt.Errorf("clone %s: %w", url, err))
			continue
		}
		ref, err := checkoutRelease(repo, tagCandidates(req))
		if err != nil {
			return Checkout{}, fmt.Errorf("checkout %s: %w", url, err)
		}
		location := url
		if ref != "" {
			location = url + "#" + ref
		} else {
			log.Warn("no release tag found, using default head", zap.Stringer("coord", req.Coordinate), zap.String("url", url))
		}
		return Checkout{Location: location, Dir: dir}, nil
	}
	return Checkout{}, errors.Join(errs...)
}

// checkoutRelease checks out the first candidate tag that resolves and
// returns its name, or "" when none does.
func checkoutRelease(repo *git.Repository, candidates []string) (string, error) {
	for _, tag := range candidates {
		h, err := repo.ResolveRevision(plumbing.Revision(plumbing.NewTagReferenceName(tag)))
		if err != nil {
			continue
		}
		wt, err := repo.Worktree()
		if err != nil {
			return "", err
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: *h, Force: true}); err != nil {
			return "", err
		}
		return tag, nil
	}
	return "", nil
}
