package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Local uses a source tree already on disk.
type Local struct{}

func (Local) Name() string { return "local" }

func (Local) Priority(req Request) int {
	for _, u := range req.URLs {
		if _, ok := localPath(u); ok {
			return 1000
		}
	}
	return -1
}

func localPath(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	u = strings.TrimPrefix(u, "scm:file:")
	if rest, ok := strings.CutPrefix(u, "file://"); ok {
		u = rest
	}
	if !filepath.IsAbs(u) {
		return "", false
	}
	return filepath.Clean(u), true
}

// Retrieve returns the first existing directory among the request's URLs.
// The tree is used in place; staging copies it.
func (Local) Retrieve(_ context.Context, req Request) (Checkout, error) {
	for _, u := range req.URLs {
		p, ok := localPath(u)
		if !ok {
			continue
		}
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return Checkout{Location: strings.TrimSpace(u), Dir: p}, nil
		}
	}
	return Checkout{}, nil
}
