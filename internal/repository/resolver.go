package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// ErrNotFound is returned when no repository has the requested file.
var ErrNotFound = errors.New("repository: not found")

// Resolver finds a coordinate's file in a local cache directory and falls
// back to remote repositories, downloading into the cache.
type Resolver struct {
	// Local is the cache directory in repository layout.
	Local    string
	Remotes  []string
	Username string
	Password string
	Client   *http.Client
	Log      *zap.Logger
}

func (r *Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (r *Resolver) log() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

// Resolve returns the local path of c's file.
func (r *Resolver) Resolve(ctx context.Context, c coord.Coordinate) (string, error) {
	rel := Path(c)
	dest := filepath.Join(r.Local, filepath.FromSlash(rel))
	if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() {
		return dest, nil
	}
	var errs []error
	for _, base := range r.Remotes {
		err := r.fetch(ctx, base, rel, dest)
		if err == nil {
			r.log().Debug("resolved", zap.Stringer("coord", c), zap.String("remote", base))
			return dest, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	return "", fmt.Errorf("%w: %s: %w", ErrNotFound, c, errors.Join(errs...))
}

// fetch downloads base/rel into dest through a temporary file so a failed
// transfer never leaves a partial file at dest.
func (r *Resolver) fetch(ctx context.Context, base, rel, dest string) error {
	url := strings.TrimRight(base, "/") + "/" + rel
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if r.Username != "" || r.Password != "" {
		req.SetBasicAuth(r.Username, r.Password)
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
