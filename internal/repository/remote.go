package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// RemoteInstaller deploys files to a remote repository with HTTP PUT, the
// way deploy plugins do, and checks presence with HEAD.
type RemoteInstaller struct {
	BaseURL  string
	Username string
	Password string
	Client   *http.Client
	Log      *zap.Logger
}

func (r *RemoteInstaller) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (r *RemoteInstaller) url(c coord.Coordinate) string {
	return strings.TrimRight(r.BaseURL, "/") + "/" + Path(c)
}

func (r *RemoteInstaller) request(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if r.Username != "" || r.Password != "" {
		req.SetBasicAuth(r.Username, r.Password)
	}
	return r.client().Do(req)
}

// Install uploads file as c.
func (r *RemoteInstaller) Install(ctx context.Context, file string, c coord.Coordinate) error {
	if r.BaseURL == "" {
		return fmt.Errorf("install %s: missing base URL", c)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("install %s: %w", c, err)
	}
	url := r.url(c)
	resp, err := r.request(ctx, http.MethodPut, url, data)
	if err != nil {
		return fmt.Errorf("install %s: %w", c, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		return fmt.Errorf("install %s: put status %d", c, resp.StatusCode)
	}
	if r.Log != nil {
		r.Log.Debug("deployed file", zap.Stringer("coord", c), zap.String("url", url))
	}
	return nil
}

// Has reports whether c is already present in the remote repository.
func (r *RemoteInstaller) Has(ctx context.Context, c coord.Coordinate) (bool, error) {
	if r.BaseURL == "" {
		return false, nil
	}
	url := r.url(c)
	resp, err := r.request(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("remote repository unexpected status %d for %s", resp.StatusCode, url)
	}
}
