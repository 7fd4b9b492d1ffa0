package repository

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

func TestRemoteInstallerDeploysAndChecks(t *testing.T) {
	var mu sync.Mutex
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "deployer" || p != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = body
			w.WriteHeader(http.StatusCreated)
		case http.MethodHead:
			if _, ok := stored[r.URL.Path]; !ok {
				w.WriteHeader(http.StatusNotFound)
			}
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "core.jar")
	require.NoError(t, os.WriteFile(file, []byte("PK"), 0o644))
	c := coord.New("org.acme", "core", "1.0")
	ctx := context.Background()

	r := &RemoteInstaller{BaseURL: srv.URL + "/releases/", Username: "deployer", Password: "pw"}
	has, err := r.Has(ctx, c)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, r.Install(ctx, file, c))
	require.Equal(t, []byte("PK"), stored["/releases/org/acme/core/1.0/core-1.0.jar"])
	has, err = r.Has(ctx, c)
	require.NoError(t, err)
	require.True(t, has)

	anon := &RemoteInstaller{BaseURL: srv.URL}
	require.ErrorContains(t, anon.Install(ctx, file, c), "put status 401")
	_, err = anon.Has(ctx, c)
	require.ErrorContains(t, err, "unexpected status 401")
}

func TestRemoteInstallerWithoutBaseURL(t *testing.T) {
	r := &RemoteInstaller{}
	has, err := r.Has(context.Background(), coord.New("a", "b", "1"))
	require.NoError(t, err)
	require.False(t, has)
	require.Error(t, r.Install(context.Background(), "/nonexistent", coord.New("a", "b", "1")))
}
