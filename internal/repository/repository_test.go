package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/objectstore"
)

func TestPath(t *testing.T) {
	cases := map[string]string{
		"org.acme:core:1.0":             "org/acme/core/1.0/core-1.0.jar",
		"org.acme:core:pom:1.0":         "org/acme/core/1.0/core-1.0.pom",
		"org.acme:core:jar:sources:1.0": "org/acme/core/1.0/core-1.0-sources.jar",
		"org.acme:plug:maven-plugin:2":  "org/acme/plug/2/plug-2.jar",
		"io.x:web:war:3.1":              "io/x/web/3.1/web-3.1.war",
	}
	for in, want := range cases {
		require.Equal(t, want, Path(coord.MustParse(in)), in)
	}
}

func TestResolverLocalThenRemotes(t *testing.T) {
	var hits atomic.Int32
	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if user, pass, _ := r.BasicAuth(); user != "u" || pass != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/repo/org/acme/core/1.0/core-1.0.jar" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("jar-bytes"))
	}))
	defer remote.Close()

	local := t.TempDir()
	r := &Resolver{Local: local, Remotes: []string{missing.URL, remote.URL + "/repo/"}, Username: "u", Password: "p", Log: zaptest.NewLogger(t)}
	c := coord.New("org.acme", "core", "1.0")
	file, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(local, "org", "acme", "core", "1.0", "core-1.0.jar"), file)
	body, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "jar-bytes", string(body))

	// second resolution is served from the cache
	_, err = r.Resolve(context.Background(), c)
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load())

	_, err = r.Resolve(context.Background(), coord.New("org.acme", "absent", "1"))
	require.ErrorIs(t, err, ErrNotFound)
	entries, err := os.ReadDir(filepath.Join(local, "org", "acme"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "failed downloads leave no files behind")
}

func TestResolverWithoutRemotes(t *testing.T) {
	_, err := (&Resolver{Local: t.TempDir()}).Resolve(context.Background(), coord.New("a", "b", "1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDirInstallerInstallsAndMirrors(t *testing.T) {
	src := filepath.Join(t.TempDir(), "built.jar")
	require.NoError(t, os.WriteFile(src, []byte("PK"), 0o644))
	mirror := objectstore.NewMemoryStore()
	d := &DirInstaller{Root: t.TempDir(), Mirror: mirror, Prefix: "maven"}
	c := coord.New("org.acme", "core", "1.0")

	has, err := d.Has(context.Background(), c)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, d.Install(context.Background(), src, c))
	has, err = d.Has(context.Background(), c)
	require.NoError(t, err)
	require.True(t, has)

	require.Equal(t, []string{"maven/org/acme/core/1.0/core-1.0.jar"}, mirror.Keys())
	obj, _ := mirror.Get("maven/org/acme/core/1.0/core-1.0.jar")
	require.Equal(t, "PK", string(obj.Data))

	// reinstalling from the installed location is a no-op
	installed := filepath.Join(d.Root, "org", "acme", "core", "1.0", "core-1.0.jar")
	require.NoError(t, d.Install(context.Background(), installed, c))

	// a mirrored object of another size is replaced
	require.NoError(t, mirror.Put(context.Background(), "maven/org/acme/core/1.0/core-1.0.jar", []byte("old!"), ""))
	require.NoError(t, d.Install(context.Background(), src, c))
	obj, _ = mirror.Get("maven/org/acme/core/1.0/core-1.0.jar")
	require.Equal(t, "PK", string(obj.Data))

	err = d.Install(context.Background(), filepath.Join(t.TempDir(), "missing"), c.Descriptor())
	require.Error(t, err)
}
