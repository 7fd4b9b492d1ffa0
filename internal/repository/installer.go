package repository

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/objectstore"
)

// DirInstaller installs files into a directory in repository layout and
// optionally mirrors each installed file to an object store.
type DirInstaller struct {
	Root   string
	Mirror objectstore.Store
	// Prefix is prepended to object keys in the mirror.
	Prefix string
	Log    *zap.Logger
}

// Install copies file to c's place under Root.
func (d *DirInstaller) Install(ctx context.Context, file string, c coord.Coordinate) error {
	rel := Path(c)
	dest := filepath.Join(d.Root, filepath.FromSlash(rel))
	if err := copyFile(file, dest); err != nil {
		return fmt.Errorf("install %s: %w", c, err)
	}
	if d.Mirror != nil {
		if err := d.mirror(ctx, dest, path.Join(d.Prefix, rel), c); err != nil {
			return fmt.Errorf("mirror %s: %w", c, err)
		}
	}
	if d.Log != nil {
		d.Log.Debug("installed file", zap.Stringer("coord", c), zap.String("file", dest))
	}
	return nil
}

// mirror uploads file unless an object of the same size is already there.
func (d *DirInstaller) mirror(ctx context.Context, file, key string, c coord.Coordinate) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	size, ok, err := d.Mirror.Size(ctx, key)
	if err != nil {
		return err
	}
	if ok && size == int64(len(data)) {
		return nil
	}
	return d.Mirror.Put(ctx, key, data, contentType(c))
}

// Has reports whether c's file is already in the target directory.
func (d *DirInstaller) Has(_ context.Context, c coord.Coordinate) (bool, error) {
	_, err := os.Stat(filepath.Join(d.Root, filepath.FromSlash(Path(c))))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

func contentType(c coord.Coordinate) string {
	if t := mime.TypeByExtension("." + c.Ext()); t != "" {
		return t
	}
	if c.IsDescriptor() {
		return "application/xml"
	}
	return "application/java-archive"
}

func copyFile(src, dest string) error {
	if abs, err := filepath.Abs(src); err == nil {
		if absDest, err := filepath.Abs(dest); err == nil && abs == absDest {
			return nil
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".install-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
