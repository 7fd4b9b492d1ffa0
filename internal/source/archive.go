package source

import (
	"archive/tar"
	"archive/zip"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"
	"lukechampine.com/blake3"
)

// ErrChecksumMismatch is returned when a download does not match the
// requested checksum.
var ErrChecksumMismatch = errors.New("source: checksum mismatch")

var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.xz", ".txz", ".tar.zst", ".tzst", ".tar", ".zip"}

func archiveSuffix(u string) string {
	lower := strings.ToLower(u)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return s
		}
	}
	return ""
}

func isArchiveURL(u string) bool {
	u = strings.TrimSpace(u)
	return (strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")) && archiveSuffix(u) != ""
}

// Archive downloads and unpacks source archives.
type Archive struct {
	Client *http.Client
	Log    *zap.Logger
}

func (a *Archive) Name() string { return "archive" }

func (a *Archive) Priority(req Request) int {
	for _, u := range req.URLs {
		if isArchiveURL(u) {
			return 500
		}
	}
	return -1
}

func (a *Archive) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

// Retrieve unpacks the first archive URL of the request. A single
// top-level directory in the archive becomes the checkout root.
func (a *Archive) Retrieve(ctx context.Context, req Request) (Checkout, error) {
	for i, u := range req.URLs {
		if !isArchiveURL(u) {
			continue
		}
		u = strings.TrimSpace(u)
		file := filepath.Join(req.Dir, fmt.Sprintf("download-%d%s", i, archiveSuffix(u)))
		if err := a.download(ctx, u, file, req.Checksum); err != nil {
			return Checkout{}, err
		}
		dest := filepath.Join(req.Dir, fmt.Sprintf("src-%d", i))
		if err := Extract(file, dest); err != nil {
			return Checkout{}, fmt.Errorf("extract %s: %w", u, err)
		}
		_ = os.Remove(file)
		root, err := singleRoot(dest)
		if err != nil {
			return Checkout{}, err
		}
		if a.Log != nil {
			a.Log.Info("unpacked source archive", zap.Stringer("coord", req.Coordinate), zap.String("url", u), zap.String("dir", root))
		}
		return Checkout{Location: u, Dir: root}, nil
	}
	return Checkout{}, nil
}

func (a *Archive) download(ctx context.Context, url, dest, checksum string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(io.MultiWriter(out, h), resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if checksum == "" {
		return nil
	}
	want, ok := strings.CutPrefix(checksum, "blake3:")
	if !ok {
		return fmt.Errorf("unsupported checksum %q", checksum)
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s: got blake3:%s", ErrChecksumMismatch, url, got)
	}
	return nil
}

// Extract unpacks a tar (optionally gzip, xz or zstd compressed) or zip
// archive into dest. Entries escaping dest are rejected.
func Extract(file, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	suffix := archiveSuffix(file)
	if suffix == ".zip" {
		return extractZip(file, dest)
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader = f
	switch suffix {
	case ".tar.gz", ".tgz":
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	case ".tar.xz", ".txz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		r = xr
	case ".tar.zst", ".tzst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	case ".tar":
	default:
		return fmt.Errorf("unsupported archive %s", filepath.Base(file))
	}
	return extractTar(r, dest)
}

func safeJoin(dest, name string) (string, error) {
	p := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes archive root", name)
	}
	return p, nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(p, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(p, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				continue
			}
			target := filepath.Join(filepath.Dir(p), filepath.FromSlash(hdr.Linkname))
			if _, err := safeJoin(dest, mustRel(dest, target)); err != nil {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, p); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return ".."
	}
	return filepath.ToSlash(rel)
}

func extractZip(file, dest string) error {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, zf := range zr.File {
		p, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(p, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeFile(p, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(p string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// singleRoot descends into dir when it holds exactly one directory and
// nothing else.
func singleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
