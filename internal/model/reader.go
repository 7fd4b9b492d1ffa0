package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// maxLineage bounds parent chains so a self-referencing descriptor cannot
// recurse forever.
const maxLineage = 32

// ErrLineageTooDeep is returned when a parent chain exceeds maxLineage or loops.
var ErrLineageTooDeep = errors.New("model: parent chain too deep or cyclic")

// Reader returns the effective project for a coordinate.
type Reader interface {
	Read(ctx context.Context, c coord.Coordinate) (*Project, error)
}

// DescriptorResolver locates the descriptor file for a pom coordinate.
type DescriptorResolver interface {
	Resolve(ctx context.Context, c coord.Coordinate) (string, error)
}

// RepositoryReader reads descriptors through a resolver and caches both the
// parsed descriptors and the effective projects. It is safe for concurrent use.
type RepositoryReader struct {
	Resolver DescriptorResolver
	Log      *zap.Logger

	mu       sync.Mutex
	poms     map[coord.Coordinate]*POM
	projects map[coord.Coordinate]*Project
	files    map[coord.Coordinate]string
}

// NewRepositoryReader returns a reader backed by r.
func NewRepositoryReader(r DescriptorResolver, log *zap.Logger) *RepositoryReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &RepositoryReader{
		Resolver: r,
		Log:      log,
		poms:     make(map[coord.Coordinate]*POM),
		projects: make(map[coord.Coordinate]*Project),
		files:    make(map[coord.Coordinate]string),
	}
}

// Read returns the effective project for c. Only group, name and version of
// c are significant.
func (r *RepositoryReader) Read(ctx context.Context, c coord.Coordinate) (*Project, error) {
	return r.read(ctx, c.Descriptor(), 0)
}

// Ancestors lists c's ancestor descriptors, nearest first.
func (r *RepositoryReader) Ancestors(ctx context.Context, c coord.Coordinate) ([]coord.Coordinate, error) {
	p, err := r.Read(ctx, c)
	if err != nil {
		return nil, err
	}
	return append([]coord.Coordinate(nil), p.Lineage...), nil
}

// ReadFile returns the effective project for a descriptor on disk. A parent
// found through relativePath (default ../pom.xml) is used when its
// coordinate matches the reference; otherwise the parent is read from the
// repository.
func (r *RepositoryReader) ReadFile(ctx context.Context, path string) (*Project, error) {
	return r.readFile(ctx, path, 0)
}

func (r *RepositoryReader) readFile(ctx context.Context, path string, depth int) (*Project, error) {
	if depth > maxLineage {
		return nil, fmt.Errorf("%s: %w", path, ErrLineageTooDeep)
	}
	pom, err := ParsePOMFile(path)
	if err != nil {
		return nil, err
	}
	var parent *Project
	if pc, ok := pom.ParentCoordinate(); ok {
		parent, err = r.localParent(ctx, path, pom.Parent, pc, depth)
		if err != nil {
			return nil, err
		}
	}
	p := effective(pom, parent)
	p.File = path
	if err := r.resolveImports(ctx, p, depth); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *RepositoryReader) localParent(ctx context.Context, path string, ref *ParentRef, pc coord.Coordinate, depth int) (*Project, error) {
	rel := ref.RelativePath
	if rel == "" {
		rel = "../pom.xml"
	}
	candidate := filepath.Join(filepath.Dir(path), filepath.FromSlash(rel))
	if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
		candidate = filepath.Join(candidate, "pom.xml")
	}
	if local, err := ParsePOMFile(candidate); err == nil {
		lc := local.Coordinate()
		if lc.Group == pc.Group && lc.Name == pc.Name && lc.Version == pc.Version {
			return r.readFile(ctx, candidate, depth+1)
		}
	}
	return r.read(ctx, pc, depth+1)
}

func (r *RepositoryReader) read(ctx context.Context, c coord.Coordinate, depth int) (*Project, error) {
	if depth > maxLineage {
		return nil, fmt.Errorf("read %s: %w", c, ErrLineageTooDeep)
	}
	r.mu.Lock()
	if p, ok := r.projects[c]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	pom, file, err := r.descriptor(ctx, c)
	if err != nil {
		return nil, err
	}
	var parent *Project
	if pc, ok := pom.ParentCoordinate(); ok {
		if parent, err = r.read(ctx, pc, depth+1); err != nil {
			return nil, fmt.Errorf("read parent of %s: %w", c, err)
		}
	}
	p := effective(pom, parent)
	p.File = file
	if err := r.resolveImports(ctx, p, depth); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.projects[c]; ok {
		return existing, nil
	}
	r.projects[c] = p
	return p, nil
}

func (r *RepositoryReader) resolveImports(ctx context.Context, p *Project, depth int) error {
	for _, bom := range p.imports {
		bp, err := r.read(ctx, bom, depth+1)
		if err != nil {
			return fmt.Errorf("import %s into %s: %w", bom, p.Coordinate, err)
		}
		p.importManaged(bp)
	}
	p.imports = nil
	return nil
}

func (r *RepositoryReader) descriptor(ctx context.Context, c coord.Coordinate) (*POM, string, error) {
	r.mu.Lock()
	if pom, ok := r.poms[c]; ok {
		file := r.files[c]
		r.mu.Unlock()
		return pom, file, nil
	}
	r.mu.Unlock()

	file, err := r.Resolver.Resolve(ctx, c)
	if err != nil {
		return nil, "", fmt.Errorf("resolve descriptor %s: %w", c, err)
	}
	pom, err := ParsePOMFile(file)
	if err != nil {
		return nil, "", err
	}
	r.Log.Debug("read descriptor", zap.Stringer("coord", c), zap.String("file", file))

	r.mu.Lock()
	r.poms[c] = pom
	r.files[c] = file
	r.mu.Unlock()
	return pom, file, nil
}
