package model

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/graph"
)

// GraphBuilder builds the dependency tree rooted at a project.
type GraphBuilder interface {
	Build(ctx context.Context, p *Project, filter coord.Filter) (*graph.Tree, error)
}

// TreeBuilder expands compile and runtime dependencies transitively.
// Coordinates already expanded elsewhere in the tree appear again as leaves,
// and a coordinate already on the path from the root is skipped.
type TreeBuilder struct {
	Reader Reader
	// MaxDepth limits expansion; zero means unlimited.
	MaxDepth int
	// BuildPlugins adds plugins and build extensions as children of every
	// expanded project.
	BuildPlugins bool
	Log          *zap.Logger
}

var transitiveScopes = map[string]bool{"": true, "compile": true, "runtime": true}

type expansion struct {
	ctx      context.Context
	tree     *graph.Tree
	root     *Project
	filter   coord.Filter
	expanded map[coord.Coordinate]bool
}

// Build returns the tree for p. Nodes the filter rejects are left out along
// with everything below them.
func (b *TreeBuilder) Build(ctx context.Context, p *Project, filter coord.Filter) (*graph.Tree, error) {
	if filter == nil {
		filter = coord.All()
	}
	x := &expansion{
		ctx:      ctx,
		tree:     graph.New(p.Coordinate),
		root:     p,
		filter:   filter,
		expanded: map[coord.Coordinate]bool{p.Coordinate: true},
	}
	if err := b.expand(x, graph.Root, p, nil); err != nil {
		return nil, err
	}
	return x.tree, nil
}

func (b *TreeBuilder) expand(x *expansion, id graph.NodeID, p *Project, excluded []string) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	if b.MaxDepth > 0 && x.tree.Depth(id) >= b.MaxDepth {
		return nil
	}
	type child struct {
		c          coord.Coordinate
		exclusions []string
	}
	var children []child
	for _, d := range p.Dependencies {
		if !transitiveScopes[d.Scope] || (d.Optional && id != graph.Root) {
			continue
		}
		c := d.Coordinate
		if v, ok := x.root.ManagedVersion(c); ok && id != graph.Root {
			c.Version = v
		}
		if c.Version == "" || isExcluded(excluded, c) {
			continue
		}
		children = append(children, child{c, d.Exclusions})
	}
	if b.BuildPlugins {
		for _, c := range p.BuildDependencies {
			if !isExcluded(excluded, c) {
				children = append(children, child{c: c})
			}
		}
	}

	for _, ch := range children {
		if !x.filter.Accept(ch.c) || x.tree.HasAncestor(id, ch.c) {
			continue
		}
		cid := x.tree.AddChild(id, ch.c)
		if x.expanded[ch.c] {
			continue
		}
		x.expanded[ch.c] = true
		dp, err := b.Reader.Read(x.ctx, ch.c)
		if err != nil {
			return fmt.Errorf("expand %s: %w", ch.c, err)
		}
		if err := b.expand(x, cid, dp, append(append([]string(nil), excluded...), ch.exclusions...)); err != nil {
			return err
		}
	}
	if b.Log != nil {
		b.Log.Debug("expanded", zap.Stringer("coord", p.Coordinate), zap.Int("children", len(x.tree.Children(id))))
	}
	return nil
}

func isExcluded(exclusions []string, c coord.Coordinate) bool {
	for _, ex := range exclusions {
		g, a, ok := strings.Cut(ex, ":")
		if !ok {
			a = "*"
		}
		if (g == "*" || g == c.Group) && (a == "*" || a == c.Name) {
			return true
		}
	}
	return false
}
