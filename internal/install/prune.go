// Package install decides which nodes of a dependency graph go into the
// target repository and installs them in an order that tolerates retries.
package install

import (
	"context"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/graph"
)

// Prune splits trees into the part that stays and the coordinates to
// install. A node is installed when selection accepts it or any of its
// ancestors, so installing a node installs its whole subtree. toInstall is
// distinct and ordered deepest first, tree by tree. A tree whose root is
// installed contributes no pruned tree. A nil selection installs everything.
func Prune(trees []*graph.Tree, selection graph.NodeFilter) (pruned []*graph.Tree, toInstall []coord.Coordinate) {
	in := graph.AncestorOrSelf(selection)
	seen := make(map[coord.Coordinate]struct{})
	install := make(map[coord.Coordinate]struct{})
	for _, t := range trees {
		graph.Walk(t, graph.VisitorFuncs{OnEndVisit: func(id graph.NodeID) {
			if !in(t, id) {
				return
			}
			c := t.Coordinate(id)
			install[c] = struct{}{}
			if _, dup := seen[c]; dup {
				return
			}
			seen[c] = struct{}{}
			toInstall = append(toInstall, c)
		}})
	}
	for _, t := range trees {
		if p := rebuildWithout(t, install); p != nil {
			pruned = append(pruned, p)
		}
	}
	return pruned, toInstall
}

// rebuildWithout copies t, dropping every node whose coordinate is in drop
// together with its subtree.
func rebuildWithout(t *graph.Tree, drop map[coord.Coordinate]struct{}) *graph.Tree {
	if _, ok := drop[t.RootCoordinate()]; ok {
		return nil
	}
	out := graph.New(t.RootCoordinate())
	var copyChildren func(src, dst graph.NodeID)
	copyChildren = func(src, dst graph.NodeID) {
		for _, child := range t.Children(src) {
			c := t.Coordinate(child)
			if _, ok := drop[c]; ok {
				continue
			}
			copyChildren(child, out.AddChild(dst, c))
		}
	}
	copyChildren(graph.Root, graph.Root)
	return out
}

// Availability reports whether a coordinate is already in the target repository.
type Availability interface {
	Has(ctx context.Context, c coord.Coordinate) (bool, error)
}

// Missing selects nodes whose coordinate is not yet available. Lookup
// errors count as missing so the installer gets a chance to surface them.
func Missing(ctx context.Context, avail Availability) graph.NodeFilter {
	memo := make(map[coord.Coordinate]bool)
	return func(t *graph.Tree, id graph.NodeID) bool {
		c := t.Coordinate(id)
		if missing, ok := memo[c]; ok {
			return missing
		}
		has, err := avail.Has(ctx, c)
		missing := err != nil || !has
		memo[c] = missing
		return missing
	}
}
