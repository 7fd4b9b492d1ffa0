package rebuild

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/buildmethod"
	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/graph"
	"github.com/k8ika0s/source-refinery/internal/priority"
)

// Plan is everything a strategy needs to build a staged tree.
type Plan struct {
	Root coord.Coordinate
	// Graph is the dependency tree rooted at Root, or nil.
	Graph     *graph.Tree
	Dir       string
	Method    buildmethod.Method
	LocalRepo string
}

// Strategy builds the coordinates of a plan.
type Strategy interface {
	priority.Candidate[Plan]
	Name() string
	Build(ctx context.Context, plan Plan, log *zap.Logger) ([]buildmethod.Output, error)
}

// StrategyRegistry ranks strategies by plan.
type StrategyRegistry = priority.Registry[Plan, Strategy]

// DefaultStrategies registers BottomUp and RootOnly.
func DefaultStrategies() *StrategyRegistry {
	return priority.New[Plan, Strategy](BottomUp{}, RootOnly{})
}

// RootOnly builds just the root coordinate.
type RootOnly struct{}

func (RootOnly) Name() string      { return "root-only" }
func (RootOnly) Priority(Plan) int { return 1000 }

func (RootOnly) Build(ctx context.Context, plan Plan, log *zap.Logger) ([]buildmethod.Output, error) {
	out, err := plan.Method.Build(ctx, plan.Dir, plan.Root, plan.LocalRepo)
	if err != nil {
		return nil, &BuildError{Coord: plan.Root, Err: err}
	}
	return []buildmethod.Output{out}, nil
}

// BottomUp builds every distinct coordinate of the dependency graph that
// the method may be able to build, leaves before their parents, and the
// root last. A failed build does not stop its siblings, but any coordinate
// whose subtree holds a failure is skipped, so the root fails with the first
// failure.
type BottomUp struct{}

func (BottomUp) Name() string { return "bottom-up" }

func (BottomUp) Priority(p Plan) int {
	if p.Graph == nil {
		return -1
	}
	return 100
}

func (BottomUp) Build(ctx context.Context, plan Plan, log *zap.Logger) ([]buildmethod.Output, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := plan.Graph
	nodes := make(map[coord.Coordinate][]graph.NodeID)
	for id := graph.NodeID(0); int(id) < t.Len(); id++ {
		c := t.Coordinate(id)
		nodes[c] = append(nodes[c], id)
	}
	failed := make(map[coord.Coordinate]bool)
	var first error
	dependencyFailed := func(c coord.Coordinate) bool {
		for _, id := range nodes[c] {
			for _, d := range graph.Subtree(t, id) {
				if d != id && failed[t.Coordinate(d)] {
					return true
				}
			}
		}
		return false
	}

	var outputs []buildmethod.Output
	for _, c := range graph.PostOrderCoordinates(t) {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		isRoot := c == t.RootCoordinate()
		if dependencyFailed(c) {
			failed[c] = true
			log.Warn("skipping build, a dependency failed", zap.Stringer("coord", c))
			continue
		}
		if !isRoot {
			capability := plan.Method.CanBuild(plan.Dir, c)
			if capability == buildmethod.No {
				continue
			}
			log.Debug("building dependency", zap.Stringer("coord", c), zap.Stringer("capability", capability))
		}
		out, err := plan.Method.Build(ctx, plan.Dir, c, plan.LocalRepo)
		if err != nil {
			failed[c] = true
			if first == nil {
				first = &BuildError{Coord: c, Err: err}
			}
			log.Error("build failed", zap.Stringer("coord", c), zap.Error(err))
			continue
		}
		outputs = append(outputs, out)
	}
	if failed[t.RootCoordinate()] {
		return outputs, fmt.Errorf("root %s not built: %w", t.RootCoordinate(), first)
	}
	return outputs, nil
}
