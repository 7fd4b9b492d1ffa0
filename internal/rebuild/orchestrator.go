// Package rebuild drives one coordinate from its descriptor to built
// outputs: find the source root, retrieve and stage the source, detect the
// build method and build bottom-up.
package rebuild

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/buildmethod"
	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/graph"
	"github.com/k8ika0s/source-refinery/internal/model"
	"github.com/k8ika0s/source-refinery/internal/priority"
	"github.com/k8ika0s/source-refinery/internal/source"
	"github.com/k8ika0s/source-refinery/internal/workcopy"
)

// Session holds the directories of one rebuild. WorkDir receives the
// staged working copy and CheckoutDir is scratch space for retrievers.
// Sessions are passed by pointer and never copied.
type Session struct {
	WorkDir     string
	CheckoutDir string
	TargetRepo  string
	LocalRepo   string
}

// Result describes a finished rebuild. Empty Outputs with a nil error means
// there was nothing to build.
type Result struct {
	Coordinate coord.Coordinate
	// Root is the coordinate of the project that declares the source location.
	Root    coord.Coordinate
	Origin  string
	WorkDir string
	Method  string
	Outputs []buildmethod.Output
	Graph   *graph.Tree
}

// Built maps each output coordinate to its file.
func (r *Result) Built() map[coord.Coordinate]string {
	out := make(map[coord.Coordinate]string, len(r.Outputs))
	for _, o := range r.Outputs {
		out[o.Coordinate] = o.File
	}
	return out
}

// Orchestrator runs rebuilds. Its registries are shared and append-only; the
// working-copy cache only ever grows. Concurrent rebuilds must use distinct
// session work directories.
type Orchestrator struct {
	Projects   model.Reader
	Graphs     model.GraphBuilder
	Sources    *source.Registry
	Methods    *buildmethod.Registry
	Strategies *StrategyRegistry
	// Filter limits the dependency graph; nil keeps everything.
	Filter      coord.Filter
	CopyOptions []workcopy.Option
	Log         *zap.Logger

	mu     sync.Mutex
	copies map[copyKey]*workcopy.WorkingCopy
}

// copyKey identifies a working copy staged for one requested coordinate in
// one work directory.
type copyKey struct {
	coord coord.Coordinate
	dir   string
}

func (o *Orchestrator) log() *zap.Logger {
	if o.Log != nil {
		return o.Log
	}
	return zap.NewNop()
}

func (o *Orchestrator) strategies() *StrategyRegistry {
	if o.Strategies != nil {
		return o.Strategies
	}
	return DefaultStrategies()
}

// Rebuild runs every phase for c. The returned error is an *Error.
func (o *Orchestrator) Rebuild(ctx context.Context, c coord.Coordinate, sess *Session) (*Result, error) {
	log := o.log().With(zap.Stringer("coord", c))
	res := &Result{Coordinate: c}

	project, err := o.Projects.Read(ctx, c)
	if err != nil {
		return nil, &Error{Coord: c, Phase: PhaseResolve, Err: err}
	}
	root, err := o.FindSourceRoot(ctx, project)
	if err != nil {
		return nil, &Error{Coord: c, Phase: PhaseSourceRoot, Err: err}
	}
	if root == nil {
		log.Info("no source location declared, nothing to build")
		return res, nil
	}
	res.Root = root.Coordinate

	wc, err := o.CheckoutSource(ctx, c, root, sess)
	if errors.Is(err, ErrNoSource) {
		log.Info("no retriever found source, nothing to build", zap.Stringer("root", root.Coordinate))
		return res, nil
	}
	if err != nil {
		return nil, withCoord(err, c)
	}
	res.Origin, res.WorkDir = wc.Origin(), wc.Dir()

	method, ok := o.Methods.SelectBest(wc.Dir())
	if !ok {
		log.Info("no build method detected, nothing to build", zap.String("dir", wc.Dir()))
		return res, nil
	}
	res.Method = method.Name()

	if o.Graphs != nil {
		tree, err := o.Graphs.Build(ctx, project, o.Filter)
		if err != nil {
			return nil, &Error{Coord: c, Phase: PhaseGraph, Err: err}
		}
		res.Graph = tree
	}

	plan := Plan{Root: c, Graph: res.Graph, Dir: wc.Dir(), Method: method, LocalRepo: sess.LocalRepo}
	strategy, ok := o.strategies().SelectBest(plan)
	if !ok {
		strategy = RootOnly{}
	}
	log.Info("building", zap.String("method", method.Name()), zap.String("strategy", strategy.Name()), zap.String("dir", wc.Dir()))
	outputs, err := strategy.Build(ctx, plan, log)
	if err != nil {
		return nil, &Error{Coord: c, Phase: PhaseBuild, Err: err}
	}
	for _, out := range outputs {
		if out.File == "" {
			log.Warn("build produced no file, dropping output", zap.Stringer("output", out.Coordinate))
			continue
		}
		res.Outputs = append(res.Outputs, out)
	}
	return res, nil
}

// withCoord reattributes a checkout error to the requested coordinate.
func withCoord(err error, c coord.Coordinate) error {
	var re *Error
	if errors.As(err, &re) {
		return &Error{Coord: c, Phase: re.Phase, Err: re.Err}
	}
	return &Error{Coord: c, Phase: PhaseCheckout, Err: err}
}

// FindSourceRoot returns the nearest project, p included, whose own
// descriptor declares a source location. It returns nil when none does.
func (o *Orchestrator) FindSourceRoot(ctx context.Context, p *model.Project) (*model.Project, error) {
	if p.DeclaresSCM {
		return p, nil
	}
	for _, a := range p.Lineage {
		ap, err := o.Projects.Read(ctx, a)
		if err != nil {
			return nil, err
		}
		if ap.DeclaresSCM {
			return ap, nil
		}
	}
	return nil, nil
}

// CheckoutSource returns the working copy of root's source staged for c in
// sess.WorkDir. A copy cached for c and that directory, or already present
// there, is reused after its work branch is checked out and cleaned;
// otherwise the ranked retrievers are tried and the first checkout found is
// staged into sess.WorkDir.
func (o *Orchestrator) CheckoutSource(ctx context.Context, c coord.Coordinate, root *model.Project, sess *Session) (*workcopy.WorkingCopy, error) {
	key := copyKey{coord: c, dir: sess.WorkDir}
	if wc := o.cached(key); wc != nil {
		if err := wc.Initialize(wc.Origin()); err != nil {
			return nil, &Error{Coord: c, Phase: PhaseStage, Err: err}
		}
		o.log().Debug("reusing cached working copy", zap.Stringer("coord", c), zap.String("dir", wc.Dir()))
		return wc, nil
	}
	opts := append([]workcopy.Option{workcopy.WithLogger(o.log())}, o.CopyOptions...)
	if workcopy.Exists(sess.WorkDir) {
		wc, err := workcopy.Open(sess.WorkDir, opts...)
		if err != nil {
			return nil, &Error{Coord: c, Phase: PhaseStage, Err: err}
		}
		o.log().Info("reusing working copy", zap.Stringer("coord", c), zap.String("dir", sess.WorkDir))
		return o.remember(key, wc), nil
	}

	req := source.Request{Coordinate: root.Coordinate, URLs: sourceURLs(root.SCM), Dir: sess.CheckoutDir}
	if root.SCM != nil {
		req.Tag = root.SCM.Tag
	}
	co, err := source.Retrieve(ctx, o.Sources, req, o.log())
	switch {
	case errors.Is(err, priority.ErrAllFailed):
		return nil, &Error{Coord: c, Phase: PhaseCheckout, Err: err}
	case errors.Is(err, priority.ErrNoCandidate):
		return nil, &Error{Coord: c, Phase: PhaseCheckout, Err: ErrNoSource}
	case err != nil:
		return nil, &Error{Coord: c, Phase: PhaseCheckout, Err: err}
	}
	o.log().Info("retrieved source", zap.Stringer("coord", c), zap.Stringer("root", root.Coordinate), zap.String("location", co.Location), zap.String("dir", co.Dir))

	wc, err := workcopy.Stage(co.Dir, sess.WorkDir, co.Location, opts...)
	if err != nil {
		return nil, &Error{Coord: c, Phase: PhaseStage, Err: err}
	}
	return o.remember(key, wc), nil
}

func (o *Orchestrator) cached(k copyKey) *workcopy.WorkingCopy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copies[k]
}

// remember inserts wc unless another copy for k got there first.
func (o *Orchestrator) remember(k copyKey, wc *workcopy.WorkingCopy) *workcopy.WorkingCopy {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.copies == nil {
		o.copies = make(map[copyKey]*workcopy.WorkingCopy)
	}
	if existing, ok := o.copies[k]; ok {
		return existing
	}
	o.copies[k] = wc
	return wc
}

// sourceURLs lists the SCM locations in preference order, without duplicates.
func sourceURLs(scm *model.SCM) []string {
	if scm == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, u := range []string{scm.Connection, scm.DeveloperConnection, scm.URL} {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
