// Package source retrieves upstream source trees for a coordinate.
package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/priority"
)

// Request describes where source for a coordinate might be found.
type Request struct {
	Coordinate coord.Coordinate
	// URLs are candidate source locations in preference order, typically
	// the SCM connection, developer connection and URL of the source root.
	URLs []string
	// Tag is the revision the descriptor names, if any.
	Tag string
	// Checksum optionally pins archive downloads, as blake3:<hex>.
	Checksum string
	// Dir is an empty directory owned by the retriever for this request.
	Dir string
}

// Checkout is a retrieved source tree. An empty Location means the
// retriever found nothing.
type Checkout struct {
	Location string
	Dir      string
}

// Found reports whether the checkout holds a source tree.
func (c Checkout) Found() bool { return c.Location != "" }

// Retriever is one way of obtaining source. Priority returns a fixed rank
// for requests the retriever understands and -1 otherwise.
type Retriever interface {
	priority.Candidate[Request]
	Name() string
	Retrieve(ctx context.Context, req Request) (Checkout, error)
}

// Registry ranks retrievers.
type Registry = priority.Registry[Request, Retriever]

// NewRegistry returns a registry holding rs.
func NewRegistry(rs ...Retriever) *Registry {
	return priority.New[Request, Retriever](rs...)
}

// Default registers the git, archive and local retrievers.
func Default(log *zap.Logger) *Registry {
	return NewRegistry(
		&Git{Log: log},
		&Archive{Log: log},
		&Local{},
	)
}

// Retrieve tries each applicable retriever in rank order and returns the
// first checkout that found source.
func Retrieve(ctx context.Context, reg *Registry, req Request, log *zap.Logger) (Checkout, error) {
	return priority.FirstSuccessful(ctx, reg.Ranked(req), func(ctx context.Context, r Retriever) (Checkout, bool, error) {
		co, err := r.Retrieve(ctx, req)
		if err != nil {
			return Checkout{}, false, err
		}
		return co, co.Found(), nil
	}, log)
}
