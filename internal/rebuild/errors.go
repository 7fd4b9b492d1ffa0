package rebuild

import (
	"errors"
	"fmt"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// Phase names a step of a rebuild.
type Phase string

const (
	PhaseResolve    Phase = "resolve-project"
	PhaseSourceRoot Phase = "find-source-root"
	PhaseCheckout   Phase = "checkout"
	PhaseStage      Phase = "stage"
	PhaseGraph      Phase = "dependency-graph"
	PhaseBuild      Phase = "build"
)

// ErrNoSource is returned by CheckoutSource when no retriever found source.
// Rebuild treats it as an empty result.
var ErrNoSource = errors.New("rebuild: no source found")

// Error is the fatal error of one rebuild, carrying the failed phase.
type Error struct {
	Coord coord.Coordinate
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rebuild %s: %s: %v", e.Coord, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// BuildError reports a coordinate whose build failed inside a strategy.
type BuildError struct {
	Coord coord.Coordinate
	Err   error
}

func (e *BuildError) Error() string { return fmt.Sprintf("build %s: %v", e.Coord, e.Err) }

func (e *BuildError) Unwrap() error { return e.Err }
