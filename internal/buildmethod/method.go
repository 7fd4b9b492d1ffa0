// Package buildmethod detects how a staged source tree is built and runs
// the build.
package buildmethod

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
	"github.com/k8ika0s/source-refinery/internal/priority"
	"github.com/k8ika0s/source-refinery/internal/repository"
	"github.com/k8ika0s/source-refinery/internal/runner"
)

// Capability is a method's guess whether it can build a coordinate.
type Capability int

const (
	No Capability = iota
	Yes
	// Unknown means the method cannot tell; callers try anyway.
	Unknown
)

func (c Capability) String() string {
	switch c {
	case No:
		return "no"
	case Yes:
		return "yes"
	default:
		return "unknown"
	}
}

// Output is a built file. File is empty when the build produced nothing
// usable for the coordinate.
type Output struct {
	Coordinate coord.Coordinate
	File       string
}

// Failure is a build tool run that did not succeed. Output holds what the
// tool printed.
type Failure struct {
	Tool       string
	Coordinate coord.Coordinate
	Output     string
	Err        error
}

func (f *Failure) Error() string { return fmt.Sprintf("%s build %s: %v", f.Tool, f.Coordinate, f.Err) }

func (f *Failure) Unwrap() error { return f.Err }

// Method builds coordinates from a source directory. Priority is evaluated
// against the directory.
type Method interface {
	priority.Candidate[string]
	Name() string
	CanBuild(dir string, c coord.Coordinate) Capability
	Build(ctx context.Context, dir string, c coord.Coordinate, localRepo string) (Output, error)
}

// Registry ranks build methods by directory.
type Registry = priority.Registry[string, Method]

// NewRegistry returns a registry holding ms.
func NewRegistry(ms ...Method) *Registry {
	return priority.New[string, Method](ms...)
}

// Default registers Maven and Gradle, both running through r.
func Default(r runner.Runner, log *zap.Logger) *Registry {
	return NewRegistry(
		&Maven{Runner: r, Log: log},
		&Gradle{Runner: r, Log: log},
	)
}

// localRepoMount is where container runners see the local repository.
const localRepoMount = "/m2/repository"

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// installed returns c's file in the local repository if the build put it there.
func installed(localRepo string, c coord.Coordinate) string {
	if localRepo == "" {
		return ""
	}
	p := filepath.Join(localRepo, filepath.FromSlash(repository.Path(c)))
	if exists(p) {
		return p
	}
	return ""
}
