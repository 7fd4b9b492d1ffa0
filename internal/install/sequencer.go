package install

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// ErrResolution marks every failure of an install sequence. The target
// repository may be left partially populated.
var ErrResolution = errors.New("install: resolution failed")

// Step names the part of a coordinate's install sequence that failed.
type Step string

const (
	StepArtifact   Step = "artifact"
	StepAncestor   Step = "ancestor-descriptor"
	StepDescriptor Step = "descriptor"
)

// Error describes the first failure of an install sequence.
type Error struct {
	Coord coord.Coordinate
	Step  Step
	// Target is the coordinate whose file failed to resolve or install; it
	// differs from Coord for ancestor descriptors.
	Target coord.Coordinate
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("install %s: %s %s: %v", e.Coord, e.Step, e.Target, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrResolution, e.Err} }

// Resolver fetches a coordinate's file from a published repository.
type Resolver interface {
	Resolve(ctx context.Context, c coord.Coordinate) (string, error)
}

// Installer places a file into the target repository under c.
type Installer interface {
	Install(ctx context.Context, file string, c coord.Coordinate) error
}

// Lineage lists the descriptor ancestors of c, nearest first.
type Lineage interface {
	Ancestors(ctx context.Context, c coord.Coordinate) ([]coord.Coordinate, error)
}

// Sequencer installs coordinates one at a time: the coordinate's own file,
// then its ancestor descriptors from nearest to furthest, then its own
// descriptor. Files already built locally are taken from Built instead of
// being resolved.
type Sequencer struct {
	Resolver  Resolver
	Installer Installer
	Lineage   Lineage
	Built     map[coord.Coordinate]string
	Log       *zap.Logger
}

// Install runs the sequence for every coordinate in order and stops at the
// first failure.
func (s *Sequencer) Install(ctx context.Context, toInstall []coord.Coordinate) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	for _, c := range toInstall {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.installOne(ctx, c); err != nil {
			log.Error("install sequence aborted", zap.Stringer("coord", c), zap.Error(err))
			return err
		}
		log.Info("installed", zap.Stringer("coord", c))
	}
	return nil
}

func (s *Sequencer) installOne(ctx context.Context, c coord.Coordinate) error {
	if !c.IsDescriptor() {
		if err := s.place(ctx, c, StepArtifact, c); err != nil {
			return err
		}
	}
	ancestors, err := s.Lineage.Ancestors(ctx, c)
	if err != nil {
		return &Error{Coord: c, Step: StepAncestor, Target: c, Err: err}
	}
	for _, a := range ancestors {
		if err := s.place(ctx, c, StepAncestor, a.Descriptor()); err != nil {
			return err
		}
	}
	return s.place(ctx, c, StepDescriptor, c.Descriptor())
}

func (s *Sequencer) place(ctx context.Context, owner coord.Coordinate, step Step, target coord.Coordinate) error {
	file, ok := s.Built[target]
	if !ok || file == "" {
		var err error
		file, err = s.Resolver.Resolve(ctx, target)
		if err != nil {
			return &Error{Coord: owner, Step: step, Target: target, Err: err}
		}
	}
	if err := s.Installer.Install(ctx, file, target); err != nil {
		return &Error{Coord: owner, Step: step, Target: target, Err: err}
	}
	return nil
}
