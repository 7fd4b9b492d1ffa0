// Package priority picks the best strategy for a context. Candidates report a
// priority for a context: small non-negative values rank first and negative
// values mean the candidate cannot handle it.
package priority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrNoCandidate is returned when no candidate handled the context.
var ErrNoCandidate = errors.New("no candidate available")

// ErrAllFailed wraps ErrNoCandidate when at least one candidate returned an
// error, as opposed to every candidate declining.
var ErrAllFailed = fmt.Errorf("%w: candidates failed", ErrNoCandidate)

// Candidate ranks itself for a context of type C.
type Candidate[C any] interface {
	Priority(ctx C) int
}

// Registry holds candidates in registration order. Registration is
// append-only and safe for concurrent use with selection.
type Registry[C any, T Candidate[C]] struct {
	mu    sync.RWMutex
	items []T
}

// New returns a registry seeded with candidates.
func New[C any, T Candidate[C]](candidates ...T) *Registry[C, T] {
	r := &Registry[C, T]{}
	for _, c := range candidates {
		r.Register(c)
	}
	return r
}

// Register appends a candidate.
func (r *Registry[C, T]) Register(c T) {
	r.mu.Lock()
	r.items = append(r.items, c)
	r.mu.Unlock()
}

// Len returns the number of registered candidates.
func (r *Registry[C, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry[C, T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]T(nil), r.items...)
}

// SelectBest returns the candidate with the smallest non-negative priority.
// Candidates are scanned in registration order and a candidate replaces the
// current best when its priority is less than or equal to it, so among equal
// priorities the latest registration wins.
func (r *Registry[C, T]) SelectBest(ctx C) (T, bool) {
	var best T
	bestPriority := -1
	for _, c := range r.snapshot() {
		p := c.Priority(ctx)
		if p < 0 {
			continue
		}
		if bestPriority < 0 || p <= bestPriority {
			best, bestPriority = c, p
		}
	}
	return best, bestPriority >= 0
}

// Ranked returns the candidates that can handle ctx, ordered by ascending
// priority. Each priority is computed once; equal priorities keep
// registration order.
func (r *Registry[C, T]) Ranked(ctx C) []T {
	type ranked struct {
		c T
		p int
	}
	var rs []ranked
	for _, c := range r.snapshot() {
		if p := c.Priority(ctx); p >= 0 {
			rs = append(rs, ranked{c: c, p: p})
		}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].p < rs[j].p })
	out := make([]T, len(rs))
	for i, x := range rs {
		out[i] = x.c
	}
	return out
}

// FirstSuccessful tries candidates strictly in the given order and returns
// the first result try reports as ok. A candidate's error is logged and the
// next candidate is tried.
func FirstSuccessful[T, R any](ctx context.Context, candidates []T, try func(context.Context, T) (R, bool, error), log *zap.Logger) (R, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var zero R
	var lastErr error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		res, ok, err := try(ctx, c)
		if err != nil {
			lastErr = err
			log.Warn("candidate failed, trying next", zap.Int("candidate", i), zap.String("type", fmt.Sprintf("%T", c)), zap.Error(err))
			continue
		}
		if ok {
			return res, nil
		}
	}
	if lastErr != nil {
		return zero, fmt.Errorf("%w: last error: %w", ErrAllFailed, lastErr)
	}
	return zero, ErrNoCandidate
}
