// Package queue carries rebuild requests between the trigger surfaces and
// the worker.
package queue

import (
	"context"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// Request asks for one coordinate to be rebuilt.
type Request struct {
	Coordinate string `json:"coordinate"`
	EnqueuedAt int64  `json:"enqueued_at,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

// Parse returns the requested coordinate.
func (r Request) Parse() (coord.Coordinate, error) {
	return coord.Parse(r.Coordinate)
}

// Backend defines operations for the queue.
type Backend interface {
	Enqueue(ctx context.Context, req Request) error
	List(ctx context.Context) ([]Request, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Pop(ctx context.Context, max int) ([]Request, error)
}

// Stats summarizes queue depth and oldest item age.
type Stats struct {
	Length    int   `json:"length"`
	OldestAge int64 `json:"oldest_age_seconds"`
}

// Dedupe drops requests for a coordinate already seen, keeping the first.
// Requests that do not parse are kept as is so the caller can report them.
func Dedupe(reqs []Request) []Request {
	seen := make(map[string]bool, len(reqs))
	out := reqs[:0:0]
	for _, r := range reqs {
		key := r.Coordinate
		if c, err := r.Parse(); err == nil {
			key = c.Key()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
