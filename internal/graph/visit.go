package graph

import "github.com/k8ika0s/source-refinery/internal/coord"

// Visitor is called depth first. Visit returning false skips the node's
// children; EndVisit still runs for it.
type Visitor interface {
	Visit(id NodeID) bool
	EndVisit(id NodeID)
}

// VisitorFuncs adapts a pair of optional functions to Visitor.
type VisitorFuncs struct {
	OnVisit    func(id NodeID) bool
	OnEndVisit func(id NodeID)
}

func (v VisitorFuncs) Visit(id NodeID) bool {
	if v.OnVisit == nil {
		return true
	}
	return v.OnVisit(id)
}

func (v VisitorFuncs) EndVisit(id NodeID) {
	if v.OnEndVisit != nil {
		v.OnEndVisit(id)
	}
}

// Walk traverses t from the root.
func Walk(t *Tree, v Visitor) {
	WalkFrom(t, Root, v)
}

// WalkFrom traverses the subtree rooted at id.
func WalkFrom(t *Tree, id NodeID, v Visitor) {
	if v.Visit(id) {
		for _, c := range t.Children(id) {
			WalkFrom(t, c, v)
		}
	}
	v.EndVisit(id)
}

// PostOrderCoordinates returns the distinct coordinates of t recorded on
// EndVisit, so every node's descendants precede it.
func PostOrderCoordinates(t *Tree) []coord.Coordinate {
	seen := make(map[coord.Coordinate]struct{}, t.Len())
	var out []coord.Coordinate
	Walk(t, VisitorFuncs{OnEndVisit: func(id NodeID) {
		c := t.Coordinate(id)
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}})
	return out
}

// Subtree returns the ids of id and all of its descendants in pre-order.
func Subtree(t *Tree, id NodeID) []NodeID {
	var out []NodeID
	WalkFrom(t, id, VisitorFuncs{OnVisit: func(n NodeID) bool {
		out = append(out, n)
		return true
	}})
	return out
}
