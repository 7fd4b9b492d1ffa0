package graph

import "github.com/k8ika0s/source-refinery/internal/coord"

// NodeFilter is a predicate over a node that may consult its ancestors.
type NodeFilter func(t *Tree, id NodeID) bool

// AcceptAll accepts every node.
func AcceptAll(*Tree, NodeID) bool { return true }

// ByCoordinate lifts a coordinate filter to nodes.
func ByCoordinate(f coord.Filter) NodeFilter {
	return func(t *Tree, id NodeID) bool { return f.Accept(t.Coordinate(id)) }
}

// MinDepth accepts nodes at depth n or deeper.
func MinDepth(n int) NodeFilter {
	return func(t *Tree, id NodeID) bool { return t.Depth(id) >= n }
}

// AncestorOrSelf accepts a node when f accepts it or any of its ancestors.
// A nil f accepts everything.
func AncestorOrSelf(f NodeFilter) NodeFilter {
	if f == nil {
		return AcceptAll
	}
	return func(t *Tree, id NodeID) bool {
		if f(t, id) {
			return true
		}
		for _, a := range t.Ancestors(id) {
			if f(t, a) {
				return true
			}
		}
		return false
	}
}

// Select returns the ids accepted by f, in pre-order.
func Select(t *Tree, f NodeFilter) []NodeID {
	if f == nil {
		f = AcceptAll
	}
	var out []NodeID
	Walk(t, VisitorFuncs{OnVisit: func(id NodeID) bool {
		if f(t, id) {
			out = append(out, id)
		}
		return true
	}})
	return out
}
