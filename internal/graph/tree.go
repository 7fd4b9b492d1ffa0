// Package graph models dependency trees as arenas: nodes live in one slice
// and refer to their parent and children by index, so a tree is acyclic by
// construction and safe to share read-only between goroutines.
package graph

import (
	"fmt"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// NodeID indexes a node within its Tree.
type NodeID int

// Root is the id of every tree's root node.
const Root NodeID = 0

// None marks the absent parent of the root.
const None NodeID = -1

type node struct {
	coord    coord.Coordinate
	parent   NodeID
	children []NodeID
}

// Tree is a dependency tree rooted at Root.
type Tree struct {
	nodes []node
}

// New creates a tree holding only its root.
func New(root coord.Coordinate) *Tree {
	return &Tree{nodes: []node{{coord: root, parent: None}}}
}

// AddChild appends a child under parent and returns its id.
func (t *Tree) AddChild(parent NodeID, c coord.Coordinate) NodeID {
	t.check(parent)
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{coord: c, parent: parent})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id
}

func (t *Tree) check(id NodeID) {
	if id < 0 || int(id) >= len(t.nodes) {
		panic(fmt.Sprintf("graph: node %d out of range [0,%d)", id, len(t.nodes)))
	}
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// RootCoordinate returns the root's coordinate.
func (t *Tree) RootCoordinate() coord.Coordinate { return t.nodes[Root].coord }

// Coordinate returns the coordinate stored at id.
func (t *Tree) Coordinate(id NodeID) coord.Coordinate {
	t.check(id)
	return t.nodes[id].coord
}

// Parent returns the parent of id; ok is false for the root.
func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	t.check(id)
	p := t.nodes[id].parent
	return p, p != None
}

// Children returns the ordered children of id. The slice must not be modified.
func (t *Tree) Children(id NodeID) []NodeID {
	t.check(id)
	return t.nodes[id].children
}

// Depth is 0 for the root.
func (t *Tree) Depth(id NodeID) int {
	d := 0
	for p, ok := t.Parent(id); ok; p, ok = t.Parent(p) {
		d++
	}
	return d
}

// Ancestors lists the ancestors of id, nearest first.
func (t *Tree) Ancestors(id NodeID) []NodeID {
	var out []NodeID
	for p, ok := t.Parent(id); ok; p, ok = t.Parent(p) {
		out = append(out, p)
	}
	return out
}

// HasAncestor reports whether c appears on the path from id to the root,
// including id itself.
func (t *Tree) HasAncestor(id NodeID, c coord.Coordinate) bool {
	if t.Coordinate(id) == c {
		return true
	}
	for _, a := range t.Ancestors(id) {
		if t.nodes[a].coord == c {
			return true
		}
	}
	return false
}

// Coordinates returns every node's coordinate in pre-order, duplicates kept.
func (t *Tree) Coordinates() []coord.Coordinate {
	var out []coord.Coordinate
	Walk(t, VisitorFuncs{OnVisit: func(id NodeID) bool {
		out = append(out, t.Coordinate(id))
		return true
	}})
	return out
}
