package callgraph

import (
	"fmt"
	"iter"
)

// Kind tells the root apart from declaration nodes.
type Kind int

const (
	// KindInvalid is the kind of the zero Node.
	KindInvalid Kind = iota

	// KindRoot is the synthetic root. It has no declaration.
	KindRoot

	// KindDecl is a node wrapping a declaration.
	KindDecl
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindDecl:
		return "decl"
	default:
		return "invalid"
	}
}

// rootName is how the root prints.
const rootName = "< root >"

// Node is a handle to a vertex of a Graph. Nodes are comparable and can be
// used as map keys; two handles are equal iff they denote the same vertex.
type Node struct {
	g  *Graph
	id NodeID
}

// Valid reports whether n refers to a vertex.
func (n Node) Valid() bool {
	return n.g != nil && n.id >= 0 && int(n.id) < len(n.g.nodes)
}

// ID returns the arena index of n.
func (n Node) ID() NodeID {
	return n.id
}

// Kind returns whether n is the root or a declaration node.
func (n Node) Kind() Kind {
	switch {
	case !n.Valid():
		return KindInvalid
	case n.id == RootID:
		return KindRoot
	default:
		return KindDecl
	}
}

// IsRoot reports whether n is the synthetic root.
func (n Node) IsRoot() bool {
	return n.Kind() == KindRoot
}

// Decl returns the declaration owned by n. It returns false for the root.
func (n Node) Decl() (Decl, bool) {
	if n.Kind() != KindDecl {
		return nil, false
	}
	return n.g.nodes[n.id].decl, true
}

// Name returns the declaration name, or "< root >" for the root.
func (n Node) Name() string {
	switch n.Kind() {
	case KindRoot:
		return rootName
	case KindDecl:
		return n.g.nodes[n.id].decl.Name()
	default:
		return "<invalid>"
	}
}

// String implements fmt.Stringer.
func (n Node) String() string {
	return n.Name()
}

// AddCallee appends an edge n -> callee. Edges are not deduplicated, so each
// call site may contribute its own edge, and callee may be n itself.
// Both nodes must come from the same graph. The root is the exception: an
// edge from the root is a root link and is added at most once, as with
// Graph.LinkFromRoot.
func (n Node) AddCallee(callee Node) error {
	if !n.Valid() {
		return fmt.Errorf("%w: caller", ErrInvalidNode)
	}
	if !callee.Valid() {
		return fmt.Errorf("%w: callee", ErrInvalidNode)
	}
	if n.g != callee.g {
		return fmt.Errorf("%w: %s -> %s", ErrForeignNode, n.Name(), callee.Name())
	}
	if n.id == RootID {
		if callee.id != RootID {
			n.g.linkFromRoot(callee.id)
		}
		return nil
	}
	e := &n.g.nodes[n.id]
	e.callees = append(e.callees, callee.id)
	return nil
}

// Callees yields the targets of n's outgoing edges in insertion order.
// A target called from several sites appears once per site.
func (n Node) Callees() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		if !n.Valid() {
			return
		}
		for _, id := range n.g.nodes[n.id].callees {
			if !yield(Node{g: n.g, id: id}) {
				return
			}
		}
	}
}

// Len returns the number of outgoing edges.
func (n Node) Len() int {
	if !n.Valid() {
		return 0
	}
	return len(n.g.nodes[n.id].callees)
}

// Empty reports whether n calls nothing.
func (n Node) Empty() bool {
	return n.Len() == 0
}
