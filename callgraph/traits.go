package callgraph

import "iter"

// Traits exposes a Graph through the entry / children / node-set contract
// used by generic graph algorithms (see package traverse). It holds no state
// besides the graph and the entry node.
type Traits struct {
	g     *Graph
	entry Node
}

// Traits returns an adapter whose entry node is the root.
func (g *Graph) Traits() Traits {
	return Traits{g: g, entry: g.Root()}
}

// TraitsAt returns an adapter whose entry node is n. n must belong to g.
func (g *Graph) TraitsAt(n Node) Traits {
	if n.g != g {
		n = g.Root()
	}
	return Traits{g: g, entry: n}
}

// Entry returns the canonical starting node.
func (t Traits) Entry() Node {
	return t.entry
}

// Children yields the targets of n's call edges. The root's children are
// exactly the externally reachable nodes.
func (t Traits) Children(n Node) iter.Seq[Node] {
	return n.Callees()
}

// Nodes yields every node regardless of reachability, root first.
func (t Traits) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		if !yield(t.g.Root()) {
			return
		}
		for n := range t.g.Nodes() {
			if !yield(n) {
				return
			}
		}
	}
}

// Len returns the number of declaration nodes, excluding the root.
func (t Traits) Len() int {
	return t.g.Len()
}
