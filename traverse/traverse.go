// Package traverse implements graph algorithms over any structure that can
// name an entry node, enumerate a node's children, and enumerate all of its
// nodes. callgraph.Traits satisfies Graph.
package traverse

import "iter"

// Graph is the capability set the algorithms in this package consume.
type Graph[N comparable] interface {
	// Entry returns the canonical starting node.
	Entry() N

	// Children yields the successors of n. Repeats are allowed.
	Children(n N) iter.Seq[N]

	// Nodes yields every node, reachable or not.
	Nodes() iter.Seq[N]
}

// DFS walks the nodes reachable from g.Entry() in depth-first preorder,
// visiting each node once. Children are explored in the order Children
// yields them. Returning false from visit stops the walk.
func DFS[N comparable](g Graph[N], visit func(N) bool) {
	seen := make(map[N]bool)
	stack := []N{g.Entry()}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		if !visit(n) {
			return
		}

		// Push in reverse so the first child is popped first.
		var children []N
		for c := range g.Children(n) {
			if !seen[c] {
				children = append(children, c)
			}
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// Preorder returns the nodes reachable from the entry in DFS preorder.
func Preorder[N comparable](g Graph[N]) []N {
	var out []N
	DFS(g, func(n N) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Reachable returns the set of nodes reachable from the entry, entry included.
func Reachable[N comparable](g Graph[N]) map[N]bool {
	seen := make(map[N]bool)
	DFS(g, func(n N) bool {
		seen[n] = true
		return true
	})
	return seen
}

// Unreachable returns the nodes that no path from the entry reaches, in
// Nodes order. For a call graph rooted at its synthetic root these are the
// declarations nothing is known to call.
func Unreachable[N comparable](g Graph[N]) []N {
	reached := Reachable(g)
	var out []N
	for n := range g.Nodes() {
		if !reached[n] {
			out = append(out, n)
		}
	}
	return out
}

// HasSelfLoop reports whether n is among its own children.
func HasSelfLoop[N comparable](g Graph[N], n N) bool {
	for c := range g.Children(n) {
		if c == n {
			return true
		}
	}
	return false
}
