package traverse

// SCC returns the strongly connected components of g using Tarjan's
// algorithm, considering every node from Nodes (not only those reachable
// from the entry). Components come out in reverse topological order: a
// component is emitted after every component it can reach.
//
// The walk keeps its own stack of frames so deep call chains cannot
// overflow the goroutine stack.
func SCC[N comparable](g Graph[N]) [][]N {
	index := 0
	nodeIndex := make(map[N]int)
	lowLink := make(map[N]int)
	onStack := make(map[N]bool)
	var stack []N
	var sccs [][]N

	type frame struct {
		node     N
		children []N
		next     int
	}

	childrenOf := func(n N) []N {
		var out []N
		for c := range g.Children(n) {
			out = append(out, c)
		}
		return out
	}

	for start := range g.Nodes() {
		if _, visited := nodeIndex[start]; visited {
			continue
		}

		nodeIndex[start] = index
		lowLink[start] = index
		index++
		stack = append(stack, start)
		onStack[start] = true
		frames := []frame{{node: start, children: childrenOf(start)}}

		for len(frames) > 0 {
			top := &frames[len(frames)-1]

			if top.next < len(top.children) {
				c := top.children[top.next]
				top.next++
				if _, visited := nodeIndex[c]; !visited {
					nodeIndex[c] = index
					lowLink[c] = index
					index++
					stack = append(stack, c)
					onStack[c] = true
					frames = append(frames, frame{node: c, children: childrenOf(c)})
				} else if onStack[c] && nodeIndex[c] < lowLink[top.node] {
					lowLink[top.node] = nodeIndex[c]
				}
				continue
			}

			n := top.node
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].node
				if lowLink[n] < lowLink[parent] {
					lowLink[parent] = lowLink[n]
				}
			}

			if lowLink[n] == nodeIndex[n] {
				var comp []N
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == n {
						break
					}
				}
				sccs = append(sccs, comp)
			}
		}
	}
	return sccs
}

// Cycles returns the components of SCC that describe recursion: those with
// more than one node, and single nodes that call themselves.
func Cycles[N comparable](g Graph[N]) [][]N {
	var out [][]N
	for _, comp := range SCC(g) {
		if len(comp) > 1 || HasSelfLoop(g, comp[0]) {
			out = append(out, comp)
		}
	}
	return out
}
