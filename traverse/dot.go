package traverse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteDOT writes g in Graphviz DOT format. label names each node; nodes
// are numbered in Nodes order. Every child occurrence becomes its own edge,
// so call sites to the same target show up as parallel arrows.
func WriteDOT[N comparable](w io.Writer, g Graph[N], name string, label func(N) string) error {
	bw := bufio.NewWriter(w)
	ids := make(map[N]int)

	fmt.Fprintf(bw, "digraph %s {\n", dotQuote(name))
	fmt.Fprintf(bw, "  node [shape=box, style=filled, fillcolor=lightblue];\n")

	for n := range g.Nodes() {
		id := len(ids)
		ids[n] = id
		fmt.Fprintf(bw, "  n%d [label=%s];\n", id, dotQuote(label(n)))
	}

	for n := range g.Nodes() {
		for c := range g.Children(n) {
			to, ok := ids[c]
			if !ok {
				continue
			}
			fmt.Fprintf(bw, "  n%d -> n%d;\n", ids[n], to)
		}
	}

	fmt.Fprintf(bw, "}\n")
	return bw.Flush()
}

// dotEscaper escapes what a DOT double-quoted string cannot hold verbatim.
// Everything else, non-ASCII included, is passed through.
var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func dotQuote(s string) string {
	return `"` + dotEscaper.Replace(s) + `"`
}
